package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
	"lifesignal-escalation/internal/service"
)

// ScanRunner 扫描触发入口（由 service.EscalationService 实现）
type ScanRunner interface {
	RunScan(ctx context.Context, opts service.ScanOptions) (*service.ScanSummary, error)
}

// ProfileSyncer 联系人资料同步入口
type ProfileSyncer interface {
	SyncProfile(ctx context.Context, contactUID string, profile *models.ContactProfile) (int64, error)
}

// EscalationHandler 漏打卡扫描 HTTP 接口
type EscalationHandler struct {
	scans  ScanRunner
	sync   ProfileSyncer
	logger *zap.Logger
}

func NewEscalationHandler(scans ScanRunner, sync ProfileSyncer, logger *zap.Logger) *EscalationHandler {
	return &EscalationHandler{
		scans:  scans,
		sync:   sync,
		logger: logger,
	}
}

// Scan triggers one scan pass. The scheduler hits the same code path,
// so a manual curl and a cron tick behave identically.
func (h *EscalationHandler) Scan(w http.ResponseWriter, r *http.Request) {
	cooldownMin := parseInt(r.URL.Query().Get("cooldownMin"), 10)

	summary, err := h.scans.RunScan(r.Context(), service.ScanOptions{CooldownMin: cooldownMin})
	if err != nil {
		h.logger.Error("Escalation scan failed",
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"processed":         summary.Processed,
		"telnyxCallsQueued": summary.TelnyxCallsQueued,
		"escalationsQueued": summary.EscalationsQueued,
		"dueEscProcessed":   summary.DueEscProcessed,
	})
}

// SyncContactProfile pushes a contact's profile edits out to all links.
func (h *EscalationHandler) SyncContactProfile(w http.ResponseWriter, r *http.Request, contactUID string) {
	var profile models.ContactProfile
	if err := readBodyJSON(r, 1<<20, &profile); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":    false,
			"error": "invalid JSON body",
		})
		return
	}

	n, err := h.sync.SyncProfile(r.Context(), contactUID, &profile)
	if err != nil {
		h.logger.Error("Contact profile sync failed",
			zap.String("contact_uid", contactUID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"linksUpdated": n,
	})
}

// Healthz liveness probe.
func (h *EscalationHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
