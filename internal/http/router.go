package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterEscalationRoutes 注册漏打卡升级路由
func (r *Router) RegisterEscalationRoutes(e *EscalationHandler, wh *WebhookHandler) {
	// scan (GET for ops curl, POST for schedulers)
	r.Handle("/api/v1/escalation/scan", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		e.Scan(w, req)
	})

	// telnyx call events
	r.Handle("/api/v1/webhooks/telnyx", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		wh.Telnyx(w, req)
	})

	// contacts/{uid}/sync-profile
	r.Handle("/api/v1/contacts/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/contacts/")
		uid, action, ok := strings.Cut(rest, "/")
		if !ok || uid == "" || action != "sync-profile" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		e.SyncContactProfile(w, req, uid)
	})

	r.Handle("/healthz", e.Healthz)
}
