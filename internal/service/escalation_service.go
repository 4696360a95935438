package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"lifesignal-escalation/internal/config"
	"lifesignal-escalation/internal/evaluator"
	"lifesignal-escalation/internal/notify"
	"lifesignal-escalation/internal/repository"
)

// ErrTelnyxNotConfigured hard precondition for running a scan: without
// an API key every call placement would fail, so the whole pass refuses
// to start instead of half-running.
var ErrTelnyxNotConfigured = errors.New("TELNYX_API_KEY is not set")

// ScanOptions per-invocation scan parameters.
// CooldownMin is accepted and carried through for a future per-user
// rate limit; no current step reads it.
type ScanOptions struct {
	CooldownMin int
}

// ScanSummary one scan pass's outcome.
type ScanSummary struct {
	Processed         []string `json:"processed"`
	TelnyxCallsQueued int      `json:"telnyxCallsQueued"`
	EscalationsQueued int      `json:"escalationsQueued"`
	DueEscProcessed   int      `json:"dueEscProcessed"`
}

// EscalationService 漏打卡升级服务（整合各层)
type EscalationService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	users    repository.UsersRepository
	contacts repository.ContactsRepository
	devices  repository.DevicesRepository

	telnyx     *notify.TelnyxClient
	dispatcher *notify.Dispatcher
	evaluator  *evaluator.Evaluator

	contactSync *ContactSyncService
}

// NewEscalationService 创建升级服务
func NewEscalationService(cfg *config.Config, logger *zap.Logger) (*EscalationService, error) {
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	usersRepo := repository.NewPostgresUsersRepository(db, logger)
	contactsRepo := repository.NewPostgresContactsRepository(db, logger)
	devicesRepo := repository.NewPostgresDevicesRepository(db, logger)

	tokenCache := notify.NewTokenCache(
		redisClient,
		time.Duration(cfg.Scan.TokenCacheTTL)*time.Second,
		logger,
	)
	fcmClient := notify.NewFCMClient(cfg.FCM.Endpoint, cfg.FCM.ServerKey, logger)
	telnyxClient := notify.NewTelnyxClient(cfg.Telnyx, logger)

	dispatcher := notify.NewDispatcher(devicesRepo, tokenCache, fcmClient, telnyxClient, logger)
	eval := evaluator.NewEvaluator(contactsRepo, dispatcher, logger)

	return &EscalationService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
		users:       usersRepo,
		contacts:    contactsRepo,
		devices:     devicesRepo,
		telnyx:      telnyxClient,
		dispatcher:  dispatcher,
		evaluator:   eval,
		contactSync: NewContactSyncService(contactsRepo, logger),
	}, nil
}

// ContactSync 联系人资料同步子服务
func (s *EscalationService) ContactSync() *ContactSyncService {
	return s.contactSync
}

// RunScan one full idempotent pass over all overdue users. Per-user
// failures are logged and skipped; the pass itself only fails on the
// Telnyx precondition or on the initial user query.
func (s *EscalationService) RunScan(ctx context.Context, opts ScanOptions) (*ScanSummary, error) {
	if !s.telnyx.Configured() {
		return nil, ErrTelnyxNotConfigured
	}

	scanID := uuid.NewString()
	started := time.Now()

	s.logger.Info("Escalation scan started",
		zap.String("scan_id", scanID),
		zap.Int("page_size", s.config.Scan.PageSize),
		zap.Int("cooldown_min", opts.CooldownMin),
	)

	users, err := s.users.FindDueUsers(ctx, s.config.Scan.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query due users: %w", err)
	}

	summary := &ScanSummary{Processed: []string{}}
	now := time.Now()

	for _, u := range users {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		res, err := s.evaluator.EvaluateUser(ctx, now, u)
		if err != nil {
			s.logger.Error("Failed to evaluate user",
				zap.String("scan_id", scanID),
				zap.String("user_id", u.UserID),
				zap.Error(err),
			)
			continue
		}
		if res == nil || len(res.Updates) == 0 {
			continue
		}

		if err := s.users.PatchUser(ctx, u.UserID, res.Updates); err != nil {
			s.logger.Error("Failed to persist escalation state",
				zap.String("scan_id", scanID),
				zap.String("user_id", u.UserID),
				zap.Error(err),
			)
			continue
		}

		summary.Processed = append(summary.Processed, u.UserID)
		summary.TelnyxCallsQueued += res.CallsQueued
		summary.EscalationsQueued += res.CallsQueued
	}

	s.logger.Info("Escalation scan completed",
		zap.String("scan_id", scanID),
		zap.Int("due_users", len(users)),
		zap.Int("processed", len(summary.Processed)),
		zap.Int("calls_queued", summary.TelnyxCallsQueued),
		zap.Duration("duration", time.Since(started)),
	)

	return summary, nil
}

// AcknowledgeEscalation records that an emergency contact confirmed the
// alert (DTMF "1" on the outbound call).
func (s *EscalationService) AcknowledgeEscalation(ctx context.Context, mainUserUID string) error {
	return s.users.PatchUser(ctx, mainUserUID, map[string]any{
		"last_escalation_acknowledged_at": time.Now(),
	})
}

// SpeakOnCall plays the alert script on an answered call.
func (s *EscalationService) SpeakOnCall(ctx context.Context, callControlID string) error {
	return s.telnyx.Speak(ctx, callControlID)
}

// Start 启动定时扫描（轮询模式）
func (s *EscalationService) Start(ctx context.Context) error {
	s.logger.Info("Escalation scan loop started",
		zap.Int("interval_min", s.config.Scan.IntervalMin),
	)

	ticker := time.NewTicker(time.Duration(s.config.Scan.IntervalMin) * time.Minute)
	defer ticker.Stop()

	// 立即执行一次
	if _, err := s.RunScan(ctx, ScanOptions{}); err != nil {
		s.logger.Error("Failed to run scan on startup",
			zap.Error(err),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Escalation scan loop stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunScan(ctx, ScanOptions{}); err != nil {
				s.logger.Error("Failed to run scan",
					zap.Error(err),
				)
				// 继续执行，不中断
			}
		}
	}
}

// Stop 停止服务
func (s *EscalationService) Stop() error {
	s.logger.Info("Stopping escalation service")

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}
