package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	"github.com/noah-isme/fintrack-api/pkg/jobs"
)

type auditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditSink is what the auth components write audit events to.
type auditSink interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

const auditWriteTimeout = 5 * time.Second

// AuditService writes audit events. Delivery failures are logged and never
// surface to the caller. In async mode a single worker preserves event order;
// an event that cannot be queued in time is dropped rather than written out of
// order, and inline writes resume only once the queue has drained.
type AuditService struct {
	store          auditStore
	clock          clock.Clock
	logger         *zap.Logger
	enqueueTimeout time.Duration

	mu      sync.RWMutex
	queue   *jobs.Queue
	running bool
}

// NewAuditService constructs a synchronous AuditService.
func NewAuditService(store auditStore, clk clock.Clock, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{store: store, clock: clock.OrReal(clk), logger: logger, enqueueTimeout: auditWriteTimeout}
}

// EnableAsync routes events through an ordered in-memory queue. Call before Start.
func (s *AuditService) EnableAsync(bufferSize int) {
	s.queue = jobs.NewQueue("audit", s.deliver, jobs.QueueConfig{
		Workers:    1,
		BufferSize: bufferSize,
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
		Logger:     s.logger,
	})
}

// Start launches the async worker, if any. Cancelling ctx does not discard
// queued events; Stop drains them.
func (s *AuditService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil || s.running {
		return
	}
	s.queue.Start(context.WithoutCancel(ctx))
	s.running = true
}

// Stop drains pending events until ctx ends. Events recorded while Stop runs
// wait for it and are then written inline.
func (s *AuditService) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil || !s.running {
		return
	}
	s.queue.Stop(ctx)
	s.running = false
}

// Record stores entry, filling in its id and timestamp.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}

	if s.enqueue(ctx, entry) {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := s.store.CreateAuditLog(writeCtx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

// enqueue hands entry to the async worker. It reports false when the service
// is synchronous or stopped and the caller should write inline.
func (s *AuditService) enqueue(ctx context.Context, entry *models.AuditLog) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return false
	}

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.enqueueTimeout)
	defer cancel()
	job := jobs.Job{ID: entry.ID, Type: entry.Action, Payload: entry, Enqueued: entry.CreatedAt}
	if err := s.queue.EnqueueContext(enqueueCtx, job); err != nil {
		s.logger.Error("audit event dropped",
			zap.String("action", entry.Action),
			zap.String("audit_id", entry.ID),
			zap.Error(err))
	}
	return true
}

func (s *AuditService) deliver(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	return s.store.CreateAuditLog(writeCtx, entry)
}

// auditEntry builds an audit row. Empty ids are stored as NULL.
func auditEntry(action, resource, userID, resourceID string, meta models.RequestMeta, success bool, detail string) *models.AuditLog {
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Success:   success,
		Detail:    detail,
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return entry
}
