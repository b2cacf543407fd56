// Package audit appends security events. Recording never fails the caller:
// every sink error is logged and dropped.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

const defaultTimeout = 3 * time.Second

// Sink is a secondary destination for audit events.
type Sink interface {
	Name() string
	Write(ctx context.Context, event *model.AuditEvent) error
}

type Recorder struct {
	primary model.AuditRepository
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	pending sync.WaitGroup
}

func NewRecorder(primary model.AuditRepository, timeout time.Duration, logger *zap.Logger, sinks ...Sink) *Recorder {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Recorder{
		primary: primary,
		sinks:   sinks,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Record persists event to the datastore and returns once that insert
// finishes or the recorder timeout expires. Secondary sinks are written in
// the background under their own timeout; Flush waits for them. All writes
// are detached from ctx cancellation so an aborted request still leaves its
// trail.
func (r *Recorder) Record(ctx context.Context, event model.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}
	detached := context.WithoutCancel(ctx)

	if len(r.sinks) > 0 {
		r.pending.Add(1)
		go r.fanOut(detached, event)
	}

	pctx, cancel := context.WithTimeout(detached, r.timeout)
	defer cancel()
	if err := r.primary.InsertEvent(pctx, &event); err != nil {
		r.logger.Error("Failed to persist audit event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

func (r *Recorder) fanOut(ctx context.Context, event model.AuditEvent) {
	defer r.pending.Done()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range r.sinks {
		g.Go(func() error {
			if err := sink.Write(ctx, &event); err != nil {
				r.logger.Warn("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", string(event.Type)),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Flush blocks until every in-flight sink write has finished or ctx is done.
// Call it before closing the sink clients.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
