package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// RecoveryStateStore keeps recovery state in process memory with a TTL.
type RecoveryStateStore struct {
	mu     sync.Mutex
	states map[string]entry[model.RecoveryState]
	now    func() time.Time
}

var _ model.RecoveryStateStore = (*RecoveryStateStore)(nil)

func NewRecoveryStateStore() *RecoveryStateStore {
	return &RecoveryStateStore{states: make(map[string]entry[model.RecoveryState]), now: time.Now}
}

func (r *RecoveryStateStore) GetRecoveryState(_ context.Context, phone string) (model.RecoveryState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.states[phone]
	if !ok || !r.now().Before(e.expiresAt) {
		delete(r.states, phone)
		return model.RecoveryNotStarted, nil
	}
	return e.value, nil
}

func (r *RecoveryStateStore) SetRecoveryState(_ context.Context, phone string, state model.RecoveryState, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[phone] = entry[model.RecoveryState]{value: state, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *RecoveryStateStore) ClearRecoveryState(_ context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, phone)
	return nil
}

// DenyList is the in-process SessionDenyList.
type DenyList struct {
	mu     sync.Mutex
	denied map[string]time.Time
	now    func() time.Time
}

var _ model.SessionDenyList = (*DenyList)(nil)

func NewDenyList() *DenyList {
	return &DenyList{denied: make(map[string]time.Time), now: time.Now}
}

func (d *DenyList) DenySessions(_ context.Context, sessionIDs []string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	until := d.now().Add(ttl)
	for _, id := range sessionIDs {
		d.denied[id] = until
	}
	return nil
}

func (d *DenyList) IsDenied(_ context.Context, sessionID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.denied[sessionID]
	if !ok {
		return false, nil
	}
	if !d.now().Before(until) {
		delete(d.denied, sessionID)
		return false, nil
	}
	return true, nil
}
