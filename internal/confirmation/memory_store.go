package confirmation

import (
	"context"
	"sync"

	"github.com/angelmondragon/otcsettle/pkg/enums"
	"github.com/angelmondragon/otcsettle/pkg/keylock"
)

// MemoryStore keeps slots in process. Compound operations on one actor are
// serialised by a striped lock; different actors do not contend.
type MemoryStore struct {
	locks *keylock.Striped
	slots sync.Map // actor id -> Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: keylock.New(0)}
}

func (m *MemoryStore) Put(_ context.Context, req Request) error {
	unlock := m.locks.Lock(req.ActorID)
	defer unlock()
	m.slots.Store(req.ActorID, req)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, actorID string) (*Request, error) {
	v, ok := m.slots.Load(actorID)
	if !ok {
		return nil, nil
	}
	req := v.(Request)
	return &req, nil
}

func (m *MemoryStore) Take(_ context.Context, actorID string, kind enums.OperationKind, fingerprint string) (bool, error) {
	unlock := m.locks.Lock(actorID)
	defer unlock()
	v, ok := m.slots.Load(actorID)
	if !ok || !v.(Request).matches(kind, fingerprint) {
		return false, nil
	}
	m.slots.Delete(actorID)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, actorID string) error {
	unlock := m.locks.Lock(actorID)
	defer unlock()
	m.slots.Delete(actorID)
	return nil
}
