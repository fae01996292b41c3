package store

import (
	"context"
	"errors"

	"github.com/sasha-s/go-deadlock"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("user record not found")

// UserRecord is one end-user's persisted state. It is a schemaless
// document: well-known fields have accessors, everything else is reached
// by dot-path.
type UserRecord map[string]any

// ID returns the stable identity of the user.
func (u UserRecord) ID() string {
	id, _ := u["id"].(string)
	return id
}

// Service returns the channel the user belongs to (the record's "type").
func (u UserRecord) Service() string {
	s, _ := u["type"].(string)
	return s
}

// BotDisabled reports whether the bot has been switched off for this
// user. Routing is a no-op while it is set.
func (u UserRecord) BotDisabled() bool {
	return Truthy(u["bot_disabled"])
}

// Session returns the free-form session bag, or nil if none exists yet.
func (u UserRecord) Session() map[string]any {
	s, _ := u["session"].(map[string]any)
	return s
}

// CompletedStages returns the URIs the user has already satisfied.
func (u UserRecord) CompletedStages() []string {
	session := u.Session()
	if session == nil {
		return nil
	}

	var out []string
	switch v := session["completed-stages"].(type) {
	case []string:
		out = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// HasCompleted reports whether uri is recorded in completed-stages.
func (u UserRecord) HasCompleted(uri string) bool {
	for _, c := range u.CompletedStages() {
		if c == uri {
			return true
		}
	}
	return false
}

// Pick resolves a dot-path against the record.
func (u UserRecord) Pick(path string) (any, bool) {
	return Pick(u, path)
}

// Clone returns a deep copy of the record.
func (u UserRecord) Clone() UserRecord {
	return UserRecord(deepCopy(map[string]any(u)).(map[string]any))
}

// UserStore is the persistence contract the engine depends on.
//
// Update applies each key of fields as an independent dot-path write and
// returns the record after the merge. A record is created on first
// Update; unnamed fields are never touched.
type UserStore interface {
	Get(ctx context.Context, id string) (UserRecord, error)
	Update(ctx context.Context, id string, fields map[string]any) (UserRecord, error)
}

// MemoryStore is a threadsafe in-memory UserStore.
type MemoryStore struct {
	mu   deadlock.RWMutex
	data map[string]UserRecord
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]UserRecord)}
}

// Get retrieves a copy of the record for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (UserRecord, error) {
	if id == "" {
		return nil, errors.New("id cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Update applies the dot-path writes to the record for id, creating the
// record if it does not exist, and returns a copy of the result.
func (s *MemoryStore) Update(ctx context.Context, id string, fields map[string]any) (UserRecord, error) {
	if id == "" {
		return nil, errors.New("id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data[id]
	if !ok {
		record = UserRecord{"id": id}
		s.data[id] = record
	}

	for path, value := range fields {
		Assign(record, path, value)
	}

	return record.Clone(), nil
}

// Seed replaces the record for id wholesale. Intended for tests and
// bootstrap, not for turn-time mutation.
func (s *MemoryStore) Seed(id string, record UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := record.Clone()
	if clone == nil {
		clone = UserRecord{}
	}
	clone["id"] = id
	s.data[id] = clone
}
