package session

import (
	"sort"
	"sync"
	"time"
)

// Registry owns the active sessions keyed by meeting id. The table lock only
// guards lookups; per-meeting work runs under each session's own lock.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	batchSize int
	now       func() time.Time
}

// NewRegistry builds a registry whose sessions trigger insights every batchSize segments.
func NewRegistry(batchSize int) *Registry {
	return &Registry{sessions: make(map[string]*Session), batchSize: batchSize, now: time.Now}
}

// Open registers a new session for meetingID or fails with ErrAlreadyActive.
func (r *Registry) Open(meetingID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[meetingID]; ok {
		return nil, ErrAlreadyActive
	}
	sess := newSession(meetingID, r.batchSize, r.now())
	r.sessions[meetingID] = sess
	return sess, nil
}

// Get returns the session registered for meetingID.
func (r *Registry) Get(meetingID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Close deregisters meetingID. Absent ids are ignored.
func (r *Registry) Close(meetingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, meetingID)
}

// Active lists the registered meeting ids in lexical order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
