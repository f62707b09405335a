package telegram

import (
	"sync"

	"github.com/ambotlabs/ambot/internal/storage"
)

// conversionFlow is the transient state of a user picking type and
// quality for a title they sent.
type conversionFlow struct {
	Title string
	Kind  storage.JobKind
}

// flowStore keeps in-flight conversion flows per user.
type flowStore struct {
	mu    sync.RWMutex
	flows map[int64]*conversionFlow
}

func newFlowStore() *flowStore {
	return &flowStore{flows: make(map[int64]*conversionFlow)}
}

// Begin starts a fresh flow for a title, replacing any previous one.
func (fs *flowStore) Begin(userID int64, title string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.flows[userID] = &conversionFlow{Title: title}
}

// Get returns the user's current flow, or nil.
func (fs *flowStore) Get(userID int64) *conversionFlow {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.flows[userID]
}

// SetKind records the chosen output kind.
func (fs *flowStore) SetKind(userID int64, kind storage.JobKind) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.flows[userID]; ok {
		f.Kind = kind
	}
}

// Clear drops the user's flow.
func (fs *flowStore) Clear(userID int64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.flows, userID)
}
