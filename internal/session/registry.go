package session

import (
	"sync"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/outbox"
)

// live is one session hosted by this process.
type live struct {
	state *State
	proc  *Processor
	// directory serialises live directory writes off the processor goroutine.
	directory *outbox.Outbox

	mu      sync.Mutex
	summary *models.SessionSummary
	// persisted is false when the summary could not be written to the store;
	// the entry is then kept so the summary stays queryable.
	persisted bool
}

func (l *live) finalSummary() (*models.SessionSummary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary, l.persisted
}

// Registry holds the sessions hosted by this process (thread-safe).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*live
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*live)}
}

func (r *Registry) add(id string, l *live) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = l
}

func (r *Registry) get(id string) *live {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) all() []*live {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*live, 0, len(r.sessions))
	for _, l := range r.sessions {
		out = append(out, l)
	}
	return out
}

// Len returns the number of hosted sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
