package stream

import "sync"

// Registry tracks the media streams currently connected, keyed by stream SID.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

func (r *Registry) add(sid string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = s
}

func (r *Registry) remove(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
}

// Len reports the number of active streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
