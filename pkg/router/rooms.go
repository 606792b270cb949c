package router

import "sync"

// rooms is the conversation-id -> connection-set index.
type rooms struct {
	mu sync.Mutex
	m  map[string]map[string]struct{}
}

func newRooms() *rooms {
	return &rooms{m: make(map[string]map[string]struct{})}
}

func (r *rooms) join(conversationID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.m[conversationID]
	if !ok {
		set = make(map[string]struct{})
		r.m[conversationID] = set
	}
	set[connectionID] = struct{}{}
}

func (r *rooms) leave(conversationID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.m[conversationID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.m, conversationID)
		}
	}
}

func (r *rooms) drop(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for convID, set := range r.m {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.m, convID)
		}
	}
}

func (r *rooms) members(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.m[conversationID]
	out := make([]string, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}
