package sse

import "sync"

// Hub fans notification payloads out to the open event streams of a user.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(userID int64) (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[chan []byte]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[userID]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, userID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers payload to every stream of the given users. Slow
// subscribers miss the event instead of blocking the sender.
func (h *Hub) Broadcast(userIDs []int64, payload []byte) {
	if len(userIDs) == 0 {
		return
	}
	unique := map[int64]struct{}{}
	for _, id := range userIDs {
		if id == 0 {
			continue
		}
		unique[id] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range unique {
		for ch := range h.subs[id] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Subscribers counts the open streams of a user.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
