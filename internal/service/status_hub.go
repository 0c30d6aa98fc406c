package service

import (
	"sync"

	"whatslog/internal/constants"
	"whatslog/internal/models"
)

// StatusHub fans instance state changes out to per-account subscribers.
// Slow subscribers miss intermediate states; the latest state always wins on
// the next publish.
type StatusHub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan models.InstanceState]struct{}
	bufferSize  int
}

func NewStatusHub() *StatusHub {
	return &StatusHub{
		subscribers: make(map[string]map[chan models.InstanceState]struct{}),
		bufferSize:  constants.StatusSubscriberBufferSize,
	}
}

// Subscribe registers a listener for accountID. The returned cancel function
// must be called to release it; it closes the channel.
func (h *StatusHub) Subscribe(accountID string) (<-chan models.InstanceState, func()) {
	ch := make(chan models.InstanceState, h.bufferSize)

	h.mu.Lock()
	subs, ok := h.subscribers[accountID]
	if !ok {
		subs = make(map[chan models.InstanceState]struct{})
		h.subscribers[accountID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subscribers[accountID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.subscribers, accountID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers state to every subscriber of accountID without blocking.
func (h *StatusHub) Publish(accountID string, state models.InstanceState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers[accountID] {
		select {
		case ch <- state:
		default:
			// Drop the oldest queued state to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of listeners for accountID.
func (h *StatusHub) SubscriberCount(accountID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[accountID])
}
