package ws

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/metrics"
	"bonecraft.ai/internal/protocol"
)

// Hub fans market events out to feed subscribers. A subscriber whose
// queue is full is dropped rather than slowing the publisher.
type Hub struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan []byte
	closed bool
}

func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{log: logger.WithField("component", "feed"), subs: map[uint64]chan []byte{}}
}

// Publish implements market.Notifier.
func (h *Hub) Publish(ev protocol.MarketEventMsg) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("encode market event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, out := range h.subs {
		select {
		case out <- b:
		default:
			h.log.WithField("subscriber", id).Warn("dropping slow feed client")
			h.removeLocked(id)
		}
	}
}

func (h *Hub) Subscribe(queue int) (uint64, <-chan []byte) {
	if queue <= 0 {
		queue = 16
	}
	out := make(chan []byte, queue)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(out)
		return 0, out
	}
	h.nextID++
	h.subs[h.nextID] = out
	metrics.FeedClients(1)
	return h.nextID, out
}

func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id uint64) {
	out, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(out)
	metrics.FeedClients(-1)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.subs {
		h.removeLocked(id)
	}
}
