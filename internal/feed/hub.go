package feed

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

// ErrTooManySubscribers is returned by Subscribe when MaxSubscribers are
// already attached.
var ErrTooManySubscribers = errors.New("too many feed subscribers")

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 16

// Hub distributes updates to every subscriber. A subscriber that is not
// keeping up misses updates rather than stalling the others.
type Hub struct {
	MaxSubscribers int // 0 means unlimited

	updates chan Update
	subs    map[uint64]chan Update
	subsMu  sync.RWMutex
	nextID  atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// HubStats reports hub counters.
type HubStats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
	Running     bool   `json:"running"`
}

// NewHub returns a stopped Hub.
func NewHub() *Hub {
	return &Hub{
		updates: make(chan Update, 100),
		subs:    make(map[uint64]chan Update),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the broadcast loop. Calling Start twice is a no-op.
func (h *Hub) Start() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop ends the broadcast loop and closes every subscriber channel.
func (h *Hub) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	close(h.stopCh)
	h.wg.Wait()

	h.subsMu.Lock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.subsMu.Unlock()
}

// Publish queues u for delivery. It never blocks; updates published while
// the hub is stopped or its queue is full are dropped.
func (h *Hub) Publish(u Update) {
	if !h.running.Load() {
		return
	}
	select {
	case h.updates <- u:
		h.published.Add(1)
	default:
		dropped := h.dropped.Add(1)
		monitoring.Logf("[feed] update queue full, dropped (total dropped: %d)", dropped)
	}
}

// Subscribe registers a subscriber with the given queue length (0 means
// DefaultSubscriberBuffer). The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Update, func(), error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	h.subsMu.Lock()
	if h.MaxSubscribers > 0 && len(h.subs) >= h.MaxSubscribers {
		h.subsMu.Unlock()
		return nil, nil, ErrTooManySubscribers
	}
	id := h.nextID.Add(1)
	ch := make(chan Update, buffer)
	h.subs[id] = ch
	n := len(h.subs)
	h.subsMu.Unlock()

	monitoring.Logf("[feed] subscriber %d connected (total: %d)", id, n)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subsMu.Lock()
			if c, ok := h.subs[id]; ok {
				close(c)
				delete(h.subs, id)
			}
			n := len(h.subs)
			h.subsMu.Unlock()
			monitoring.Logf("[feed] subscriber %d disconnected (remaining: %d)", id, n)
		})
	}
	return ch, cancel, nil
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	h.subsMu.RLock()
	n := len(h.subs)
	h.subsMu.RUnlock()
	return HubStats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: n,
		Running:     h.running.Load(),
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCh:
			return
		case u := <-h.updates:
			h.subsMu.RLock()
			for _, ch := range h.subs {
				select {
				case ch <- u:
				default:
					h.dropped.Add(1)
				}
			}
			h.subsMu.RUnlock()
		}
	}
}
