package stream

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/camera"
	"go.viam.com/depthcloud/depth"
)

var (
	// ErrBusClosed is returned for operations on a closed bus.
	ErrBusClosed = errors.New("bus is closed")
	// ErrSubscriberExists is returned when a subscriber id is already taken.
	ErrSubscriberExists = errors.New("subscriber id already registered")
	// ErrSubscriberNotFound is returned when a subscriber id is unknown.
	ErrSubscriberNotFound = errors.New("subscriber id not found")
)

// FrameReading pairs one depth frame with the calibration in effect when
// it was captured.
type FrameReading struct {
	Frame *depth.Frame
	Calib camera.Intrinsics
}

// Bus fans depth readings out to subscribers without ever blocking the
// camera. Every subscriber gets a bounded queue; when a queue is full the
// oldest reading is discarded in favor of the new one, keeping delivery
// close to the live stream.
type Bus struct {
	mu        sync.RWMutex
	queueSize int
	subs      map[string]chan FrameReading
	dropped   atomic.Uint64
	closed    bool
}

// NewBus returns a bus whose subscriber queues hold queueSize readings.
// Sizes below one fall back to DefaultQueueSize.
func NewBus(queueSize int) *Bus {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		subs:      map[string]chan FrameReading{},
	}
}

// Subscribe registers id and returns its reading queue. The channel
// closes when the subscriber is removed or the bus closes.
func (b *Bus) Subscribe(id string) (<-chan FrameReading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subs[id]; ok {
		return nil, errors.Wrapf(ErrSubscriberExists, "id %q", id)
	}
	ch := make(chan FrameReading, b.queueSize)
	b.subs[id] = ch
	return ch, nil
}

// Unsubscribe removes id and closes its queue.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	ch, ok := b.subs[id]
	if !ok {
		return errors.Wrapf(ErrSubscriberNotFound, "id %q", id)
	}
	delete(b.subs, id)
	close(ch)
	return nil
}

// Publish delivers the reading to every subscriber queue without
// blocking. Full queues lose their oldest reading first.
func (b *Bus) Publish(reading FrameReading) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- reading:
			continue
		default:
		}
		select {
		case <-ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case ch <- reading:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many readings were discarded to keep queues fresh.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber queue. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
