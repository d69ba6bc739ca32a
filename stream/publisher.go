package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcloud/camera"
	"go.viam.com/depthcloud/depth"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/projection"
)

// Publisher consumes depth readings from a bus while at least one cloud
// subscriber is attached. Each reading is validated, the engine prepared
// for its geometry, and the projected cloud fanned out to subscribers.
// With no subscribers attached the publisher is idle and readings pass
// it by untouched.
type Publisher struct {
	mu     sync.Mutex
	cfg    Config
	logger golog.Logger
	bus    *Bus
	engine *projection.Engine
	model  *camera.Model

	busID string
	subs  map[string]chan *pointcloud.Cloud
	drops atomic.Uint64

	activeBackgroundWorkers sync.WaitGroup
	shutdownCtxCancel       func()

	active bool
	closed bool
	err    error
}

// NewPublisher wires a bus to a projection engine. Consumption starts
// with the first subscriber and stops with the last. The caller keeps
// ownership of both the bus and the engine.
func NewPublisher(bus *Bus, engine *projection.Engine, cfg Config, logger golog.Logger) *Publisher {
	if logger == nil {
		logger = golog.Global()
	}
	return &Publisher{
		cfg:    cfg.WithDefaults(),
		logger: logger,
		bus:    bus,
		engine: engine,
		model:  &camera.Model{},
		busID:  "publisher-" + uuid.NewString(),
		subs:   map[string]chan *pointcloud.Cloud{},
	}
}

// Subscription is one attached consumer of projected clouds.
type Subscription struct {
	id  string
	ch  chan *pointcloud.Cloud
	pub *Publisher
}

// Clouds returns the subscription's queue. It closes when the
// subscription is closed or the stream dies.
func (s *Subscription) Clouds() <-chan *pointcloud.Cloud {
	return s.ch
}

// Close detaches the subscription. Closing the last one deactivates
// consumption from the bus.
func (s *Subscription) Close() {
	s.pub.unsubscribe(s.id)
}

// Stream attaches a new subscriber, activating consumption on the first
// one. Once the stream has died it returns the error that killed it.
func (p *Publisher) Stream() (*Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("publisher is closed")
	}
	if p.err != nil {
		return nil, p.err
	}
	if !p.active {
		if err := p.activateLocked(); err != nil {
			return nil, err
		}
	}
	sub := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan *pointcloud.Cloud, p.cfg.QueueSize),
		pub: p,
	}
	p.subs[sub.id] = sub.ch
	return sub, nil
}

func (p *Publisher) activateLocked() error {
	readings, err := p.bus.Subscribe(p.busID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.shutdownCtxCancel = cancel
	p.active = true
	p.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		p.consumeReadings(ctx, readings)
	}, p.activeBackgroundWorkers.Done)
	p.logger.Debugw("depth stream activated", "queue_size", p.cfg.QueueSize)
	return nil
}

func (p *Publisher) consumeReadings(ctx context.Context, readings <-chan FrameReading) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-readings:
			if !ok {
				return
			}
			cloud, err := p.handleReading(reading)
			if err != nil {
				if isTerminal(err) {
					p.logger.Errorw("stopping depth stream", "error", err)
					p.die(err)
					return
				}
				p.drops.Add(1)
				p.logger.Errorw("dropping depth reading", "error", err)
				continue
			}
			p.publish(cloud)
		}
	}
}

// handleReading projects one reading. Failures scoped to the reading
// itself (bad encoding, missing calibration, sample count drift) drop
// it; setup failures and device loss kill the stream.
func (p *Publisher) handleReading(reading FrameReading) (*pointcloud.Cloud, error) {
	frame := reading.Frame
	if frame == nil {
		return nil, errors.New("reading carries no frame")
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if err := p.model.Update(reading.Calib); err != nil {
		return nil, err
	}
	tf, err := p.model.Transform()
	if err != nil {
		return nil, err
	}
	md, err := depth.MetadataForFrame(frame, p.cfg.MaxDepth)
	if err != nil {
		return nil, err
	}
	if err := p.engine.Prepare(md, tf); err != nil {
		return nil, err
	}
	cloud, err := p.engine.Project(frame)
	if err != nil {
		return nil, err
	}
	cloud.FrameID = p.cfg.FrameID
	return cloud, nil
}

// isTerminal reports whether the stream cannot continue past err.
func isTerminal(err error) bool {
	if errors.Is(err, projection.ErrUnsupportedBackend) {
		return true
	}
	var setupErr *projection.SetupError
	if errors.As(err, &setupErr) {
		return true
	}
	var projErr *projection.ProjectionError
	if errors.As(err, &projErr) {
		return projErr.BackendLost
	}
	return false
}

func (p *Publisher) publish(cloud *pointcloud.Cloud) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- cloud:
		default:
			p.logger.Debugw("dropping cloud for slow subscriber", "subscriber", id)
		}
	}
}

// die records the terminal error, detaches from the bus, and closes all
// subscriber queues so consumers see end of stream. The bus detach comes
// first so that once a consumer observes the end, the publisher is fully
// gone from the bus.
func (p *Publisher) die(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	wasActive := p.active
	alreadyClosed := p.closed
	p.active = false
	if p.shutdownCtxCancel != nil {
		p.shutdownCtxCancel()
	}
	if wasActive && !alreadyClosed {
		goutils.UncheckedError(p.bus.Unsubscribe(p.busID))
	}
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}

func (p *Publisher) unsubscribe(id string) {
	p.mu.Lock()
	ch, ok := p.subs[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.subs, id)
	close(ch)
	deactivate := len(p.subs) == 0 && p.active
	if deactivate {
		p.active = false
		p.shutdownCtxCancel()
	}
	p.mu.Unlock()
	if deactivate {
		p.activeBackgroundWorkers.Wait()
		goutils.UncheckedError(p.bus.Unsubscribe(p.busID))
		p.logger.Debugw("depth stream deactivated")
	}
}

// Drops reports how many readings were consumed but not projected.
func (p *Publisher) Drops() uint64 {
	return p.drops.Load()
}

// Err returns the terminal error that stopped the stream, if any.
func (p *Publisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Active reports whether readings are currently being consumed.
func (p *Publisher) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Subscribers returns the number of attached subscriptions.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close permanently stops the publisher and detaches every subscriber.
// The engine and the bus are left open for their owners to close.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	wasActive := p.active
	p.active = false
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	if p.shutdownCtxCancel != nil {
		p.shutdownCtxCancel()
	}
	p.mu.Unlock()
	p.activeBackgroundWorkers.Wait()
	if wasActive {
		goutils.UncheckedError(p.bus.Unsubscribe(p.busID))
	}
	return nil
}
