package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
)

const memoryBusLogPrefix = "transport:memory_bus"

const memoryQueueSize = 1024

// ErrBusClosed is returned when publishing on a closed MemoryBus.
var ErrBusClosed = errors.New("bus closed")

// MemoryBus is an in-process Bus. Each subscription gets its own queue and
// delivery goroutine, so ordering holds per subscription only, as on COMMS.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed atomic.Bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	queue   chan *Frame
	done    chan struct{}
	once    sync.Once
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

// Publish fans the frame out to every subscriber of its subject. A
// subscriber whose queue is full loses the frame.
func (b *MemoryBus) Publish(f *Frame) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[f.Subject] {
		frame := &Frame{Subject: f.Subject, Origin: f.Origin, Data: data}
		select {
		case s.queue <- frame:
		case <-s.done:
		default:
			slog.Warn(fmt.Sprintf("%s - queue full on %s, dropping frame", memoryBusLogPrefix, f.Subject))
		}
	}
	return nil
}

// Subscribe registers handler for subject.
func (b *MemoryBus) Subscribe(subject string, handler func(*Frame)) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	s := &memorySub{
		bus:     b,
		subject: subject,
		queue:   make(chan *Frame, memoryQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][s] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case f := <-s.queue:
				handler(f)
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

// Connected reports whether the bus is still open.
func (b *MemoryBus) Connected() bool {
	return !b.closed.Load()
}

// Close stops every subscription.
func (b *MemoryBus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]map[*memorySub]struct{})
	b.mu.Unlock()
	for _, set := range subs {
		for s := range set {
			s.stop()
		}
	}
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	if set, ok := s.bus.subs[s.subject]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}
