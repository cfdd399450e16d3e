package engine

import (
	"context"
	"sync"
	"time"
)

// FrameSource delivers display frame ticks. Next arranges for fn to run on
// the next tick and returns a function that withdraws the request.
type FrameSource interface {
	Next(fn func()) (cancel func())
}

// Scheduler coalesces render requests into at most one render per frame.
// Only one request is ever pending: a new request withdraws the pending one
// and cancels the context of a render still in progress.
type Scheduler struct {
	frames FrameSource
	render func(ctx context.Context)

	mu           sync.Mutex
	gen          uint64
	cancelTick   func()
	cancelRender context.CancelFunc
	superseded   int
	stopped      bool
}

// NewScheduler returns a scheduler that runs render on frames from src.
func NewScheduler(src FrameSource, render func(ctx context.Context)) *Scheduler {
	return &Scheduler{frames: src, render: render}
}

// Request asks for a render on the next frame.
func (s *Scheduler) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if s.cancelTick != nil {
		s.cancelTick()
		s.superseded++
	}
	if s.cancelRender != nil {
		s.cancelRender()
		s.cancelRender = nil
	}

	s.gen++
	gen := s.gen
	s.cancelTick = s.frames.Next(func() { s.fire(gen) })
}

// Pending reports whether a render is waiting for its frame.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelTick != nil
}

// Superseded returns how many requests were withdrawn before they ran.
func (s *Scheduler) Superseded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superseded
}

// Stop withdraws any pending request and ignores further ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	if s.cancelRender != nil {
		s.cancelRender()
		s.cancelRender = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.cancelTick = nil
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRender = cancel
	s.mu.Unlock()

	s.render(ctx)

	s.mu.Lock()
	if gen == s.gen {
		s.cancelRender = nil
	}
	s.mu.Unlock()
	cancel()
}

// ManualFrames is a FrameSource advanced explicitly with Tick.
type ManualFrames struct {
	mu     sync.Mutex
	nextID int
	queued map[int]func()
	order  []int
}

// NewManualFrames creates an empty manual frame source.
func NewManualFrames() *ManualFrames {
	return &ManualFrames{queued: make(map[int]func())}
}

func (m *ManualFrames) Next(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.queued[id] = fn
	m.order = append(m.order, id)
	return func() {
		m.mu.Lock()
		delete(m.queued, id)
		m.mu.Unlock()
	}
}

// Tick runs every callback queued before the call and returns how many ran.
func (m *ManualFrames) Tick() int {
	m.mu.Lock()
	order := m.order
	m.order = nil
	fns := make([]func(), 0, len(order))
	for _, id := range order {
		if fn, ok := m.queued[id]; ok {
			fns = append(fns, fn)
			delete(m.queued, id)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// TickerFrames drives a ManualFrames from a time.Ticker.
type TickerFrames struct {
	*ManualFrames
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewTickerFrames starts a ticker-backed frame source. Call Stop to release it.
func NewTickerFrames(interval time.Duration) *TickerFrames {
	t := &TickerFrames{
		ManualFrames: NewManualFrames(),
		ticker:       time.NewTicker(interval),
		done:         make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *TickerFrames) run() {
	for {
		select {
		case <-t.ticker.C:
			t.Tick()
		case <-t.done:
			return
		}
	}
}

// Stop halts the ticker. Queued callbacks are dropped.
func (t *TickerFrames) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
