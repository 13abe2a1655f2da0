package events

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/instaxemu/internal/emulator"
	"github.com/danmuck/instaxemu/internal/observability"
	"github.com/danmuck/instaxemu/internal/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrPublisherClosed = errors.New("events: publisher closed")

// Publisher delivers job messages to an external system.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}

// LogPublisher writes each message to a logger. It never fails.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, m Message) error {
	ev := p.logger.Info()
	if m.Error != "" {
		ev = p.logger.Warn().Str("error", m.Error)
	}
	ev.Str("event", m.Type).
		Str("job_id", m.JobID).
		Str("model", m.Model).
		Uint32("bytes", m.Bytes).
		Uint32("expected", m.Expected).
		Msg("job event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

type SinkConfig struct {
	// IncludeData publishes per-chunk progress events as well.
	IncludeData bool
	QueueSize   int
	MaxAttempts int
	Backoff     retry.BackoffConfig
	// DrainTimeout bounds how long Close keeps delivering queued events.
	DrainTimeout time.Duration
}

func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		QueueSize:    64,
		MaxAttempts:  5,
		Backoff:      retry.DefaultBackoff(),
		DrainTimeout: 2 * time.Second,
	}
}

// Sink adapts a Publisher to the emulator's event stream. Delivery happens
// on a background worker so the session never waits on the network.
type Sink struct {
	pub    Publisher
	cfg    SinkConfig
	outbox *Outbox
	queue  chan string
	rng    *rand.Rand

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ emulator.EventSink = (*Sink)(nil)

func NewSink(pub Publisher, cfg SinkConfig) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSinkConfig().QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultSinkConfig().DrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		pub:    pub,
		cfg:    cfg,
		outbox: NewOutbox(observability.SetEventsPending),
		queue:  make(chan string, cfg.QueueSize),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    ctx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Pending lists events still waiting to be published, oldest first.
func (s *Sink) Pending() []Pending {
	return s.outbox.Snapshot()
}

func (s *Sink) PendingCount() int {
	return s.outbox.Len()
}

func (s *Sink) HandleJobEvent(ev emulator.JobEvent) {
	if ev.Type == emulator.EventJobData && !s.cfg.IncludeData {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	m := FromJobEvent(ev)
	if !s.outbox.Add(m, time.Now()) {
		return
	}
	select {
	case s.queue <- m.EventID:
	default:
		s.outbox.Done(m.EventID)
		observability.RecordEventDropped("queue_full")
		log.Warn().Str("event", m.Type).Str("job_id", m.JobID).Msg("event queue full, dropping")
	}
}

// Close stops accepting events and delivers what is queued for at most
// DrainTimeout. Events still pending after that are dropped. The publisher
// is closed last.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		log.Warn().Int("pending", s.outbox.Len()).Dur("timeout", s.cfg.DrainTimeout).Msg("event drain timed out")
		s.cancel()
		<-drained
	}
	s.cancel()
	return s.pub.Close()
}

func (s *Sink) run() {
	defer s.wg.Done()
	for id := range s.queue {
		s.deliver(id)
	}
}

func (s *Sink) deliver(id string) {
	for attempt := 1; ; attempt++ {
		item, ok := s.outbox.Get(id)
		if !ok {
			return
		}
		if s.ctx.Err() != nil {
			s.outbox.Done(id)
			observability.RecordEventDropped("shutdown")
			return
		}
		err := s.pub.Publish(s.ctx, item.Message)
		if err == nil {
			s.outbox.Done(id)
			return
		}
		item, _ = s.outbox.Attempted(id, time.Now(), err)
		if item.Attempts >= s.cfg.MaxAttempts {
			s.outbox.Done(id)
			observability.RecordEventDropped("retries")
			log.Error().Err(err).Str("event", item.Message.Type).Int("attempts", item.Attempts).Msg("event publish gave up")
			return
		}
		log.Warn().Err(err).Str("event", item.Message.Type).Int("attempt", attempt).Msg("event publish failed")
		if werr := retry.Wait(s.ctx, s.cfg.Backoff, attempt, s.rng); werr != nil {
			s.outbox.Done(id)
			observability.RecordEventDropped("shutdown")
			return
		}
	}
}
