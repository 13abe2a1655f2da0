package emulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/instaxemu/internal/observability"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/danmuck/instaxemu/internal/protocol/reassembly"
	"github.com/rs/zerolog/log"
)

// Notifier delivers one outbound frame to the connected app. It reports
// false when the frame could not be queued.
type Notifier interface {
	SendNotification(b []byte) bool
}

type NotifierFunc func([]byte) bool

func (f NotifierFunc) SendNotification(b []byte) bool { return f(b) }

// Session binds a dispatcher to one transport connection. Feed calls are
// processed one at a time in arrival order.
type Session struct {
	mu         sync.Mutex
	dispatcher *Dispatcher
	reasm      *reassembly.Reassembler
	notifier   Notifier
	events     EventSink

	connMu     sync.Mutex
	connCtx    context.Context
	connCancel context.CancelFunc
	connected  bool
	followups  sync.WaitGroup
}

func NewSession(d *Dispatcher, n Notifier, events EventSink) *Session {
	s := &Session{
		dispatcher: d,
		reasm:      reassembly.New(frame.ToDevice, reassembly.DefaultCapacity),
		notifier:   n,
		events:     events,
	}
	s.connCtx, s.connCancel = context.WithCancel(context.Background())
	return s
}

func (s *Session) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *Session) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// Connected starts a new connection. Any job left from an earlier
// connection is aborted.
func (s *Session) Connected() {
	s.connMu.Lock()
	s.connCancel()
	s.connCtx, s.connCancel = context.WithCancel(context.Background())
	s.connected = true
	s.connMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasm.Reset()
	s.emit(s.dispatcher.Job().Abort())
	log.Info().Str("model", s.dispatcher.Profile().ID.String()).Msg("client connected")
}

// Disconnected cancels pending delays and follow-ups, then aborts the
// active job without committing it.
func (s *Session) Disconnected() {
	s.connMu.Lock()
	s.connCancel()
	s.connCtx, s.connCancel = context.WithCancel(context.Background())
	s.connected = false
	s.connMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasm.Reset()
	if ev := s.dispatcher.Job().Abort(); ev != nil {
		log.Warn().Str("job_id", ev.JobID).Uint32("bytes", ev.Bytes).Msg("job aborted on disconnect")
		s.emit(ev)
	}
	log.Info().Msg("client disconnected")
}

// Close cancels outstanding follow-ups and waits for them to exit.
func (s *Session) Close() {
	s.connMu.Lock()
	s.connCancel()
	s.connMu.Unlock()
	s.followups.Wait()
}

// Feed accepts one transport write. Complete frames are dispatched and
// their primary responses sent before Feed returns.
func (s *Session) Feed(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	modelName := s.dispatcher.Profile().ID.String()
	raw, err := s.reasm.Feed(chunk)
	if err != nil {
		reason := "framing"
		if errors.Is(err, reassembly.ErrBufferOverflow) {
			reason = "overflow"
		}
		observability.RecordFramingError(modelName, reason)
		log.Warn().Err(err).Int("chunk_len", len(chunk)).Msg("reassembly reset")
		return
	}
	if raw == nil {
		return
	}

	f, err := frame.Decode(raw, frame.ToDevice)
	if err != nil {
		observability.RecordFramingError(modelName, "decode")
		log.Warn().Err(err).Int("frame_len", len(raw)).Msg("dropping undecodable frame")
		return
	}
	if !f.Valid() {
		log.Debug().
			Uint8("function", f.Function).
			Uint8("operation", f.Operation).
			Uint8("checksum", f.Checksum).
			Msg("checksum mismatch")
	}

	s.apply(s.dispatcher.Dispatch(f))
}

func (s *Session) apply(resp Response) {
	ctx := s.currentCtx()
	s.emit(resp.Replaced)
	if resp.Delay > 0 && len(resp.Frames) > 0 {
		if !sleepCtx(ctx, resp.Delay) {
			log.Debug().Msg("delayed response dropped after disconnect")
			s.emit(resp.Event)
			return
		}
	}
	for _, b := range resp.Frames {
		s.send(b)
	}
	for _, fu := range resp.Followups {
		s.schedule(ctx, fu)
	}
	s.emit(resp.Event)
}

func (s *Session) schedule(ctx context.Context, fu Followup) {
	s.followups.Add(1)
	go func() {
		defer s.followups.Done()
		if !sleepCtx(ctx, fu.Delay) {
			return
		}
		s.send(fu.Frame)
	}()
}

func (s *Session) send(b []byte) {
	if len(b) == frame.AckLen {
		observability.RecordAck(s.dispatcher.Profile().ID.String(), b[frame.HeaderLen])
	}
	if s.notifier == nil {
		return
	}
	if !s.notifier.SendNotification(b) {
		log.Warn().Int("len", len(b)).Msg("notification not delivered")
	}
}

func (s *Session) emit(ev *JobEvent) {
	if ev == nil || s.events == nil {
		return
	}
	s.events.HandleJobEvent(*ev)
}

func (s *Session) currentCtx() context.Context {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connCtx
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
