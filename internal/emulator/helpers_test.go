package emulator

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
)

type memWriter struct {
	id        string
	hint      JobHint
	data      bytes.Buffer
	writes    []int
	closed    bool
	aborted   bool
	failWrite error
}

func (w *memWriter) ID() string { return w.id }

func (w *memWriter) Write(p []byte) (int, error) {
	if w.failWrite != nil {
		return 0, w.failWrite
	}
	w.writes = append(w.writes, len(p))
	return w.data.Write(p)
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func (w *memWriter) Abort() error {
	w.aborted = true
	return nil
}

type memSink struct {
	mu        sync.Mutex
	jobs      []*memWriter
	failOpen  error
	failWrite error
}

func (s *memSink) OpenJobSink(hint JobHint) (JobWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen != nil {
		return nil, s.failOpen
	}
	w := &memWriter{id: fmt.Sprintf("job-%d", len(s.jobs)+1), hint: hint, failWrite: s.failWrite}
	s.jobs = append(s.jobs, w)
	return w, nil
}

func (s *memSink) last(t *testing.T) *memWriter {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		t.Fatalf("expected an opened job")
	}
	return s.jobs[len(s.jobs)-1]
}

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) SendNotification(b []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), b...))
	return true
}

func (r *recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

type endpointRecorder struct {
	mu    sync.Mutex
	sent  []model.Endpoint
	value [][]byte
}

func (r *endpointRecorder) NotifyEndpoint(e model.Endpoint, b []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
	r.value = append(r.value, b)
	return true
}

type eventLog struct {
	mu     sync.Mutex
	events []JobEvent
}

func (l *eventLog) HandleJobEvent(ev JobEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) Types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("decode hex %q: %v", s, err)
	}
	return b
}

func startPayload(size uint32) []byte {
	p := make([]byte, 8)
	binary.BigEndian.PutUint32(p[4:8], size)
	return p
}

func dataPayload(index uint32, data []byte) []byte {
	p := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(p, index)
	return append(p, data...)
}

func toDevice(function, operation byte, payload []byte) []byte {
	return frame.Encode(function, operation, payload, frame.ToDevice)
}

func onlyFrame(t *testing.T, resp Response) []byte {
	t.Helper()
	if len(resp.Frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(resp.Frames))
	}
	return resp.Frames[0]
}

func ackStatus(t *testing.T, b []byte) byte {
	t.Helper()
	f, err := frame.Decode(b, frame.FromDevice)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	status, ok := f.Status()
	if !ok {
		t.Fatalf("frame is not an ack: % x", b)
	}
	return status
}
