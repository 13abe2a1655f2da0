package emulator

import (
	"bytes"
	"testing"
	"time"

	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/danmuck/instaxemu/internal/protocol/reassembly"
	"github.com/danmuck/instaxemu/internal/testutil/testlog"
)

type harness struct {
	store  *state.Store
	sink   *memSink
	out    *recorder
	events *eventLog
	sess   *Session
}

func newHarness(id model.ID, snap state.Snapshot) *harness {
	h := &harness{
		store:  state.NewStore(snap),
		sink:   &memSink{},
		out:    &recorder{},
		events: &eventLog{},
	}
	d := NewDispatcher(h.store, model.MustLookup(id), h.sink)
	h.sess = NewSession(d, h.out, h.events)
	h.sess.Connected()
	return h
}

// feedSplit writes b in pieces of at most n bytes, like an MTU-bound link.
func (h *harness) feedSplit(b []byte, n int) {
	for len(b) > 0 {
		k := n
		if k > len(b) {
			k = len(b)
		}
		h.sess.Feed(b[:k])
		b = b[k:]
	}
}

func TestScenarioSquareHappyPath(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Square, state.Defaults())
	defer h.sess.Close()

	image := make([]byte, 2500)
	for i := range image {
		image[i] = byte(i * 7)
	}
	image[0], image[1], image[2] = 0xFF, 0xD8, 0xFF
	chunk := model.MustLookup(model.Square).ChunkSize

	h.feedSplit(toDevice(frame.FuncPrint, frame.OpPrintStart, startPayload(uint32(len(image)))), 182)
	idx := uint32(0)
	for off := 0; off < len(image); off += chunk {
		end := off + chunk
		if end > len(image) {
			end = len(image)
		}
		h.feedSplit(toDevice(frame.FuncPrint, frame.OpPrintData, dataPayload(idx, image[off:end])), 182)
		idx++
	}
	h.feedSplit(toDevice(frame.FuncPrint, frame.OpPrintEnd, nil), 182)
	h.feedSplit(toDevice(frame.FuncLED, frame.OpLEDPattern, nil), 182)
	h.feedSplit(toDevice(frame.FuncPrint, frame.OpPrintExecute, nil), 182)

	frames := h.out.Frames()
	if len(frames) != 3+int(idx)+1 {
		t.Fatalf("expected %d acks, got %d", 3+int(idx)+1, len(frames))
	}
	for i, b := range frames {
		if len(b) != frame.AckLen || ackStatus(t, b) != frame.StatusOK {
			t.Fatalf("frame %d is not an OK ack: % x", i, b)
		}
	}
	if frames[len(frames)-1][5] != frame.OpPrintExecute {
		t.Fatalf("expected execute ack last")
	}

	w := h.sink.last(t)
	if !bytes.Equal(w.data.Bytes(), image) {
		t.Fatalf("stored image differs: got %d bytes want %d", w.data.Len(), len(image))
	}
	if !w.closed {
		t.Fatalf("expected committed job")
	}
	snap := h.store.Snapshot()
	if snap.LifetimePrints != 36 || snap.PhotosRemaining != 7 {
		t.Fatalf("unexpected counters: lifetime=%d photos=%d", snap.LifetimePrints, snap.PhotosRemaining)
	}

	types := h.events.Types()
	if types[0] != EventJobStarted || types[len(types)-1] != EventJobComplete {
		t.Fatalf("unexpected event order: %v", types)
	}
	data := 0
	for _, typ := range types {
		if typ == EventJobData {
			data++
		}
	}
	if data != int(idx) {
		t.Fatalf("expected %d data events, got %d", idx, data)
	}
}

func TestScenarioSquareThreeChunks(t *testing.T) {
	testlog.Start(t)

	snap := state.Defaults()
	snap.PhotosRemaining = 5
	snap.BatteryPercentage = 80
	lifetime := snap.LifetimePrints

	store := state.NewStore(snap)
	sink := &memSink{}
	d := NewDispatcher(store, model.MustLookup(model.Square), sink)

	image := make([]byte, 1000)
	for i := range image {
		image[i] = byte(i)
	}

	resp := dispatch(d, frame.FuncPrint, frame.OpPrintStart, startPayload(1000))
	if ackStatus(t, onlyFrame(t, resp)) != frame.StatusOK || resp.Delay != 0 {
		t.Fatalf("unexpected start response: %+v", resp)
	}
	for i, bounds := range [][2]int{{0, 400}, {400, 800}, {800, 1000}} {
		resp := dispatch(d, frame.FuncPrint, frame.OpPrintData, dataPayload(uint32(i), image[bounds[0]:bounds[1]]))
		ackFrame := onlyFrame(t, resp)
		if ackFrame[5] != frame.OpPrintData || ackStatus(t, ackFrame) != frame.StatusOK {
			t.Fatalf("chunk %d: unexpected ack % x", i, ackFrame)
		}
		if resp.Delay != 50*time.Millisecond {
			t.Fatalf("chunk %d: expected 50ms ack delay, got %v", i, resp.Delay)
		}
	}
	if st := d.Job().Status(); st.Received != 1000 || st.ChunkIndex != 3 {
		t.Fatalf("unexpected job progress: %+v", st)
	}
	if ackStatus(t, onlyFrame(t, dispatch(d, frame.FuncPrint, frame.OpPrintEnd, nil))) != frame.StatusOK {
		t.Fatalf("expected end ack")
	}
	resp = dispatch(d, frame.FuncPrint, frame.OpPrintExecute, nil)
	if ackStatus(t, onlyFrame(t, resp)) != frame.StatusOK {
		t.Fatalf("expected execute ack")
	}

	got := store.Snapshot()
	if got.PhotosRemaining != 4 || got.LifetimePrints != lifetime+1 {
		t.Fatalf("unexpected counters: photos=%d lifetime=%d", got.PhotosRemaining, got.LifetimePrints)
	}
	w := sink.last(t)
	if !w.closed || !bytes.Equal(w.data.Bytes(), image) {
		t.Fatalf("expected the 1000 image bytes to be committed, got %d", w.data.Len())
	}
}

func TestSessionEmitsAbortBeforeReplacementStart(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Square, state.Defaults())
	defer h.sess.Close()

	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintStart, startPayload(1000)))
	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintData, dataPayload(0, make([]byte, 400))))
	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintStart, startPayload(500)))

	want := []EventType{EventJobStarted, EventJobData, EventJobAborted, EventJobStarted}
	got := h.events.Types()
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected events: %v", got)
		}
	}
}

func TestScenarioNoFilm(t *testing.T) {
	testlog.Start(t)

	s := state.Defaults()
	s.PhotosRemaining = 0
	h := newHarness(model.Square, s)
	defer h.sess.Close()

	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintStart, startPayload(1000)))
	frames := h.out.Frames()
	if len(frames) != 1 {
		t.Fatalf("expected one reply, got %d", len(frames))
	}
	want := []byte{0x61, 0x42, 0x00, 0x08, 0x10, 0x00, 0xB2}
	want = append(want, frame.Checksum(want))
	if !bytes.Equal(frames[0], want) {
		t.Fatalf("unexpected reply: got=% x want=% x", frames[0], want)
	}
	if len(h.sink.jobs) != 0 || len(h.events.Types()) != 0 {
		t.Fatalf("expected no job and no events")
	}
}

func TestSessionHonorsDataDelay(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Mini, state.Defaults())
	defer h.sess.Close()

	start := time.Now()
	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintData, dataPayload(0, []byte{1})))
	if elapsed := time.Since(start); elapsed < DataAckDelay {
		t.Fatalf("expected data ack after %v, returned after %v", DataAckDelay, elapsed)
	}
	if len(h.out.Frames()) != 1 {
		t.Fatalf("expected the ack to be sent")
	}
}

func TestSessionSendsWideFollowupAfterHistory(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Wide, state.Defaults())
	defer h.sess.Close()

	h.sess.Feed(toDevice(frame.FuncInfo, frame.OpInfoCapability, []byte{InfoPrintHistory}))
	if n := len(h.out.Frames()); n != 1 {
		t.Fatalf("expected history reply before followup, got %d frames", n)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(h.out.Frames()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("followup never sent")
		}
		time.Sleep(10 * time.Millisecond)
	}
	frames := h.out.Frames()
	if len(frames[1]) != 12 || frames[1][4] != frame.FuncInfo {
		t.Fatalf("unexpected followup frame: % x", frames[1])
	}
}

func TestDisconnectCancelsFollowups(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Wide, state.Defaults())
	h.sess.Feed(toDevice(frame.FuncInfo, frame.OpInfoCapability, []byte{InfoPrintHistory}))
	h.sess.Disconnected()
	h.sess.Close()
	time.Sleep(2 * HistoryFollowupDelay)
	if n := len(h.out.Frames()); n != 1 {
		t.Fatalf("expected followup to be cancelled, got %d frames", n)
	}
}

func TestDataAckAfterDisconnectIsStillSent(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Mini, state.Defaults())
	defer h.sess.Close()
	h.sess.Disconnected()

	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintData, dataPayload(0, []byte{1})))
	if n := len(h.out.Frames()); n != 1 {
		t.Fatalf("expected the delayed ack on a later link, got %d frames", n)
	}
}

func TestDisconnectAbortsActiveJob(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Square, state.Defaults())
	defer h.sess.Close()

	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintStart, startPayload(100)))
	h.sess.Feed(toDevice(frame.FuncPrint, frame.OpPrintData, dataPayload(0, []byte{1, 2, 3})))
	before := h.store.Snapshot()

	h.sess.Disconnected()

	w := h.sink.last(t)
	if !w.aborted || w.closed {
		t.Fatalf("expected job released without commit")
	}
	if h.store.Snapshot() != before {
		t.Fatalf("disconnect changed counters")
	}
	types := h.events.Types()
	if types[len(types)-1] != EventJobAborted {
		t.Fatalf("expected abort event last, got %v", types)
	}
	if h.sess.IsConnected() {
		t.Fatalf("expected session to report disconnected")
	}
}

func TestFramingErrorsAreDropped(t *testing.T) {
	testlog.Start(t)

	h := newHarness(model.Square, state.Defaults())
	defer h.sess.Close()

	h.sess.Feed(bytes.Repeat([]byte{0x00}, reassembly.DefaultCapacity+1))
	enc := toDevice(frame.FuncInfo, frame.OpInfoIdentify, nil)
	enc[len(enc)-1] ^= 0x5A
	h.sess.Feed(enc)

	frames := h.out.Frames()
	if len(frames) != 1 || frames[0][4] != frame.FuncInfo {
		t.Fatalf("expected identify reply despite bad checksum, got %d frames", len(frames))
	}
}
