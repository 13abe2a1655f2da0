package emulator

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/instaxemu/internal/observability"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const (
	// ReceiveBufferSize bounds image bytes held before a sink write.
	ReceiveBufferSize = 32 * 1024
	// flushMargin keeps room for one more chunk before the buffer fills.
	flushMargin = 2048
	// DataAckDelay paces data ACKs so the sender does not outrun storage.
	DataAckDelay = 50 * time.Millisecond

	dataIndexLen  = 4
	startMinBytes = 8
)

var ErrNoSink = errors.New("emulator: job sink unavailable")

type JobState uint8

const (
	JobIdle JobState = iota
	JobReceiving
	JobFinishing
	JobExecuting
	JobComplete
	JobError
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobReceiving:
		return "receiving"
	case JobFinishing:
		return "finishing"
	case JobExecuting:
		return "executing"
	case JobComplete:
		return "complete"
	case JobError:
		return "error"
	default:
		return "unknown"
	}
}

// JobHint tells a sink what is about to arrive.
type JobHint struct {
	ExpectedSize uint32
	Model        string
}

// JobWriter receives the image bytes of one job. Close commits it and Abort
// discards it; after either, the writer is unusable.
type JobWriter interface {
	io.Writer
	ID() string
	Close() error
	Abort() error
}

type JobSink interface {
	OpenJobSink(hint JobHint) (JobWriter, error)
}

// JobStatus is a point-in-time view of the current job.
type JobStatus struct {
	State      JobState  `json:"-"`
	StateName  string    `json:"state"`
	JobID      string    `json:"job_id,omitempty"`
	Expected   uint32    `json:"expected_size"`
	Received   uint32    `json:"bytes_received"`
	ChunkIndex uint32    `json:"chunk_index"`
	Buffered   int       `json:"buffered"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Job is the receiver-side print job state machine. At most one job is
// active; a new Start replaces it.
type Job struct {
	mu   sync.Mutex
	sink JobSink
	now  func() time.Time

	state      JobState
	writer     JobWriter
	model      string
	expected   uint32
	received   uint32
	chunkIndex uint32
	buf        []byte
	startedAt  time.Time
	writeErr   error
	lastErr    error
}

func NewJob(sink JobSink) *Job {
	return &Job{
		sink: sink,
		now:  time.Now,
		buf:  make([]byte, 0, ReceiveBufferSize),
	}
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		State:      j.state,
		StateName:  j.state.String(),
		Expected:   j.expected,
		Received:   j.received,
		ChunkIndex: j.chunkIndex,
		Buffered:   len(j.buf),
		StartedAt:  j.startedAt,
	}
	if j.writer != nil {
		st.JobID = j.writer.ID()
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}

// guardStatus checks printer readiness in fixed order: film, cover,
// battery, busy.
func guardStatus(s state.Snapshot) byte {
	switch {
	case s.PhotosRemaining == 0:
		return frame.StatusNoFilm
	case s.CoverOpen:
		return frame.StatusCoverOpen
	case s.BatteryPercentage < state.LowBatteryThreshold:
		return frame.StatusBatteryLow
	case s.PrinterBusy:
		return frame.StatusPrinterBusy
	default:
		return frame.StatusOK
	}
}

func (j *Job) Start(st *state.Store, p model.Profile, payload []byte) Response {
	j.mu.Lock()
	defer j.mu.Unlock()

	modelName := p.ID.String()
	if status := guardStatus(st.Snapshot()); status != frame.StatusOK {
		log.Warn().Str("model", modelName).Uint8("status", status).Msg("print start rejected")
		observability.RecordJob(modelName, "rejected", 0)
		return ack(frame.FuncPrint, frame.OpPrintStart, status)
	}
	if len(payload) < startMinBytes {
		log.Warn().Int("payload_len", len(payload)).Msg("print start payload too short")
		return Response{}
	}

	var replaced *JobEvent
	if j.writer != nil {
		log.Warn().Str("job_id", j.writer.ID()).Msg("print start replaces unfinished job")
		replaced = j.abortLocked(frame.StatusOK)
	}

	size := binary.BigEndian.Uint32(payload[4:8])
	if j.sink == nil {
		j.state = JobIdle
		j.lastErr = ErrNoSink
		resp := ack(frame.FuncPrint, frame.OpPrintStart, frame.StatusStartFailure)
		resp.Replaced = replaced
		return resp
	}
	w, err := j.sink.OpenJobSink(JobHint{ExpectedSize: size, Model: modelName})
	if err != nil {
		j.state = JobIdle
		j.lastErr = err
		log.Error().Err(err).Uint32("expected", size).Msg("job sink refused print")
		observability.RecordStorageError(modelName, "open")
		resp := ack(frame.FuncPrint, frame.OpPrintStart, frame.StatusStartFailure)
		resp.Replaced = replaced
		return resp
	}

	j.reset()
	j.state = JobReceiving
	j.writer = w
	j.model = modelName
	j.expected = size
	j.startedAt = j.now()
	log.Info().Str("job_id", w.ID()).Uint32("expected", size).Msg("print job started")

	resp := ack(frame.FuncPrint, frame.OpPrintStart, frame.StatusOK)
	resp.Event = j.eventLocked(EventJobStarted)
	resp.Replaced = replaced
	return resp
}

func (j *Job) Data(_ *state.Store, _ model.Profile, payload []byte) Response {
	j.mu.Lock()
	defer j.mu.Unlock()

	resp := ack(frame.FuncPrint, frame.OpPrintData, frame.StatusOK)
	resp.Delay = DataAckDelay
	if j.writer == nil || j.state != JobReceiving {
		log.Debug().Int("payload_len", len(payload)).Msg("print data without active job")
		return resp
	}

	if len(payload) > dataIndexLen {
		data := payload[dataIndexLen:]
		j.buffer(data)
		j.received += uint32(len(data))
		observability.RecordImageBytes(j.model, len(data))
	}
	j.chunkIndex++
	resp.Event = j.eventLocked(EventJobData)
	return resp
}

func (j *Job) End(_ *state.Store, _ model.Profile, _ []byte) Response {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		j.flush()
		j.state = JobFinishing
		ev := log.Info().Uint32("received", j.received).Uint32("expected", j.expected)
		if j.received != j.expected {
			ev = log.Warn().Uint32("received", j.received).Uint32("expected", j.expected)
		}
		ev.Msg("print data finished")
	}
	return ack(frame.FuncPrint, frame.OpPrintEnd, frame.StatusOK)
}

// Cancel drops the active job without committing it.
func (j *Job) Cancel(_ *state.Store, _ model.Profile, _ []byte) Response {
	j.mu.Lock()
	defer j.mu.Unlock()

	resp := ack(frame.FuncPrint, frame.OpPrintCancel, frame.StatusOK)
	if j.writer != nil {
		log.Info().Str("job_id", j.writer.ID()).Msg("print job cancelled")
		resp.Event = j.abortLocked(frame.StatusOK)
	}
	return resp
}

func (j *Job) Execute(st *state.Store, p model.Profile, _ []byte) Response {
	j.mu.Lock()
	defer j.mu.Unlock()

	if status := guardStatus(st.Snapshot()); status != frame.StatusOK {
		log.Warn().Uint8("status", status).Msg("print execute rejected")
		resp := ack(frame.FuncPrint, frame.OpPrintExecute, status)
		if j.writer != nil {
			resp.Event = j.abortLocked(status)
		} else {
			ev := JobEvent{Type: EventJobAborted, Model: p.ID.String(), Status: status, At: j.now()}
			resp.Event = &ev
			observability.RecordJob(p.ID.String(), "rejected", 0)
		}
		return resp
	}

	resp := ack(frame.FuncPrint, frame.OpPrintExecute, frame.StatusOK)
	if j.writer == nil {
		log.Warn().Msg("print execute without active job")
		return resp
	}

	j.state = JobExecuting
	j.flush()
	if err := j.writer.Close(); err != nil {
		j.noteWriteErr("close", err)
	}
	snap := st.CommitPrint()

	ev := j.eventLocked(EventJobComplete)
	ev.Lifetime = snap.LifetimePrints
	ev.Photos = snap.PhotosRemaining
	resp.Event = ev

	outcome := "complete"
	if j.writeErr != nil {
		outcome = "complete_with_errors"
	}
	observability.RecordJob(j.model, outcome, j.now().Sub(j.startedAt))
	log.Info().
		Str("job_id", ev.JobID).
		Uint32("bytes", j.received).
		Uint32("lifetime", snap.LifetimePrints).
		Uint8("photos", snap.PhotosRemaining).
		Msg("print job complete")

	j.state = JobComplete
	j.writer = nil
	return resp
}

// Abort releases the active job without committing it. It returns nil when
// no job was active.
func (j *Job) Abort() *JobEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer == nil {
		return nil
	}
	return j.abortLocked(frame.StatusOK)
}

func (j *Job) abortLocked(status byte) *JobEvent {
	ev := j.eventLocked(EventJobAborted)
	ev.Status = status
	outcome := "aborted"
	if status != frame.StatusOK {
		outcome = "rejected"
	}
	observability.RecordJob(j.model, outcome, j.now().Sub(j.startedAt))
	j.releaseLocked()
	j.state = JobError
	return ev
}

func (j *Job) releaseLocked() {
	if j.writer != nil {
		if err := j.writer.Abort(); err != nil {
			log.Warn().Err(err).Str("job_id", j.writer.ID()).Msg("job sink abort failed")
		}
	}
	j.writer = nil
	j.buf = j.buf[:0]
}

func (j *Job) reset() {
	j.writer = nil
	j.expected = 0
	j.received = 0
	j.chunkIndex = 0
	j.buf = j.buf[:0]
	j.writeErr = nil
	j.lastErr = nil
}

func (j *Job) eventLocked(t EventType) *JobEvent {
	ev := &JobEvent{
		Type:       t,
		Model:      j.model,
		Expected:   j.expected,
		Bytes:      j.received,
		ChunkIndex: j.chunkIndex,
		Err:        j.writeErr,
		At:         j.now(),
	}
	if j.writer != nil {
		ev.JobID = j.writer.ID()
	}
	return ev
}

// buffer stages data and writes through to the sink when the buffer nears
// capacity. Chunks larger than the buffer bypass it.
func (j *Job) buffer(data []byte) {
	if len(j.buf)+len(data) > cap(j.buf) {
		j.flush()
		if len(data) > cap(j.buf) {
			j.write(data)
			return
		}
	}
	j.buf = append(j.buf, data...)
	if len(j.buf) >= cap(j.buf)-flushMargin {
		j.flush()
	}
}

func (j *Job) flush() {
	if len(j.buf) == 0 {
		return
	}
	j.write(j.buf)
	j.buf = j.buf[:0]
}

func (j *Job) write(b []byte) {
	if j.writer == nil {
		return
	}
	n, err := j.writer.Write(b)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		j.noteWriteErr("write", err)
	}
}

func (j *Job) noteWriteErr(stage string, err error) {
	log.Error().Err(err).Str("stage", stage).Msg("job sink failure")
	observability.RecordStorageError(j.model, stage)
	if j.writeErr == nil {
		j.writeErr = err
	}
	j.lastErr = err
}
