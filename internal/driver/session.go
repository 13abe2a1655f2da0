package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/danmuck/instaxemu/internal/protocol/reassembly"
	"github.com/rs/zerolog/log"
)

var (
	ErrImageEmpty    = errors.New("driver: image is empty")
	ErrImageTooLarge = errors.New("driver: image exceeds model max file size")
	ErrBadChunkSize  = errors.New("driver: model chunk size must be positive")
	ErrNoResponse    = errors.New("driver: no response from printer")

	ErrPrintStart   = errors.New("failed to send print start")
	ErrImageData    = errors.New("failed to send image data")
	ErrPrintEnd     = errors.New("failed to send print end")
	ErrPrintExecute = errors.New("failed to send print execute")
)

// Writer sends one complete frame to the printer's write characteristic.
type Writer interface {
	Write(ctx context.Context, b []byte) error
}

type WriterFunc func(ctx context.Context, b []byte) error

func (f WriterFunc) Write(ctx context.Context, b []byte) error { return f(ctx, b) }

type Status uint8

const (
	StatusStarting Status = iota
	StatusSendingData
	StatusFinishing
	StatusExecuting
	StatusComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusSendingData:
		return "sending_data"
	case StatusFinishing:
		return "finishing"
	case StatusExecuting:
		return "executing"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Progress is reported after every stage change and every data chunk.
type Progress struct {
	Status     Status
	TotalBytes int
	BytesSent  int
	ChunkIndex int
	Percent    int
	Error      string
}

type ProgressFunc func(Progress)

// PrinterInfo is what the capability queries report.
type PrinterInfo struct {
	Width           uint16
	Height          uint16
	Model           model.ID
	ModelKnown      bool
	BatteryState    uint8
	BatteryPercent  uint8
	PhotosRemaining uint8
	Charging        bool
	LifetimePrints  uint32
}

// Session drives one connected printer. Print and QueryPrinterInfo may not
// run concurrently; HandleNotification may be called from any goroutine.
type Session struct {
	w   Writer
	cfg Config

	opMu sync.Mutex

	rxMu      sync.Mutex
	reasm     *reassembly.Reassembler
	responses chan frame.Frame
}

func NewSession(w Writer, cfg Config) *Session {
	return &Session{
		w:         w,
		cfg:       cfg,
		reasm:     reassembly.New(frame.FromDevice, reassembly.DefaultCapacity),
		responses: make(chan frame.Frame, 16),
	}
}

// HandleNotification accepts bytes from the printer's notify characteristic.
func (s *Session) HandleNotification(chunk []byte) {
	s.rxMu.Lock()
	raw, err := s.reasm.Feed(chunk)
	s.rxMu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("notification reassembly reset")
		return
	}
	if raw == nil {
		return
	}
	f, err := ParseResponse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable notification")
		return
	}
	if status, ok := f.Status(); ok && status != frame.StatusOK {
		log.Warn().Uint8("function", f.Function).Uint8("operation", f.Operation).Uint8("status", status).Msg("printer reported error")
	}
	for {
		select {
		case s.responses <- f:
			return
		default:
		}
		// Full: drop the oldest so the newest reply is kept.
		select {
		case <-s.responses:
		default:
		}
	}
}

// PrintStartFrame announces an image of size bytes.
func PrintStartFrame(size uint32) []byte {
	payload := []byte{0x02, 0x00, 0x00, 0x00, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(payload[4:8], size)
	return frame.Encode(frame.FuncPrint, frame.OpPrintStart, payload, frame.ToDevice)
}

func PrintDataFrame(index uint32, data []byte) []byte {
	payload := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(payload, index)
	payload = append(payload, data...)
	return frame.Encode(frame.FuncPrint, frame.OpPrintData, payload, frame.ToDevice)
}

func InfoQueryFrame(selector byte) []byte {
	return frame.Encode(frame.FuncInfo, frame.OpInfoCapability, []byte{selector}, frame.ToDevice)
}

// Print sends image to the printer. Pacing is timing based; ACKs are not
// awaited. Any write failure stops the job with no retry.
func (s *Session) Print(ctx context.Context, image []byte, p model.Profile, progress ProgressFunc) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	pr := Progress{Status: StatusStarting, TotalBytes: len(image)}
	report := func() {
		if progress != nil {
			progress(pr)
		}
	}
	fail := func(stage, cause error) error {
		pr.Status = StatusError
		pr.Error = stage.Error()
		report()
		if cause == nil {
			return stage
		}
		return fmt.Errorf("%w: %w", stage, cause)
	}

	switch {
	case len(image) == 0:
		return fail(ErrImageEmpty, nil)
	case p.MaxFileSize > 0 && len(image) > p.MaxFileSize:
		return fail(ErrImageTooLarge, fmt.Errorf("%d > %d bytes", len(image), p.MaxFileSize))
	case p.ChunkSize <= 0:
		return fail(ErrBadChunkSize, nil)
	}

	log.Info().Str("model", p.ID.String()).Int("bytes", len(image)).Int("chunk", p.ChunkSize).Msg("print starting")
	report()
	if err := s.w.Write(ctx, PrintStartFrame(uint32(len(image)))); err != nil {
		return fail(ErrPrintStart, err)
	}
	if err := sleepCtx(ctx, s.cfg.StartSettle); err != nil {
		return fail(ErrPrintStart, err)
	}

	pr.Status = StatusSendingData
	for off, index := 0, 0; off < len(image); index++ {
		end := off + p.ChunkSize
		if end > len(image) {
			end = len(image)
		}
		if err := s.w.Write(ctx, PrintDataFrame(uint32(index), image[off:end])); err != nil {
			return fail(ErrImageData, err)
		}
		off = end
		pr.BytesSent = off
		pr.ChunkIndex = index
		pr.Percent = off * 100 / len(image)
		report()
		if err := sleepCtx(ctx, s.cfg.ChunkPacing); err != nil {
			return fail(ErrImageData, err)
		}
	}

	pr.Status = StatusFinishing
	report()
	if err := s.w.Write(ctx, frame.Encode(frame.FuncPrint, frame.OpPrintEnd, nil, frame.ToDevice)); err != nil {
		return fail(ErrPrintEnd, err)
	}
	if err := sleepCtx(ctx, s.cfg.EndSettle); err != nil {
		return fail(ErrPrintEnd, err)
	}
	if err := s.w.Write(ctx, frame.Encode(frame.FuncLED, frame.OpLEDPattern, nil, frame.ToDevice)); err != nil {
		log.Warn().Err(err).Msg("led pattern write failed")
	}
	if err := sleepCtx(ctx, s.cfg.ExecuteSettle); err != nil {
		return fail(ErrPrintExecute, err)
	}

	pr.Status = StatusExecuting
	report()
	if err := s.w.Write(ctx, frame.Encode(frame.FuncPrint, frame.OpPrintExecute, nil, frame.ToDevice)); err != nil {
		return fail(ErrPrintExecute, err)
	}

	pr.Status = StatusComplete
	pr.BytesSent = len(image)
	pr.Percent = 100
	report()
	log.Info().Str("model", p.ID.String()).Int("bytes", len(image)).Msg("print sent")
	return nil
}

// QueryPrinterInfo runs the four capability queries in order.
func (s *Session) QueryPrinterInfo(ctx context.Context) (PrinterInfo, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var info PrinterInfo
	s.drain()

	payload, err := s.query(ctx, 0x00)
	if err != nil {
		return info, err
	}
	if info.Width, info.Height, err = ParseImageSupport(payload); err != nil {
		return info, err
	}
	if p, err := model.LookupDimensions(info.Width, info.Height); err == nil {
		info.Model, info.ModelKnown = p.ID, true
	}

	if payload, err = s.query(ctx, 0x01); err != nil {
		return info, err
	}
	if info.BatteryState, info.BatteryPercent, err = ParseBattery(payload); err != nil {
		return info, err
	}

	if payload, err = s.query(ctx, 0x02); err != nil {
		return info, err
	}
	if info.PhotosRemaining, info.Charging, err = ParsePrinterFunction(payload); err != nil {
		return info, err
	}

	if payload, err = s.query(ctx, 0x03); err != nil {
		return info, err
	}
	if info.LifetimePrints, err = ParsePrintHistory(payload); err != nil {
		return info, err
	}
	return info, nil
}

func (s *Session) query(ctx context.Context, selector byte) ([]byte, error) {
	if err := s.w.Write(ctx, InfoQueryFrame(selector)); err != nil {
		return nil, fmt.Errorf("driver: send info query %d: %w", selector, err)
	}
	timer := time.NewTimer(s.cfg.ResponseTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: info query %d", ErrNoResponse, selector)
		case f := <-s.responses:
			if f.Function != frame.FuncInfo || f.Operation != frame.OpInfoCapability {
				continue
			}
			if len(f.Payload) >= 2 && f.Payload[1] == selector {
				return f.Payload, nil
			}
			if status, ok := f.Status(); ok {
				return nil, fmt.Errorf("driver: info query %d answered with status %#x", selector, status)
			}
		}
	}
}

func (s *Session) drain() {
	for {
		select {
		case <-s.responses:
		default:
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
