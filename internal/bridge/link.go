package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var ErrLinkClosed = errors.New("bridge: link closed")

// Handler receives every decoded packet in arrival order.
type Handler func(Packet)

// Link carries packets over one byte stream. Send may be called from any
// goroutine; Run owns the read side.
type Link struct {
	name string
	rw   io.ReadWriteCloser
	// idleEOF treats a zero-byte read as a read timeout rather than the end
	// of the stream. Serial ports with a read timeout behave this way.
	idleEOF bool

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

func NewLink(name string, rw io.ReadWriteCloser) *Link {
	return &Link{name: name, rw: rw}
}

func (l *Link) Name() string {
	return l.name
}

func (l *Link) Send(p Packet) error {
	b, err := Encode(p)
	if err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrLinkClosed
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	for len(b) > 0 {
		n, err := l.rw.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Run reads packets until the stream ends or ctx is done. A clean end of
// stream returns nil.
func (l *Link) Run(ctx context.Context, h Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-stop:
		}
	}()

	var dec Decoder
	buf := make([]byte, 512)
	for {
		n, err := l.rw.Read(buf)
		if n > 0 {
			for _, p := range dec.Feed(buf[:n]) {
				h(p)
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) && l.idleEOF && !l.closed.Load() {
			continue
		}
		if errors.Is(err, io.EOF) || l.closed.Load() {
			if dropped := dec.Dropped(); dropped > 0 {
				log.Debug().Str("link", l.name).Uint64("dropped", dropped).Msg("link resync drops")
			}
			return nil
		}
		return err
	}
}

func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		err = l.rw.Close()
	})
	return err
}
