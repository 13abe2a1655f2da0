package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// Dial connects to a bridge peer over TCP.
func Dial(ctx context.Context, addr string) (*Link, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", addr, err)
	}
	return NewLink(conn.RemoteAddr().String(), conn), nil
}

// Listener accepts TCP bridge peers. A printer serves one central at a
// time, so connections are handled one after another.
type Listener struct {
	ln net.Listener
}

func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts peers until ctx is done and runs handle for each.
func (l *Listener) Serve(ctx context.Context, handle func(context.Context, *Link) error) error {
	var closeOnce sync.Once
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeOnce.Do(func() { _ = l.ln.Close() })
		case <-stop:
		}
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("bridge accept: %w", err)
		}
		link := NewLink(conn.RemoteAddr().String(), conn)
		log.Info().Str("peer", link.Name()).Msg("bridge peer connected")
		if err := handle(ctx, link); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("peer", link.Name()).Msg("bridge peer ended with error")
		}
		_ = link.Close()
		log.Info().Str("peer", link.Name()).Msg("bridge peer gone")
	}
}
