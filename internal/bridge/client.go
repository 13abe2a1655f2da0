package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/instaxemu/internal/driver"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/rs/zerolog/log"
)

var ErrReadRejected = errors.New("bridge: read rejected by peer")

// Client is the app's end of the bridge. It writes frames to the printer
// and routes notifications into a driver session.
type Client struct {
	link *Link

	mu      sync.Mutex
	pending map[model.Endpoint]chan Packet
	aux     func(model.Endpoint, []byte)
}

func NewClient(link *Link) *Client {
	return &Client{link: link, pending: make(map[model.Endpoint]chan Packet)}
}

var _ driver.Writer = (*Client)(nil)

// Write sends one frame to the primary write characteristic.
func (c *Client) Write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.link.Send(Packet{Kind: KindWrite, Endpoint: model.EndpointWrite, Data: b})
}

// OnAuxNotify registers fn for notifications on non-primary endpoints.
func (c *Client) OnAuxNotify(fn func(model.Endpoint, []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aux = fn
}

// Connect opens the GATT connection and subscribes to the notify endpoint.
func (c *Client) Connect() error {
	if err := c.link.Send(Packet{Kind: KindConnect}); err != nil {
		return err
	}
	return c.link.Send(Packet{Kind: KindSubscribe, Endpoint: model.EndpointNotify})
}

func (c *Client) Subscribe(e model.Endpoint) error {
	return c.link.Send(Packet{Kind: KindSubscribe, Endpoint: e})
}

// Read fetches the value of an auxiliary endpoint.
func (c *Client) Read(ctx context.Context, e model.Endpoint) ([]byte, error) {
	ch := make(chan Packet, 1)
	c.mu.Lock()
	if _, busy := c.pending[e]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge: read already pending on %s", e)
	}
	c.pending[e] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, e)
		c.mu.Unlock()
	}()

	if err := c.link.Send(Packet{Kind: KindReadRequest, Endpoint: e}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case pkt := <-ch:
		if pkt.Kind == KindError || len(pkt.Data) == 0 || pkt.Data[0] != ATTSuccess {
			code := ATTUnlikelyError
			if len(pkt.Data) > 0 {
				code = pkt.Data[0]
			}
			return nil, fmt.Errorf("%w: %s att=0x%02x", ErrReadRejected, e, code)
		}
		return pkt.Data[1:], nil
	}
}

// Run reads from the link until it ends, handing primary notifications to s.
func (c *Client) Run(ctx context.Context, s *driver.Session) error {
	return c.link.Run(ctx, func(pkt Packet) {
		switch pkt.Kind {
		case KindNotify:
			if pkt.Endpoint == model.EndpointNotify {
				s.HandleNotification(pkt.Data)
				return
			}
			c.mu.Lock()
			fn := c.aux
			c.mu.Unlock()
			if fn != nil {
				fn(pkt.Endpoint, pkt.Data)
			}
		case KindReadResponse, KindError:
			c.mu.Lock()
			ch := c.pending[pkt.Endpoint]
			c.mu.Unlock()
			if ch != nil {
				select {
				case ch <- pkt:
				default:
				}
				return
			}
			if pkt.Kind == KindError && len(pkt.Data) > 0 {
				log.Warn().Str("endpoint", pkt.Endpoint.String()).Uint8("att", pkt.Data[0]).Msg("peer rejected request")
			}
		default:
			log.Debug().Str("kind", pkt.Kind.String()).Msg("ignoring bridge packet")
		}
	})
}

// Close sends a disconnect and closes the link.
func (c *Client) Close() error {
	if err := c.link.Send(Packet{Kind: KindDisconnect}); err != nil && !errors.Is(err, ErrLinkClosed) {
		log.Debug().Err(err).Msg("disconnect send failed")
	}
	return c.link.Close()
}
