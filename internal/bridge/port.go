package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/instaxemu/internal/emulator"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/rs/zerolog/log"
)

// Port is the emulator's end of the bridge. It is handed to the session and
// aux server as their notifier before any link exists, and forwards to
// whichever link Serve is currently running.
type Port struct {
	mu   sync.Mutex
	link *Link
}

func NewPort() *Port {
	return &Port{}
}

var (
	_ emulator.Notifier         = (*Port)(nil)
	_ emulator.EndpointNotifier = (*Port)(nil)
)

// SendNotification sends b on the primary notify characteristic.
func (p *Port) SendNotification(b []byte) bool {
	return p.NotifyEndpoint(model.EndpointNotify, b)
}

func (p *Port) NotifyEndpoint(e model.Endpoint, b []byte) bool {
	p.mu.Lock()
	link := p.link
	p.mu.Unlock()
	if link == nil {
		return false
	}
	if err := link.Send(Packet{Kind: KindNotify, Endpoint: e, Data: b}); err != nil {
		log.Debug().Err(err).Str("endpoint", e.String()).Msg("notify send failed")
		return false
	}
	return true
}

func (p *Port) attach(l *Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.link = l
}

func (p *Port) detach(l *Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == l {
		p.link = nil
	}
}

// Serve binds link to session and aux until the link ends. Losing the link
// always disconnects the session, so a job begun without a connect packet
// is aborted too.
func (p *Port) Serve(ctx context.Context, link *Link, session *emulator.Session, aux *emulator.Aux) error {
	p.attach(link)
	defer p.detach(link)
	defer session.Disconnected()

	return link.Run(ctx, func(pkt Packet) {
		switch pkt.Kind {
		case KindConnect:
			session.Connected()
		case KindDisconnect:
			session.Disconnected()
		case KindWrite:
			if pkt.Endpoint == model.EndpointWrite {
				session.Feed(pkt.Data)
				return
			}
			if err := aux.Write(pkt.Endpoint, pkt.Data); err != nil {
				p.reject(link, pkt, err)
			}
		case KindReadRequest:
			value, err := aux.Read(pkt.Endpoint)
			resp := Packet{Kind: KindReadResponse, Endpoint: pkt.Endpoint}
			if err != nil {
				log.Debug().Err(err).Str("endpoint", pkt.Endpoint.String()).Msg("aux read rejected")
				resp.Data = []byte{attCode(err)}
			} else {
				resp.Data = append([]byte{ATTSuccess}, value...)
			}
			if err := link.Send(resp); err != nil {
				log.Warn().Err(err).Msg("read response send failed")
			}
		case KindSubscribe:
			if err := aux.Subscribe(pkt.Endpoint); err != nil {
				p.reject(link, pkt, err)
			}
		default:
			log.Debug().Str("kind", pkt.Kind.String()).Str("endpoint", pkt.Endpoint.String()).Msg("ignoring bridge packet")
		}
	})
}

func (p *Port) reject(link *Link, pkt Packet, err error) {
	log.Debug().Err(err).Str("kind", pkt.Kind.String()).Str("endpoint", pkt.Endpoint.String()).Msg("aux request rejected")
	if sendErr := link.Send(Packet{Kind: KindError, Endpoint: pkt.Endpoint, Data: []byte{attCode(err)}}); sendErr != nil {
		log.Warn().Err(sendErr).Msg("error response send failed")
	}
}

func attCode(err error) byte {
	switch {
	case errors.Is(err, emulator.ErrUnknownEndpoint), errors.Is(err, emulator.ErrAttrNotFound):
		return ATTAttributeNotFound
	case errors.Is(err, emulator.ErrNotReadable):
		return ATTReadNotPermitted
	case errors.Is(err, emulator.ErrNotWritable):
		return ATTWriteNotPermitted
	case errors.Is(err, emulator.ErrNotNotifiable):
		return ATTRequestNotSupported
	default:
		return ATTUnlikelyError
	}
}
