package emulator

import (
	"errors"
	"fmt"

	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownEndpoint = errors.New("emulator: unknown endpoint")
	ErrAttrNotFound    = errors.New("emulator: attribute not found")
	ErrNotReadable     = errors.New("emulator: endpoint not readable")
	ErrNotWritable     = errors.New("emulator: endpoint not writable")
	ErrNotNotifiable   = errors.New("emulator: endpoint does not notify")
)

// EndpointNotifier pushes a value to a subscribed auxiliary characteristic.
type EndpointNotifier interface {
	NotifyEndpoint(e model.Endpoint, b []byte) bool
}

// Aux serves the model-specific side characteristics next to the primary
// write/notify pair. All values come from the profile or the state store.
type Aux struct {
	profile  model.Profile
	store    *state.Store
	notifier EndpointNotifier
}

func NewAux(profile model.Profile, store *state.Store, notifier EndpointNotifier) *Aux {
	return &Aux{profile: profile, store: store, notifier: notifier}
}

func (a *Aux) characteristic(e model.Endpoint) (model.Characteristic, error) {
	c, ok := a.profile.Characteristic(e)
	if !ok {
		return model.Characteristic{}, fmt.Errorf("%w: %s on %s", ErrUnknownEndpoint, e, a.profile.ID)
	}
	return c, nil
}

func (a *Aux) Read(e model.Endpoint) ([]byte, error) {
	c, err := a.characteristic(e)
	if err != nil {
		return nil, err
	}
	if !c.Read {
		return nil, fmt.Errorf("%w: %s", ErrNotReadable, c.UUID)
	}
	return a.value(c)
}

// Write accepts a value on a writable characteristic. Characteristics that
// notify on write answer with their current value.
func (a *Aux) Write(e model.Endpoint, data []byte) error {
	c, err := a.characteristic(e)
	if err != nil {
		return err
	}
	if !c.Write {
		return fmt.Errorf("%w: %s", ErrNotWritable, c.UUID)
	}
	log.Debug().Str("uuid", c.UUID).Int("len", len(data)).Msg("aux write")
	if c.NotifyOnWrite {
		return a.push(c)
	}
	return nil
}

func (a *Aux) Subscribe(e model.Endpoint) error {
	c, err := a.characteristic(e)
	if err != nil {
		return err
	}
	if !c.Notify {
		return fmt.Errorf("%w: %s", ErrNotNotifiable, c.UUID)
	}
	log.Debug().Str("uuid", c.UUID).Msg("aux subscribe")
	if c.NotifyOnSubscribe {
		return a.push(c)
	}
	return nil
}

func (a *Aux) push(c model.Characteristic) error {
	b, err := a.value(c)
	if err != nil {
		return err
	}
	if a.notifier != nil && !a.notifier.NotifyEndpoint(c.Endpoint, b) {
		log.Warn().Str("uuid", c.UUID).Msg("aux notification not delivered")
	}
	return nil
}

func (a *Aux) value(c model.Characteristic) ([]byte, error) {
	switch c.Source {
	case model.SourceStatic:
		return append([]byte(nil), c.Value...), nil
	case model.SourceStatus:
		return StatusBlock(a.store.Snapshot(), c.StatusTracksBusy), nil
	case model.SourceIdentity:
		s, ok := a.profile.Identity.Field(c.IdentityField)
		if !ok {
			return nil, fmt.Errorf("%w: identity field %q", ErrAttrNotFound, c.IdentityField)
		}
		return []byte(s), nil
	case model.SourceNotFound:
		return nil, fmt.Errorf("%w: %s", ErrAttrNotFound, c.UUID)
	default:
		return []byte{}, nil
	}
}

// StatusBlock builds the 12-byte film and battery status. Battery is on a
// 0..200 scale and byte 9 reads 0xFF while not charging.
func StatusBlock(s state.Snapshot, tracksBusy bool) []byte {
	out := make([]byte, 12)
	out[0] = s.PhotosRemaining
	out[1] = 0x01
	if tracksBusy && s.PrinterBusy {
		out[1] = 0x00
	}
	out[3] = 0x15
	out[6] = 0x4F
	out[8] = byte(uint16(s.BatteryPercentage) * 2)
	out[9] = 0xFF
	if s.Charging {
		out[9] = 0x00
	}
	out[10] = 0x0F
	return out
}
