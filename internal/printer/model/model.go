package model

import (
	"errors"
	"fmt"
	"strings"
)

// ID is the wire-level model identifier.
type ID uint8

const (
	Mini   ID = 0
	Square ID = 1
	Wide   ID = 2
)

func (id ID) String() string {
	switch id {
	case Mini:
		return "mini"
	case Square:
		return "square"
	case Wide:
		return "wide"
	default:
		return fmt.Sprintf("model(%d)", uint8(id))
	}
}

var ErrUnknownModel = errors.New("model: unknown printer model")

// Identity holds the strings a printer reports about itself.
type Identity struct {
	ModelNumber  string `json:"model_number"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware_revision"`
	Hardware     string `json:"hardware_revision"`
	Software     string `json:"software_revision"`
	Manufacturer string `json:"manufacturer"`
	DeviceName   string `json:"device_name"`
}

// Profile is the static description of one printer model. Anything that
// differs between models only by value lives here; the emulator keeps
// branches only for behavior that differs in shape.
type Profile struct {
	ID          ID       `json:"id"`
	Name        string   `json:"name"`
	Width       uint16   `json:"width"`
	Height      uint16   `json:"height"`
	ChunkSize   int      `json:"chunk_size"`
	MaxFileSize int      `json:"max_file_size"`
	Identity    Identity `json:"identity"`

	// IdentifyByte is payload[3] of the identify reply.
	IdentifyByte byte `json:"-"`
	// DimensionCaps follow width/height in the bare capability reply.
	DimensionCaps []byte `json:"-"`
	// ImageSupportCaps follow width/height in the image-support sub-reply.
	ImageSupportCaps []byte `json:"-"`
	// BatteryKind is payload[2] of the battery sub-reply.
	BatteryKind byte `json:"-"`
	// FunctionClass is OR'd into the printer-function capability byte.
	FunctionClass byte `json:"-"`
	// AdditionalInfo is the model block inside the type-1 additional info reply.
	AdditionalInfo []byte `json:"-"`
	// HistoryFollowup sends a ready status frame after a print-history reply.
	HistoryFollowup bool `json:"-"`

	Characteristics []Characteristic `json:"-"`
}

var profiles = [...]Profile{
	Mini: {
		ID:          Mini,
		Name:        "Instax Mini Link",
		Width:       600,
		Height:      800,
		ChunkSize:   900,
		MaxFileSize: 105 * 1024,
		Identity: Identity{
			ModelNumber:  "FI033",
			Serial:       "70555555",
			Firmware:     "0101",
			Hardware:     "0000",
			Software:     "0003",
			Manufacturer: "FUJIFILM",
			DeviceName:   "INSTAX-70555555(BLE)",
		},
		IdentifyByte:     0x02,
		DimensionCaps:    []byte{0x02, 0x4B, 0x00, 0x06, 0x40, 0x00, 0x01, 0x00, 0x00, 0x00},
		ImageSupportCaps: []byte{0x02, 0x7B, 0x00, 0x02, 0x58, 0x00, 0x00, 0x00, 0x00, 0x00},
		BatteryKind:      0x03,
		FunctionClass:    0x30,
		AdditionalInfo:   []byte{0x02, 0xFF, 0x00, 0x01, 0x02},
		Characteristics:  miniCharacteristics,
	},
	Square: {
		ID:          Square,
		Name:        "Instax Square Link",
		Width:       800,
		Height:      800,
		ChunkSize:   1808,
		MaxFileSize: 105 * 1024,
		Identity: Identity{
			ModelNumber:  "FI017",
			Serial:       "50555555",
			Firmware:     "0101",
			Hardware:     "0001",
			Software:     "0002",
			Manufacturer: "FUJIFILM",
			DeviceName:   "INSTAX-50555555(IOS)",
		},
		IdentifyByte:     0x02,
		DimensionCaps:    []byte{0x02, 0x4B, 0x00, 0x06, 0x40, 0x00, 0x01, 0x00, 0x00, 0x00},
		ImageSupportCaps: []byte{0x02, 0x4B, 0x00, 0x06, 0x40, 0x00, 0x01, 0x00, 0x00, 0x00},
		BatteryKind:      0x03,
		FunctionClass:    0x20,
		AdditionalInfo:   []byte{0x02, 0xFF, 0x00, 0x01, 0x02},
		Characteristics:  squareCharacteristics,
	},
	Wide: {
		ID:          Wide,
		Name:        "Instax Wide Link",
		Width:       1260,
		Height:      840,
		ChunkSize:   900,
		MaxFileSize: 105 * 1024,
		Identity: Identity{
			ModelNumber:  "FI022",
			Serial:       "20555555",
			Firmware:     "0100",
			Hardware:     "0001",
			Software:     "0002",
			Manufacturer: "FUJIFILM",
			DeviceName:   "WIDE-205555",
		},
		IdentifyByte:     0x01,
		DimensionCaps:    []byte{0x02, 0x7B, 0x00, 0x05, 0x28, 0x00},
		ImageSupportCaps: []byte{0x02, 0x7B, 0x00, 0x05, 0x28, 0x00},
		BatteryKind:      0x01,
		FunctionClass:    0x10,
		AdditionalInfo:   []byte{0x1E, 0x00, 0x01, 0x01, 0x00},
		HistoryFollowup:  true,
		Characteristics:  wideCharacteristics,
	},
}

// Lookup returns the profile for id.
func Lookup(id ID) (Profile, error) {
	if int(id) >= len(profiles) {
		return Profile{}, fmt.Errorf("%w: id=%d", ErrUnknownModel, id)
	}
	return profiles[id], nil
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id ID) Profile {
	p, err := Lookup(id)
	if err != nil {
		panic(err)
	}
	return p
}

// LookupDimensions finds the model whose image size is exactly width x height.
func LookupDimensions(width, height uint16) (Profile, error) {
	for _, p := range profiles {
		if p.Width == width && p.Height == height {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %dx%d", ErrUnknownModel, width, height)
}

// Parse accepts a model name ("mini", "square", "wide") or its numeric id.
func Parse(raw string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mini", "0", "mini-link", "mini_link":
		return profiles[Mini], nil
	case "square", "1", "square-link", "square_link":
		return profiles[Square], nil
	case "wide", "2", "wide-link", "wide_link":
		return profiles[Wide], nil
	default:
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownModel, raw)
	}
}

// All lists every profile in id order.
func All() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles[:])
	return out
}

// QueryString answers the extended info query for selector sel.
func (p Profile) QueryString(sel byte) (string, bool) {
	switch sel {
	case 0x01:
		return p.Identity.ModelNumber, true
	case 0x02:
		return p.Identity.Serial, true
	case 0x03:
		return "0000", true
	case 0x04:
		return p.Identity.Firmware, true
	case 0x05:
		return p.Identity.Hardware, true
	case 0x06:
		return p.Identity.Software, true
	case 0x07:
		return p.Identity.Manufacturer, true
	case 0x08:
		return p.Identity.DeviceName, true
	case 0x09:
		return "00010012", true
	case 0x0A:
		return "00000001", true
	default:
		return "", false
	}
}

// Characteristic returns the GATT characteristic bound to endpoint e.
func (p Profile) Characteristic(e Endpoint) (Characteristic, bool) {
	for _, c := range p.Characteristics {
		if c.Endpoint == e {
			return c, true
		}
	}
	return Characteristic{}, false
}

// Field returns the identity string named by its json tag.
func (i Identity) Field(name string) (string, bool) {
	switch name {
	case "model_number":
		return i.ModelNumber, true
	case "serial":
		return i.Serial, true
	case "firmware_revision":
		return i.Firmware, true
	case "hardware_revision":
		return i.Hardware, true
	case "software_revision":
		return i.Software, true
	case "manufacturer":
		return i.Manufacturer, true
	case "device_name":
		return i.DeviceName, true
	default:
		return "", false
	}
}
