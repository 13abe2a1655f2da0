package state

import (
	"errors"
	"fmt"
	"sync"
)

const (
	MaxBattery = 100
	// MaxPhotos is the largest film count the 4-bit wire field can carry.
	MaxPhotos = 15
	// LowBatteryThreshold rejects prints below this percentage.
	LowBatteryThreshold = 20
)

var (
	ErrBatteryRange = errors.New("state: battery percentage out of range")
	ErrPhotosRange  = errors.New("state: photos remaining out of range")
)

// Print modes carried in the first byte of a color table upload.
const (
	PrintModeRich    uint8 = 0x00
	PrintModeFun1    uint8 = 0x01
	PrintModeFun2    uint8 = 0x02
	PrintModeNatural uint8 = 0x03
)

// PrintModeName returns a label for mode and whether it is a known mode.
func PrintModeName(mode uint8) (string, bool) {
	switch mode {
	case PrintModeRich:
		return "rich", true
	case PrintModeFun1:
		return "fun1", true
	case PrintModeFun2:
		return "fun2", true
	case PrintModeNatural:
		return "natural", true
	default:
		return fmt.Sprintf("unknown(0x%02x)", mode), false
	}
}

type Accelerometer struct {
	X           int16 `json:"x" yaml:"x"`
	Y           int16 `json:"y" yaml:"y"`
	Z           int16 `json:"z" yaml:"z"`
	Orientation uint8 `json:"orientation" yaml:"orientation"`
}

// Snapshot is a copy of the printer's runtime state.
type Snapshot struct {
	BatteryPercentage uint8         `json:"battery_percentage" yaml:"battery_percentage"`
	PhotosRemaining   uint8         `json:"photos_remaining" yaml:"photos_remaining"`
	Charging          bool          `json:"is_charging" yaml:"is_charging"`
	LifetimePrints    uint32        `json:"lifetime_print_count" yaml:"lifetime_print_count"`
	CoverOpen         bool          `json:"cover_open" yaml:"cover_open"`
	PrinterBusy       bool          `json:"printer_busy" yaml:"printer_busy"`
	Accelerometer     Accelerometer `json:"accelerometer" yaml:"accelerometer"`
	AutoSleepMinutes  uint8         `json:"auto_sleep_timeout" yaml:"auto_sleep_timeout"`
	PrintMode         uint8         `json:"print_mode" yaml:"print_mode"`
	SuspendDecrement  bool          `json:"suspend_decrement" yaml:"suspend_decrement"`
}

// BatteryState maps the percentage onto the four wire tiers:
// 3 good, 2 medium, 1 low, 0 critical.
func (s Snapshot) BatteryState() uint8 {
	switch {
	case s.BatteryPercentage > 75:
		return 3
	case s.BatteryPercentage > 50:
		return 2
	case s.BatteryPercentage > 25:
		return 1
	default:
		return 0
	}
}

func Defaults() Snapshot {
	return Snapshot{
		BatteryPercentage: 85,
		PhotosRemaining:   8,
		LifetimePrints:    35,
		AutoSleepMinutes:  5,
		PrintMode:         PrintModeRich,
	}
}

// Store guards one printer's state. The emulator reads it per frame and
// writes only the counters and settings the wire protocol changes; every
// other field is owned by the configuration side.
type Store struct {
	mu       sync.RWMutex
	snap     Snapshot
	watchers []func(Snapshot)
}

func NewStore(initial Snapshot) *Store {
	return &Store{snap: initial}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Watch registers fn to receive the new state after every mutation.
func (s *Store) Watch(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Store) update(mut func(*Snapshot) error) error {
	s.mu.Lock()
	if err := mut(&s.snap); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snap
	watchers := append(([]func(Snapshot))(nil), s.watchers...)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(snap)
	}
	return nil
}

// Replace swaps in a whole snapshot after validating its ranges.
func (s *Store) Replace(next Snapshot) error {
	if next.BatteryPercentage > MaxBattery {
		return fmt.Errorf("%w: %d", ErrBatteryRange, next.BatteryPercentage)
	}
	if next.PhotosRemaining > MaxPhotos {
		return fmt.Errorf("%w: %d", ErrPhotosRange, next.PhotosRemaining)
	}
	return s.update(func(snap *Snapshot) error {
		*snap = next
		return nil
	})
}

func (s *Store) SetBattery(pct int) error {
	if pct < 0 || pct > MaxBattery {
		return fmt.Errorf("%w: %d", ErrBatteryRange, pct)
	}
	return s.update(func(snap *Snapshot) error {
		snap.BatteryPercentage = uint8(pct)
		return nil
	})
}

func (s *Store) SetPhotosRemaining(n int) error {
	if n < 0 || n > MaxPhotos {
		return fmt.Errorf("%w: %d", ErrPhotosRange, n)
	}
	return s.update(func(snap *Snapshot) error {
		snap.PhotosRemaining = uint8(n)
		return nil
	})
}

func (s *Store) SetCharging(v bool) {
	_ = s.update(func(snap *Snapshot) error {
		snap.Charging = v
		return nil
	})
}

func (s *Store) SetCoverOpen(v bool) {
	_ = s.update(func(snap *Snapshot) error {
		snap.CoverOpen = v
		return nil
	})
}

func (s *Store) SetPrinterBusy(v bool) {
	_ = s.update(func(snap *Snapshot) error {
		snap.PrinterBusy = v
		return nil
	})
}

func (s *Store) SetSuspendDecrement(v bool) {
	_ = s.update(func(snap *Snapshot) error {
		snap.SuspendDecrement = v
		return nil
	})
}

func (s *Store) SetAccelerometer(a Accelerometer) {
	_ = s.update(func(snap *Snapshot) error {
		snap.Accelerometer = a
		return nil
	})
}

func (s *Store) SetLifetimePrints(n uint32) {
	_ = s.update(func(snap *Snapshot) error {
		snap.LifetimePrints = n
		return nil
	})
}

func (s *Store) SetAutoSleep(minutes uint8) {
	_ = s.update(func(snap *Snapshot) error {
		snap.AutoSleepMinutes = minutes
		return nil
	})
}

func (s *Store) SetPrintMode(mode uint8) {
	_ = s.update(func(snap *Snapshot) error {
		snap.PrintMode = mode
		return nil
	})
}

// CommitPrint records one finished print: the lifetime counter always
// advances, and film is consumed unless decrement is suspended or the
// pack is already empty.
func (s *Store) CommitPrint() Snapshot {
	var out Snapshot
	_ = s.update(func(snap *Snapshot) error {
		snap.LifetimePrints++
		if !snap.SuspendDecrement && snap.PhotosRemaining > 0 {
			snap.PhotosRemaining--
		}
		out = *snap
		return nil
	})
	return out
}
