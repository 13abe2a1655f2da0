package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a persisted printer.
type File struct {
	Model string   `yaml:"model"`
	State Snapshot `yaml:"state"`
}

// LoadFile reads a persisted snapshot. A missing file reports ok=false.
func LoadFile(path string) (File, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, false, nil
		}
		return File{}, false, fmt.Errorf("state load failed (%s): %w", path, err)
	}
	out := File{State: Defaults()}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return File{}, false, fmt.Errorf("state parse failed (%s): %w", path, err)
	}
	if out.State.BatteryPercentage > MaxBattery {
		return File{}, false, fmt.Errorf("%w: %d", ErrBatteryRange, out.State.BatteryPercentage)
	}
	if out.State.PhotosRemaining > MaxPhotos {
		return File{}, false, fmt.Errorf("%w: %d", ErrPhotosRange, out.State.PhotosRemaining)
	}
	return out, true, nil
}

// SaveFile writes f atomically next to path.
func SaveFile(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("state encode failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Persister keeps a state file in step with a store. The model name is
// carried alongside so a model switch survives a restart.
type Persister struct {
	mu    sync.Mutex
	path  string
	model string
	last  Snapshot
}

func NewPersister(path, model string) *Persister {
	return &Persister{path: path, model: model}
}

func (p *Persister) Path() string {
	return p.path
}

// Attach saves the current snapshot and then every change after it.
func (p *Persister) Attach(store *Store) error {
	store.Watch(func(Snapshot) {
		// Re-read so an out-of-order watcher cannot write an older snapshot last.
		if err := p.Save(store.Snapshot()); err != nil {
			log.Warn().Err(err).Str("path", p.path).Msg("state save failed")
		}
	})
	return p.Save(store.Snapshot())
}

func (p *Persister) Save(s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = s
	return SaveFile(p.path, File{Model: p.model, State: s})
}

// Model is the model name the next start will load.
func (p *Persister) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// SetModel records the model for the next start. The running emulator keeps
// its current profile.
func (p *Persister) SetModel(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = name
	return SaveFile(p.path, File{Model: name, State: p.last})
}
