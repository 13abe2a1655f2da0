package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/instaxemu/internal/emulator"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	filePrefix   = "print_"
	uploadPrefix = "image_"
	fileSuffix   = ".jpg"

	// MaxUploadSize bounds one image uploaded through the panel.
	MaxUploadSize = 120 * 1024
)

var (
	ErrInvalidName = errors.New("storage: invalid file name")
	ErrNotFound    = errors.New("storage: file not found")
	ErrJobClosed   = errors.New("storage: job already closed")
	ErrTooLarge    = errors.New("storage: upload too large")
	ErrEmpty       = errors.New("storage: upload is empty")
)

// FileInfo describes one stored print.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Stats summarizes the store.
type Stats struct {
	Files     int   `json:"files"`
	UsedBytes int64 `json:"used_bytes"`
}

// FileStore keeps received print jobs as files under one directory.
type FileStore struct {
	root string
	now  func() time.Time
}

var _ emulator.JobSink = (*FileStore)(nil)

// NewFileStore constructs a store rooted at root, defaulting to local/prints.
func NewFileStore(root string) *FileStore {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = filepath.Join("local", "prints")
	}
	return &FileStore{root: resolved, now: time.Now}
}

func (s *FileStore) Root() string {
	return s.root
}

// OpenJobSink creates the file that will receive one print job.
func (s *FileStore) OpenJobSink(hint emulator.JobHint) (emulator.JobWriter, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: prepare root: %w", err)
	}
	id := uuid.New().String()
	name := fmt.Sprintf("%s%d_%s%s", filePrefix, s.now().Unix(), id[:8], fileSuffix)
	p, err := s.resolvePath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open job file: %w", err)
	}
	log.Debug().
		Str("job_id", id).
		Str("file", name).
		Uint32("expected", hint.ExpectedSize).
		Str("model", hint.Model).
		Msg("job file opened")
	return &fileJob{id: id, name: name, path: p, f: f}, nil
}

// SaveUpload stores an uploaded image as image_<unix>_<id>.jpg and returns
// the file name. Bodies over MaxUploadSize are rejected before anything is
// written.
func (s *FileStore) SaveUpload(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("storage: read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, MaxUploadSize)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("storage: prepare root: %w", err)
	}
	name := fmt.Sprintf("%s%d_%s%s", uploadPrefix, s.now().Unix(), uuid.New().String()[:8], fileSuffix)
	p, err := s.resolvePath(name)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: open upload file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(p)
		return "", fmt.Errorf("storage: write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return "", fmt.Errorf("storage: close upload: %w", err)
	}
	log.Info().Str("file", name).Int("bytes", len(data)).Msg("upload stored")
	return name, nil
}

// List returns stored prints and uploads, newest first.
func (s *FileStore) List() ([]FileInfo, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []FileInfo{}, nil
		}
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isStoredName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Name > out[j].Name
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

func (s *FileStore) Read(name string) ([]byte, error) {
	p, err := s.resolvePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

// Path resolves a stored file name to its absolute path.
func (s *FileStore) Path(name string) (string, error) {
	p, err := s.resolvePath(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	return p, nil
}

func (s *FileStore) Delete(name string) error {
	p, err := s.resolvePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	return nil
}

// DeleteAll removes every stored print and reports how many were removed.
func (s *FileStore) DeleteAll() (int, error) {
	files, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := s.Delete(f.Name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) Stats() (Stats, error) {
	files, err := s.List()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Files: len(files)}
	for _, f := range files {
		st.UsedBytes += f.Size
	}
	return st, nil
}

func (s *FileStore) resolvePath(name string) (string, error) {
	rel := strings.TrimSpace(name)
	if rel == "" || filepath.IsAbs(rel) || strings.ContainsAny(rel, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, rel))
	if filepath.Dir(p) != filepath.Clean(root) {
		return "", fmt.Errorf("%w: %q escapes root", ErrInvalidName, name)
	}
	return p, nil
}

func isStoredName(name string) bool {
	if !strings.HasSuffix(name, fileSuffix) {
		return false
	}
	return strings.HasPrefix(name, filePrefix) || strings.HasPrefix(name, uploadPrefix)
}

type fileJob struct {
	mu     sync.Mutex
	id     string
	name   string
	path   string
	f      *os.File
	closed bool
}

func (j *fileJob) ID() string   { return j.id }
func (j *fileJob) Name() string { return j.name }

func (j *fileJob) Write(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrJobClosed
	}
	return j.f.Write(p)
}

// Close keeps the file.
func (j *fileJob) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.f.Close()
}

// Abort closes and removes the partial file.
func (j *fileJob) Abort() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	closeErr := j.f.Close()
	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return closeErr
}
