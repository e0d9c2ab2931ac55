package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore persists one JSON document per experiment under a base
// directory. Writes go through a temp file and rename so a crash mid-write
// never leaves a torn record.
type FileStore struct {
	baseDir string
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: file store requires a base directory", ErrInvalidInput)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  logger.With(zap.String("component", "file_store")),
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *FileStore) Get(_ context.Context, id string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if id == "" || strings.ContainsAny(id, "/\\") {
		return nil, fmt.Errorf("%w: bad experiment id %q", ErrInvalidInput, id)
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read experiment %s: %w", id, err)
	}

	var exp Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("decode experiment %s: %w", id, err)
	}
	return &exp, nil
}

func (s *FileStore) Put(_ context.Context, exp *Experiment) error {
	if exp == nil {
		return ErrInvalidInput
	}
	if err := exp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	exp.UpdatedAt = time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = exp.UpdatedAt
	}

	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode experiment %s: %w", exp.ID, err)
	}

	tmp := s.path(exp.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write experiment %s: %w", exp.ID, err)
	}
	if err := os.Rename(tmp, s.path(exp.ID)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit experiment %s: %w", exp.ID, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) List(ctx context.Context) ([]*Experiment, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	entries, err := os.ReadDir(s.baseDir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	var out []*Experiment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		exp, err := s.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable experiment file",
				zap.String("file", name),
				zap.Error(err),
			)
			continue
		}
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
