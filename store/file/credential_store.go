package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goliatone/go-qbexport/core"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// CredentialStore keeps the credential record in a single JSON file. Save
// writes a temp file in the same directory and renames it over the target so
// readers never observe a partial record. There is no cross-process lock.
type CredentialStore struct {
	path  string
	codec core.CredentialCodec
	mu    sync.Mutex
}

type Option func(*CredentialStore)

func WithCodec(codec core.CredentialCodec) Option {
	return func(s *CredentialStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func NewCredentialStore(path string, opts ...Option) (*CredentialStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store/file: credential path is required")
	}
	store := &CredentialStore{path: path, codec: core.JSONCredentialCodec{}}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *CredentialStore) Path() string {
	return s.path
}

// Load returns core.ErrNotAuthenticated when the file does not exist.
// Corrupt files return a decode error.
func (s *CredentialStore) Load(_ context.Context) (core.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.CredentialRecord{}, core.ErrNotAuthenticated
		}
		return core.CredentialRecord{}, fmt.Errorf("store/file: read credential: %w", err)
	}
	record, err := s.codec.Decode(raw)
	if err != nil {
		return core.CredentialRecord{}, fmt.Errorf("store/file: %w", err)
	}
	return record, nil
}

func (s *CredentialStore) Save(_ context.Context, record core.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.codec.Encode(record)
	if err != nil {
		return fmt.Errorf("store/file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("store/file: create credential dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store/file: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmp.Chmod(fileMode); err != nil {
		cleanup()
		return fmt.Errorf("store/file: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		cleanup()
		return fmt.Errorf("store/file: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("store/file: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store/file: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store/file: replace credential: %w", err)
	}
	return nil
}

var _ core.CredentialStore = (*CredentialStore)(nil)
