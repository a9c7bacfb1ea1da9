// Package assets persists emitted bundles and tracks the one currently served.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devbundle/internal/bundle"
	"github.com/wolfeidau/devbundle/internal/util"
)

// Snapshot is a published artifact and its version.
type Snapshot struct {
	Version  int64
	Artifact *bundle.Artifact
	Path     string
	ModTime  time.Time
	ETag     string
}

// Store writes artifacts atomically and holds the latest complete snapshot.
// Readers always observe either the previous or the new snapshot.
type Store struct {
	config  Config
	mu      sync.Mutex // serializes Publish
	version int64
	current atomic.Pointer[Snapshot]
}

// NewStore creates a new artifact store
func NewStore(config Config) *Store {
	return &Store{config: config}
}

// Path returns the file the bundle is written to
func (s *Store) Path() string {
	return filepath.Join(s.config.OutputDir, s.config.Filename)
}

// Current returns the latest published snapshot or nil before the first publish.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish writes the artifact to disk and only then makes it current, with a
// new monotonic version.
func (s *Store) Publish(ctx context.Context, artifact *bundle.Artifact) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path()
	if err := writeAtomic(ctx, path, artifact.Contents); err != nil {
		return nil, fmt.Errorf("failed to write bundle: %w", err)
	}

	s.version++
	snapshot := &Snapshot{
		Version:  s.version,
		Artifact: artifact,
		Path:     path,
		ModTime:  time.Now().UTC().Truncate(time.Second),
		ETag:     util.ETag(artifact.Contents),
	}
	s.current.Store(snapshot)

	zerolog.Ctx(ctx).Debug().Int64("version", snapshot.Version).Str("file", path).Int("bytes", len(artifact.Contents)).Msg("Published bundle")

	return snapshot, nil
}

// Clean removes everything inside the output directory.
func (s *Store) Clean(ctx context.Context) error {
	dir := filepath.Clean(s.config.OutputDir)
	if dir == "." || dir == string(filepath.Separator) || dir == "" {
		return fmt.Errorf("refusing to clean output directory %q", s.config.OutputDir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to clean %s: %w", entry.Name(), err)
		}
	}

	zerolog.Ctx(ctx).Info().Str("dir", dir).Int("removed", len(entries)).Msg("Cleaned output directory")
	return nil
}

// writeAtomic writes data to a temp file beside path and renames it into place,
// retrying transient failures.
func writeAtomic(ctx context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
		if err != nil {
			return struct{}{}, err
		}
		tmpName := tmp.Name()

		if err := writeAndClose(tmp, data); err != nil {
			_ = os.Remove(tmpName)
			return struct{}{}, err
		}

		if err := os.Rename(tmpName, path); err != nil {
			_ = os.Remove(tmpName)
			return struct{}{}, err
		}

		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)

	return err
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
