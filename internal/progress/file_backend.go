package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/tracing"
	"github.com/2beens/homecoach/pkg"
)

var _ Backend = (*FileBackend)(nil)

// FileBackend keeps the progress snapshot in a single JSON file on the local device.
type FileBackend struct {
	path  string
	clock calendar.Clock
}

func NewFileBackend(path string, clock calendar.Clock) *FileBackend {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	return &FileBackend{
		path:  path,
		clock: clock,
	}
}

func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(ctx context.Context) (_ Store, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "progress.backend.file.load")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	exists, err := pkg.PathExists(b.path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	if !exists {
		return NewStore(), nil
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStorageRead, b.path, err)
	}

	store, err := Import(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageRead, b.path, err)
	}
	return store, nil
}

// Save writes to a temp file next to the target and renames it over, so a
// crash mid-write never leaves a truncated snapshot behind.
func (b *FileBackend) Save(ctx context.Context, store Store) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "progress.backend.file.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	data, err := Export(store, b.clock.Now())
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}
