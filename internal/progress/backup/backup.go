package backup

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const fileNamePrefix = "homecoach-progress-"

//go:generate mockgen -source=$GOFILE -destination=backup_mocks_test.go -package=backup_test

type RemoteFile struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	List(ctx context.Context) ([]RemoteFile, error)
	Delete(ctx context.Context, id string) error
}

type exporter interface {
	Export() ([]byte, error)
}

// Backuper uploads progress snapshots and keeps only the newest ones remotely.
type Backuper struct {
	exporter exporter
	uploader uploader
	clock    calendar.Clock
	metrics  *metrics.Manager
	keep     int
}

func NewBackuper(exporter exporter, uploader uploader, clock calendar.Clock, metricsManager *metrics.Manager, keep int) *Backuper {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	return &Backuper{
		exporter: exporter,
		uploader: uploader,
		clock:    clock,
		metrics:  metricsManager,
		keep:     keep,
	}
}

func FileName(t time.Time) string {
	return fileNamePrefix + t.UTC().Format("2006-01-02T150405Z") + ".json"
}

// Run uploads one snapshot and prunes old ones. It returns the uploaded file id.
func (b *Backuper) Run(ctx context.Context) (_ string, err error) {
	start := time.Now()
	defer func() {
		if b.metrics == nil {
			return
		}
		result := "ok"
		if err != nil {
			result = "failed"
		}
		b.metrics.CounterBackups.WithLabelValues(result).Inc()
		b.metrics.HistogramBackupDuration.Observe(time.Since(start).Seconds())
	}()

	data, err := b.exporter.Export()
	if err != nil {
		return "", fmt.Errorf("export progress: %w", err)
	}

	name := FileName(b.clock.Now())
	id, err := b.uploader.Upload(ctx, name, data)
	if err != nil {
		return "", err
	}
	log.Infof("progress backup uploaded: %s (%s), %d bytes", name, id, len(data))

	if err := b.prune(ctx); err != nil {
		log.Warnf("progress backup prune: %s", err)
	}
	return id, nil
}

// prune only ever deletes our own snapshots, the folder may hold other files.
func (b *Backuper) prune(ctx context.Context) error {
	if b.keep <= 0 {
		return nil
	}
	listed, err := b.uploader.List(ctx)
	if err != nil {
		return err
	}
	files := slices.DeleteFunc(listed, func(f RemoteFile) bool {
		return !strings.HasPrefix(f.Name, fileNamePrefix)
	})
	if len(files) <= b.keep {
		return nil
	}

	slices.SortStableFunc(files, func(a, b RemoteFile) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	var errs error
	for _, f := range files[b.keep:] {
		if err := b.uploader.Delete(ctx, f.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		log.Debugf("old progress backup removed: %s", f.Name)
	}
	return errs
}

// Loop runs a backup every interval until ctx is done.
func (b *Backuper) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugln("progress backup loop stopped")
			return
		case <-ticker.C:
			if _, err := b.Run(ctx); err != nil {
				log.Errorf("progress backup failed: %s", err)
			}
		}
	}
}
