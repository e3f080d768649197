package activity

import (
	"context"
	"log/slog"
	"time"

	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
)

// Recorder appends status observations and derives seeding durations from
// the append-only log.
type Recorder struct {
	Store  ports.StatusStore
	Logger *slog.Logger
	Now    func() time.Time
}

func NewRecorder(store ports.StatusStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Store: store, Logger: logger, Now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, s domain.Status) error {
	if s.Timestamp.IsZero() {
		s.Timestamp = r.Now().UTC()
	}
	return r.Store.AppendStatus(ctx, s)
}

// SeedingDuration sums (t[i] - t[i-1]) over consecutive status rows where
// both rows are seeding and the gap is under maxGap. A non-seeding row
// resets the run; a gap of maxGap or more counts as offline time and is
// not accrued. The result is pure over the status table.
func (r *Recorder) SeedingDuration(ctx context.Context, torrentHash string, maxGap time.Duration) (time.Duration, error) {
	statuses, err := r.Store.ListStatuses(ctx, torrentHash)
	if err != nil {
		return 0, err
	}
	return seedingDuration(statuses, maxGap), nil
}

func seedingDuration(statuses []domain.Status, maxGap time.Duration) time.Duration {
	var total time.Duration
	var lastSeeding *time.Time
	for i := range statuses {
		s := statuses[i]
		if !s.IsSeeding {
			lastSeeding = nil
			continue
		}
		if lastSeeding != nil {
			gap := s.Timestamp.Sub(*lastSeeding)
			if gap > 0 && gap < maxGap {
				total += gap
			}
		}
		ts := s.Timestamp
		lastSeeding = &ts
	}
	return total
}

// NeverSeeded returns the hashes that have observations but no seeding row.
func (r *Recorder) NeverSeeded(ctx context.Context, ownerUserID string) ([]string, error) {
	return r.Store.NeverSeededHashes(ctx, ownerUserID)
}

// Prune removes status rows older than the retention window.
func (r *Recorder) Prune(ctx context.Context, retentionDays int) {
	cutoff := r.Now().UTC().AddDate(0, 0, -retentionDays)
	deleted, err := r.Store.PruneStatuses(ctx, cutoff)
	if err != nil {
		r.Logger.Warn("status prune failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		r.Logger.Info("pruned status records", slog.Int64("count", deleted))
	}
}
