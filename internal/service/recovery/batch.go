package recovery

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
)

const maxPageSize = 1000

// BatchOptions bound a batch run. Zero values fall back to the service defaults.
type BatchOptions struct {
	DryRun bool `json:"dry_run"`
	// Resume after this user id; 0 starts from the beginning.
	StartAfter int64 `json:"start_after"`
	PageSize   int   `json:"page_size"`
	// Per-user absolute delta above which a change is skipped.
	MaxPointChange int `json:"max_point_change"`
	// Absolute points changed across the run before it halts.
	MaxTotalChange int `json:"max_total_change"`
	// Error rate that halts the run once MinSample users were processed.
	MaxErrorRate float64       `json:"max_error_rate"`
	MinSample    int           `json:"min_sample"`
	PageDelay    time.Duration `json:"page_delay"`
}

// BatchError is one user the run could not repair.
type BatchError struct {
	UserID int64  `json:"user_id"`
	Handle string `json:"handle,omitempty"`
	Delta  int    `json:"delta,omitempty"`
	Error  string `json:"error"`
}

// BatchResult summarizes a batch run. LastProcessedID is the resume point.
type BatchResult struct {
	DryRun          bool         `json:"dry_run"`
	Processed       int          `json:"processed"`
	NoChange        int          `json:"no_change"`
	Applied         int          `json:"applied"`
	Skipped         int          `json:"skipped"`
	Failed          int          `json:"failed"`
	TotalChange     int          `json:"total_change"`
	LastProcessedID int64        `json:"last_processed_id"`
	Halted          bool         `json:"halted"`
	HaltReason      string       `json:"halt_reason,omitempty"`
	Changes         []*Log       `json:"changes,omitempty"`
	Errors          []BatchError `json:"errors,omitempty"`
}

// ErrorRate is the share of processed users that ended in Errors.
func (r *BatchResult) ErrorRate() float64 {
	if r.Processed == 0 {
		return 0
	}
	return float64(len(r.Errors)) / float64(r.Processed)
}

func (s *Service) withDefaults(o BatchOptions) BatchOptions {
	d := s.defaults
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.PageSize <= 0 || o.PageSize > maxPageSize {
		o.PageSize = maxPageSize
	}
	if o.MaxPointChange <= 0 {
		o.MaxPointChange = d.MaxPointChange
	}
	if o.MaxTotalChange <= 0 {
		o.MaxTotalChange = d.MaxTotalChange
	}
	if o.MaxErrorRate <= 0 {
		o.MaxErrorRate = d.MaxErrorRate
	}
	if o.MinSample <= 0 {
		o.MinSample = d.MinSample
	}
	if o.PageDelay <= 0 {
		o.PageDelay = d.PageDelay
	}
	return o
}

// BatchRecover walks all users by id and repairs drifted totals. It halts with
// MIGRATION_PARTIAL_FAILURE when the run's total change or error rate crosses
// its budget; the result's LastProcessedID tells where to resume.
func (s *Service) BatchRecover(ctx context.Context, opts BatchOptions) (res *BatchResult, err error) {
	defer apperrors.Recover("recovery.BatchRecover", &err)

	opts = s.withDefaults(opts)
	res = &BatchResult{DryRun: opts.DryRun, LastProcessedID: opts.StartAfter}
	s.log.Info().
		Bool("dry_run", opts.DryRun).
		Int64("start_after", opts.StartAfter).
		Int("max_point_change", opts.MaxPointChange).
		Int("max_total_change", opts.MaxTotalChange).
		Msg("batch recovery started")

	after := opts.StartAfter
	for {
		ids, err := s.store.ListUserIDs(ctx, after, opts.PageSize)
		if err != nil {
			return res, s.halt(res, fmt.Sprintf("listing users failed: %v", err))
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return res, s.halt(res, "cancelled")
			}
			if reason, stop := s.processOne(ctx, id, opts, res); stop {
				return res, s.halt(res, reason)
			}
			if res.Processed >= opts.MinSample && res.ErrorRate() > opts.MaxErrorRate {
				return res, s.halt(res, fmt.Sprintf("error rate %.2f exceeds %.2f", res.ErrorRate(), opts.MaxErrorRate))
			}
		}
		if len(ids) < opts.PageSize {
			break
		}
		after = ids[len(ids)-1]

		if opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return res, s.halt(res, "cancelled")
			case <-time.After(opts.PageDelay):
			}
		}
	}

	s.log.Info().
		Int("processed", res.Processed).
		Int("applied", res.Applied).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("total_change", res.TotalChange).
		Int64("last_processed_id", res.LastProcessedID).
		Msg("batch recovery finished")
	return res, nil
}

// processOne handles a single user. It returns stop=true, leaving
// LastProcessedID untouched, when applying the change would exceed the run's
// total change budget.
func (s *Service) processOne(ctx context.Context, id int64, opts BatchOptions, res *BatchResult) (string, bool) {
	p, err := s.store.LoadProfileByID(ctx, id)
	if err != nil {
		res.Processed++
		res.Failed++
		res.LastProcessedID = id
		res.Errors = append(res.Errors, BatchError{UserID: id, Error: err.Error()})
		return "", false
	}

	l := s.plan(p, opts.DryRun)
	if l.Status == StatusNoChangeNeeded {
		res.Processed++
		res.NoChange++
		res.LastProcessedID = id
		return "", false
	}

	delta := abs(l.Delta)
	if delta > opts.MaxPointChange {
		l.skip(fmt.Sprintf("delta %d exceeds max point change %d", l.Delta, opts.MaxPointChange))
		res.Processed++
		res.Skipped++
		res.LastProcessedID = id
		res.Changes = append(res.Changes, l)
		res.Errors = append(res.Errors, BatchError{UserID: id, Handle: l.Handle, Delta: l.Delta, Error: l.Reason})
		s.log.Warn().Int64("user_id", id).Int("delta", l.Delta).Msg("recovery change exceeds per-user limit, skipped")
		return "", false
	}
	if opts.MaxTotalChange > 0 && res.TotalChange+delta > opts.MaxTotalChange {
		return fmt.Sprintf("total change would exceed %d", opts.MaxTotalChange), true
	}

	res.Processed++
	res.LastProcessedID = id
	res.Changes = append(res.Changes, l)
	if opts.DryRun {
		l.skip("dry run")
		res.Skipped++
		res.TotalChange += delta
		return "", false
	}
	if err := s.apply(ctx, l, reasonRecovery); err != nil {
		res.Failed++
		res.Errors = append(res.Errors, BatchError{UserID: id, Handle: l.Handle, Delta: l.Delta, Error: err.Error()})
		return "", false
	}
	res.Applied++
	res.TotalChange += abs(l.AppliedTotal - l.StoredTotal)
	return "", false
}

func (s *Service) halt(res *BatchResult, reason string) error {
	res.Halted = true
	res.HaltReason = reason
	s.log.Warn().
		Str("reason", reason).
		Int("processed", res.Processed).
		Int64("last_processed_id", res.LastProcessedID).
		Msg("batch recovery halted")
	return apperrors.New(apperrors.ErrCodeMigrationPartial, "batch recovery halted: "+reason).
		WithDetail("last_processed_id", res.LastProcessedID).
		WithDetail("processed", res.Processed)
}
