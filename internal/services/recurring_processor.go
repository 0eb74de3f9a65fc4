package services

import (
	"context"
	"log/slog"
	"time"

	"sheetsync/internal/core"
)

// MaxCatchUp bounds how many occurrences of one template are created per run.
// Older backlogs are worked off on later runs.
const MaxCatchUp = 24

// DueOccurrences lists the occurrence dates of rt that have not been
// processed yet, oldest first, up to limit. Inactive and deleted templates
// have none.
func DueOccurrences(rt core.RecurringTransaction, now time.Time, limit int) ([]time.Time, error) {
	if !rt.Active() || rt.IsDeleted || rt.StartDate.IsZero() || limit <= 0 {
		return nil, nil
	}
	checker, err := GetDuenessChecker(rt.Frequency)
	if err != nil {
		return nil, err
	}

	start := dayOf(rt.StartDate.Time)
	until := dayOf(now)
	if rt.EndDate != nil && !rt.EndDate.IsZero() && dayOf(rt.EndDate.Time).Before(until) {
		until = dayOf(rt.EndDate.Time)
	}
	var after time.Time
	if rt.LastProcessedDate != nil && !rt.LastProcessedDate.IsZero() {
		after = dayOf(rt.LastProcessedDate.Time)
	}

	var out []time.Time
	for k := 0; len(out) < limit; k++ {
		occ := checker.Occurrence(start, rt.AnchorDay(), k)
		if occ.After(until) {
			break
		}
		if occ.Before(start) || (!after.IsZero() && !occ.After(after)) {
			continue
		}
		out = append(out, occ)
	}
	return out, nil
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// OccurrenceID is the deterministic id of the transaction generated for one
// occurrence, so that reprocessing never duplicates it.
func OccurrenceID(templateID string, occ time.Time) string {
	return templateID + "_" + occ.Format("20060102")
}

// RecurringRun is the result of materializing due templates.
type RecurringRun struct {
	Transactions []core.Transaction
	// Templates are the templates whose lastProcessedDate moved.
	Templates []core.RecurringTransaction
}

// RecurringProcessor turns due recurring templates into transactions.
type RecurringProcessor struct {
	limit int
}

func NewRecurringProcessor(limit int) *RecurringProcessor {
	if limit <= 0 {
		limit = MaxCatchUp
	}
	return &RecurringProcessor{limit: limit}
}

// Process creates one transaction per due occurrence. Transactions whose id
// is in existing are not created again but still advance the template.
func (p *RecurringProcessor) Process(ctx context.Context, templates []core.RecurringTransaction, existing map[string]bool, now time.Time) RecurringRun {
	var run RecurringRun
	for _, rt := range templates {
		due, err := DueOccurrences(rt, now, p.limit)
		if err != nil {
			slog.ErrorContext(ctx, "Skipping recurring template",
				"recurring_id", rt.ID,
				"frequency", rt.Frequency,
				"error", err)
			continue
		}
		if len(due) == 0 {
			continue
		}

		for _, occ := range due {
			id := OccurrenceID(rt.ID, occ)
			if existing[id] {
				continue
			}
			tx := core.Transaction{
				ID:          id,
				Amount:      rt.Amount,
				Description: rt.Description,
				CategoryID:  rt.CategoryID,
				Date:        core.NewTimestamp(occ),
				RecurringID: rt.ID,
			}
			tx.Normalize(now)
			run.Transactions = append(run.Transactions, tx)
		}

		last := core.NewTimestamp(due[len(due)-1])
		rt.LastProcessedDate = &last
		rt.Touch(now)
		run.Templates = append(run.Templates, rt)

		slog.InfoContext(ctx, "Recurring template processed",
			"recurring_id", rt.ID,
			"occurrences", len(due),
			"last_processed", last.String())
	}
	return run
}
