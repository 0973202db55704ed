/*
recalc.go - Consumption recalculation on reading mutations

PURPOSE:
  Keeps the derived consumption columns consistent while readings are
  inserted, edited or deleted in any chronological order.

INVARIANT:
  For every reading R with chronological predecessor P:
    R.consumption_hp   = R.meter_hp   - P.meter_hp
    R.consumption_elec = R.meter_elec - P.meter_elec  (when both exist)
  Without a predecessor both derived fields are nil.

  A mutation can only change the predecessor of the mutated row itself and
  of the row that follows it, so each operation repairs at most those two
  (three when an update moves a reading to another date).

ATOMICITY:
  Each operation runs inside one TxStore.WithTx scope. Any error, including
  a regression detected after the row was written, rolls back the row
  write and the neighbor repair together.

MONOTONICITY:
  Insert and update both reject a meter_hp lower than the predecessor's.
  Update only checks when the patch sets meter_hp or moves the date, so a
  row that already sits below its predecessor (meter replacement, seeded
  history) can still have its notes or temperatures edited.

EXAMPLE:
  rc := energy.NewRecalculator(store)
  r, err := rc.Insert(ctx, energy.NewReading{Date: "2026-01-02", MeterHP: energy.Float(1020)})
  var reg *energy.RegressionError
  if errors.As(err, &reg) {
      // reg.Minimum is the lowest acceptable value
  }
*/
package energy

import (
	"context"

	"github.com/shopspring/decimal"
)

// Recalculator applies reading mutations and repairs derived consumption.
type Recalculator struct {
	store TxStore
}

// NewRecalculator creates a recalculator over store.
func NewRecalculator(store TxStore) *Recalculator {
	return &Recalculator{store: store}
}

// Consumption derives r's consumption relative to prev.
// Both results are nil when prev is nil. The electricity delta is nil when
// either side has no electricity value.
func Consumption(r Reading, prev *Reading) (hp, elec *float64) {
	if prev == nil {
		return nil, nil
	}
	hp = Float(delta(r.MeterHP, prev.MeterHP))
	if r.MeterElec != nil && prev.MeterElec != nil {
		elec = Float(delta(*r.MeterElec, *prev.MeterElec))
	}
	return hp, elec
}

// delta subtracts in decimal so that 1020.3 - 1000.1 is 20.2, not 20.199999999999932.
func delta(cur, prev float64) float64 {
	d, _ := decimal.NewFromFloat(cur).Sub(decimal.NewFromFloat(prev)).Float64()
	return d
}

// =============================================================================
// INSERT
// =============================================================================

// Insert validates and persists a new reading, then rebases its successor.
func (rc *Recalculator) Insert(ctx context.Context, in NewReading) (Reading, error) {
	r, err := in.validate()
	if err != nil {
		return Reading{}, err
	}

	err = rc.store.WithTx(ctx, func(s ReadingStore) error {
		prev, err := s.Predecessor(ctx, r.Date)
		if err != nil {
			return err
		}
		if err := checkMonotonic(r, prev); err != nil {
			return err
		}

		r.ConsumptionHP, r.ConsumptionElec = Consumption(r, prev)
		id, err := s.InsertReading(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id

		next, err := s.Successor(ctx, r.Date)
		if err != nil {
			return err
		}
		return rebase(ctx, s, next, &r)
	})
	if err != nil {
		return Reading{}, err
	}
	return r, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update merges patch into reading id and repairs every affected neighbor.
//
// The merged row is written first so that its own lookups see it at its
// effective date; this keeps the row from being its own predecessor when
// the date moves forward.
func (rc *Recalculator) Update(ctx context.Context, id ReadingID, patch ReadingPatch) (Reading, error) {
	var out Reading
	err := rc.store.WithTx(ctx, func(s ReadingStore) error {
		existing, err := s.GetReading(ctx, id)
		if err != nil {
			return err
		}
		merged, err := patch.apply(existing)
		if err != nil {
			return err
		}

		if err := s.UpdateReading(ctx, merged); err != nil {
			return err
		}

		prev, err := s.Predecessor(ctx, merged.Date)
		if err != nil {
			return err
		}
		// Only a new meter value or a new position can introduce a regression.
		// Rows already below their predecessor keep accepting other edits.
		if patch.MeterHP != nil || merged.Date != existing.Date {
			if err := checkMonotonic(merged, prev); err != nil {
				return err
			}
		}
		merged.ConsumptionHP, merged.ConsumptionElec = Consumption(merged, prev)
		if err := s.SetConsumption(ctx, merged.ID, merged.ConsumptionHP, merged.ConsumptionElec); err != nil {
			return err
		}

		next, err := s.Successor(ctx, merged.Date)
		if err != nil {
			return err
		}
		if err := rebase(ctx, s, next, &merged); err != nil {
			return err
		}

		// The row that used to follow the old date lost its predecessor.
		if merged.Date != existing.Date {
			oldNext, err := s.Successor(ctx, existing.Date)
			if err != nil {
				return err
			}
			if oldNext != nil && oldNext.ID != merged.ID {
				if err := reconcile(ctx, s, oldNext); err != nil {
					return err
				}
			}
		}

		out = merged
		return nil
	})
	if err != nil {
		return Reading{}, err
	}
	return out, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes reading id and rebases its successor onto its predecessor.
// A successor left without a predecessor gets nil consumption.
func (rc *Recalculator) Delete(ctx context.Context, id ReadingID) error {
	return rc.store.WithTx(ctx, func(s ReadingStore) error {
		existing, err := s.GetReading(ctx, id)
		if err != nil {
			return err
		}

		prev, err := s.Predecessor(ctx, existing.Date)
		if err != nil {
			return err
		}
		next, err := s.Successor(ctx, existing.Date)
		if err != nil {
			return err
		}

		if err := s.DeleteReading(ctx, id); err != nil {
			return err
		}
		return rebase(ctx, s, next, prev)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func checkMonotonic(r Reading, prev *Reading) error {
	if prev != nil && r.MeterHP < prev.MeterHP {
		return &RegressionError{
			Date:         r.Date,
			Got:          r.MeterHP,
			Minimum:      prev.MeterHP,
			PreviousDate: prev.Date,
		}
	}
	return nil
}

// rebase recomputes next's consumption against prev. Meter values of next
// are never touched. No-op when next is nil.
func rebase(ctx context.Context, s ReadingStore, next, prev *Reading) error {
	if next == nil {
		return nil
	}
	hp, elec := Consumption(*next, prev)
	return s.SetConsumption(ctx, next.ID, hp, elec)
}

// reconcile recomputes r against whatever currently precedes it.
func reconcile(ctx context.Context, s ReadingStore, r *Reading) error {
	prev, err := s.Predecessor(ctx, r.Date)
	if err != nil {
		return err
	}
	return rebase(ctx, s, r, prev)
}
