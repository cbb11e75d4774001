package dea

import (
	"context"
	"errors"

	"girvi.org/internal/audit"
	"girvi.org/internal/obs"
)

// Transactor is the contract a postable business document implements to
// generate its postings. Transactions must be a pure function of the
// document's current financial state, returning empty legs when the document
// has no financial effect.
//
// Documents own their material-change comparison (only the fields that feed
// Transactions matter) and pass the verdict into OnBeforeSave; the engine
// stays ignorant of document fields.
type Transactor interface {
	TransactorOwner() OwnerRef
	Transactions() ([]LedgerLeg, []AccountLeg, error)
}

// ParentedTransactor optionally links a document's entry to a parent
// document, e.g. a loan payment to its loan.
type ParentedTransactor interface {
	Transactor
	TransactorParent() *OwnerRef
}

func parentOf(doc Transactor) *OwnerRef {
	if p, ok := doc.(ParentedTransactor); ok {
		return p.TransactorParent()
	}
	return nil
}

// OnBeforeSave runs before an existing document is persisted with changes.
// If the change is material it undoes the document's previous financial
// effect and posts the new one, all in one atomic unit:
//
//   - when a statement already absorbed the entry's postings, they are
//     discarded outright rather than reversed, so the snapshot baseline
//     keeps its meaning;
//   - otherwise an explicit reversal is posted, leaving a visible trail of
//     the undo and the redo.
//
// Creations go through OnAfterSave instead.
func (e *Engine) OnBeforeSave(ctx context.Context, old, updated Transactor, materiallyChanged bool) error {
	if old == nil || !materiallyChanged {
		return nil
	}
	owner := old.TransactorOwner()
	return e.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.LockOwner(owner); err != nil {
			return err
		}
		entry, err := e.getOrCreateEntryTx(tx, owner, parentOf(old))
		if err != nil {
			return err
		}
		cutoff, absorbed, err := tx.LatestStatementTouching(entry.ID)
		if err != nil {
			return err
		}
		if absorbed && cutoff.After(entry.CreatedAt) {
			if err := tx.DeleteEntryPostings(entry.ID); err != nil {
				return err
			}
			obs.DiscardRecorded()
			_ = audit.LogEvent(ctx, "dea.postings_discarded", map[string]any{
				"owner": owner.String(),
				"entry": entry.ID,
			})
		} else {
			oldLedger, oldAccount, err := old.Transactions()
			if err != nil {
				return err
			}
			if err := e.postTx(tx, entry, ReverseLedgerLegs(oldLedger), ReverseAccountLegs(oldAccount)); err != nil {
				return err
			}
			obs.ReversalRecorded()
			_ = audit.LogEvent(ctx, "dea.postings_reversed", map[string]any{
				"owner": owner.String(),
				"entry": entry.ID,
			})
		}
		newLedger, newAccount, err := updated.Transactions()
		if err != nil {
			return err
		}
		return e.postTx(tx, entry, newLedger, newAccount)
	})
}

// OnAfterSave runs after a document is persisted. Only a freshly created
// document posts here; updates have already posted in OnBeforeSave.
func (e *Engine) OnAfterSave(ctx context.Context, doc Transactor, created bool) error {
	if !created {
		return nil
	}
	ledgerLegs, accountLegs, err := doc.Transactions()
	if err != nil {
		return err
	}
	if len(ledgerLegs) == 0 && len(accountLegs) == 0 {
		return nil
	}
	owner := doc.TransactorOwner()
	return e.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.LockOwner(owner); err != nil {
			return err
		}
		entry, err := e.getOrCreateEntryTx(tx, owner, parentOf(doc))
		if err != nil {
			return err
		}
		return e.postTx(tx, entry, ledgerLegs, accountLegs)
	})
}

// OnDelete unwinds a document's financial effect when the document itself is
// removed, using the same discard-versus-reverse rule as the edit path.
func (e *Engine) OnDelete(ctx context.Context, doc Transactor) error {
	owner := doc.TransactorOwner()
	return e.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.LockOwner(owner); err != nil {
			return err
		}
		entry, err := tx.EntryByOwner(owner)
		if errors.Is(err, ErrNotFound) {
			return nil // never posted
		}
		if err != nil {
			return err
		}
		cutoff, absorbed, err := tx.LatestStatementTouching(entry.ID)
		if err != nil {
			return err
		}
		if absorbed && cutoff.After(entry.CreatedAt) {
			if err := tx.DeleteEntryPostings(entry.ID); err != nil {
				return err
			}
			obs.DiscardRecorded()
			_ = audit.LogEvent(ctx, "dea.postings_discarded", map[string]any{
				"owner": owner.String(),
				"entry": entry.ID,
			})
			return nil
		}
		ledgerLegs, accountLegs, err := doc.Transactions()
		if err != nil {
			return err
		}
		if err := e.postTx(tx, entry, ReverseLedgerLegs(ledgerLegs), ReverseAccountLegs(accountLegs)); err != nil {
			return err
		}
		obs.ReversalRecorded()
		return nil
	})
}
