package dea

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"girvi.org/internal/ids"
	"girvi.org/internal/money"
	"girvi.org/internal/obs"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount (must be > 0)")
	ErrInvalidCurrency = errors.New("invalid currency")
)

// Classifier derives the balance nature of a counterparty's account, e.g.
// customers are debtors (debit-natured) and suppliers creditors.
type Classifier func(counterparty uuid.UUID) Nature

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier overrides the default everyone-is-a-debtor classification.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classify = c
		}
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is the double-entry accounting engine. All mutations go through a
// single Store.Atomic unit, so a failed operation leaves no partial postings.
type Engine struct {
	store    Store
	classify Classifier
	now      func() time.Time
}

// NewEngine constructs an engine over a store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		classify: func(uuid.UUID) Nature { return DebitNature },
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateLedger adds a node to the chart of accounts. The parent is addressed
// by id ("" for a root). Fails with ErrDuplicateLedgerName if (name, parent)
// already exists.
func (e *Engine) CreateLedger(ctx context.Context, name string, t AccountType, parentID string) (Ledger, error) {
	l := Ledger{ID: ids.New(), Name: name, Type: t, ParentID: parentID, CreatedAt: e.now()}
	err := e.store.Atomic(ctx, func(tx Tx) error {
		return tx.CreateLedger(l)
	})
	if err != nil {
		return Ledger{}, err
	}
	return l, nil
}

// EnsureLedger returns the ledger named under parent, creating it if absent.
func (e *Engine) EnsureLedger(ctx context.Context, name string, t AccountType, parentID string) (Ledger, error) {
	var out Ledger
	err := e.store.Atomic(ctx, func(tx Tx) error {
		existing, err := tx.FindLedger(name, parentID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrUnknownLedger) {
			return err
		}
		out = Ledger{ID: ids.New(), Name: name, Type: t, ParentID: parentID, CreatedAt: e.now()}
		return tx.CreateLedger(out)
	})
	if err != nil {
		return Ledger{}, err
	}
	return out, nil
}

// LedgerByName resolves a chart-wide unique ledger name.
func (e *Engine) LedgerByName(ctx context.Context, name string) (Ledger, error) {
	var out Ledger
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.LedgerByName(name)
		return err
	})
	return out, err
}

// Descendants lists the subtree below a ledger (excluding it), used for
// roll-up balances.
func (e *Engine) Descendants(ctx context.Context, ledgerID string) ([]Ledger, error) {
	var out []Ledger
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Descendants(ledgerID)
		return err
	})
	return out, err
}

// GetOrCreateAccount returns the counterparty's account, lazily creating it
// with the classified nature on first use. Idempotent.
func (e *Engine) GetOrCreateAccount(ctx context.Context, counterparty uuid.UUID) (Account, error) {
	var out Account
	err := e.store.Atomic(ctx, func(tx Tx) error {
		var err error
		out, err = e.getOrCreateAccountTx(tx, counterparty)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

func (e *Engine) getOrCreateAccountTx(tx Tx, counterparty uuid.UUID) (Account, error) {
	a, err := tx.AccountByCounterparty(counterparty)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}
	a = Account{
		ID:           ids.New(),
		Counterparty: counterparty,
		Nature:       e.classify(counterparty),
		CreatedAt:    e.now(),
	}
	if err := tx.CreateAccount(a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// GetOrCreateEntry returns the owner's latest journal entry, creating a
// fresh posting-free one if the owner has none.
func (e *Engine) GetOrCreateEntry(ctx context.Context, owner OwnerRef) (JournalEntry, error) {
	var out JournalEntry
	err := e.store.Atomic(ctx, func(tx Tx) error {
		var err error
		out, err = e.getOrCreateEntryTx(tx, owner, nil)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return out, nil
}

func (e *Engine) getOrCreateEntryTx(tx Tx, owner OwnerRef, parent *OwnerRef) (JournalEntry, error) {
	entry, err := tx.EntryByOwner(owner)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return JournalEntry{}, err
	}
	entry = JournalEntry{ID: ids.New(), CreatedAt: e.now(), Owner: owner, Parent: parent}
	if err := tx.CreateEntry(entry); err != nil {
		return JournalEntry{}, err
	}
	obs.EntryCreated()
	return entry, nil
}

// Post atomically appends the given legs to an entry. Names are resolved to
// ledgers and accounts (creating accounts lazily); the combined legs must
// balance per currency or the whole post fails with ErrUnbalancedEntry.
func (e *Engine) Post(ctx context.Context, entryID string, ledgerLegs []LedgerLeg, accountLegs []AccountLeg) error {
	return e.store.Atomic(ctx, func(tx Tx) error {
		entry, err := tx.EntryByID(entryID)
		if err != nil {
			return err
		}
		if err := tx.LockOwner(entry.Owner); err != nil {
			return err
		}
		return e.postTx(tx, entry, ledgerLegs, accountLegs)
	})
}

func (e *Engine) postTx(tx Tx, entry JournalEntry, ledgerLegs []LedgerLeg, accountLegs []AccountLeg) error {
	ledgerLegs, accountLegs = dropZeroLegs(ledgerLegs, accountLegs)
	if len(ledgerLegs) == 0 && len(accountLegs) == 0 {
		return nil
	}
	if err := validateLegs(ledgerLegs, accountLegs); err != nil {
		return err
	}

	now := e.now()
	for _, leg := range ledgerLegs {
		tr := LedgerTransaction{ID: ids.New(), EntryID: entry.ID, Amount: leg.Amount, CreatedAt: now}
		if leg.Debit != "" {
			l, err := tx.LedgerByName(leg.Debit)
			if err != nil {
				return fmt.Errorf("debit leg %q: %w", leg.Debit, err)
			}
			tr.DebitLedgerID = l.ID
		}
		if leg.Credit != "" {
			l, err := tx.LedgerByName(leg.Credit)
			if err != nil {
				return fmt.Errorf("credit leg %q: %w", leg.Credit, err)
			}
			tr.CreditLedgerID = l.ID
		}
		if err := tx.InsertLedgerTransaction(tr); err != nil {
			return err
		}
		obs.PostingRecorded("ledger")
	}
	for _, leg := range accountLegs {
		contra, err := tx.LedgerByName(leg.Ledger)
		if err != nil {
			return fmt.Errorf("contra leg %q: %w", leg.Ledger, err)
		}
		acct, err := e.getOrCreateAccountTx(tx, leg.Counterparty)
		if err != nil {
			return err
		}
		tr := AccountTransaction{
			ID:        ids.New(),
			EntryID:   entry.ID,
			LedgerID:  contra.ID,
			AccountID: acct.ID,
			Direction: leg.Direction,
			Reason:    leg.Reason,
			Amount:    leg.Amount,
			CreatedAt: now,
		}
		if err := tx.InsertAccountTransaction(tr); err != nil {
			return err
		}
		obs.PostingRecorded("account")
	}
	return nil
}

func dropZeroLegs(ledgerLegs []LedgerLeg, accountLegs []AccountLeg) ([]LedgerLeg, []AccountLeg) {
	ll := ledgerLegs[:0:0]
	for _, leg := range ledgerLegs {
		if !leg.Amount.IsZero() {
			ll = append(ll, leg)
		}
	}
	al := accountLegs[:0:0]
	for _, leg := range accountLegs {
		if !leg.Amount.IsZero() {
			al = append(al, leg)
		}
	}
	return ll, al
}

// validateLegs enforces Σdebit == Σcredit per currency across every side the
// legs touch. An account leg is balanced by construction (account plus
// contra ledger); a one-sided ledger leg must be offset by another leg.
func validateLegs(ledgerLegs []LedgerLeg, accountLegs []AccountLeg) error {
	var debit, credit money.Balance
	for _, leg := range ledgerLegs {
		if !leg.Amount.IsPositive() {
			return fmt.Errorf("%w: ledger leg %s", ErrInvalidAmount, leg.Amount)
		}
		if leg.Amount.Currency == "" {
			return ErrInvalidCurrency
		}
		if leg.Debit == "" && leg.Credit == "" {
			return fmt.Errorf("%w: ledger leg names no side", ErrUnknownLedger)
		}
		if leg.Debit != "" {
			debit = debit.AddMoney(leg.Amount)
		}
		if leg.Credit != "" {
			credit = credit.AddMoney(leg.Amount)
		}
	}
	for _, leg := range accountLegs {
		if !leg.Amount.IsPositive() {
			return fmt.Errorf("%w: account leg %s", ErrInvalidAmount, leg.Amount)
		}
		if leg.Amount.Currency == "" {
			return ErrInvalidCurrency
		}
		if leg.Ledger == "" {
			return fmt.Errorf("%w: account leg names no contra ledger", ErrUnknownLedger)
		}
		if leg.Direction == Dr {
			debit = debit.AddMoney(leg.Amount)
			credit = credit.AddMoney(leg.Amount) // contra side
		} else {
			credit = credit.AddMoney(leg.Amount)
			debit = debit.AddMoney(leg.Amount) // contra side
		}
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s vs credit %s", ErrUnbalancedEntry, debit, credit)
	}
	return nil
}

// ReverseLedgerLegs swaps the debit and credit side of every leg, negating
// the legs' effect without touching history.
func ReverseLedgerLegs(legs []LedgerLeg) []LedgerLeg {
	out := make([]LedgerLeg, len(legs))
	for i, leg := range legs {
		out[i] = LedgerLeg{Debit: leg.Credit, Credit: leg.Debit, Amount: leg.Amount}
	}
	return out
}

// ReverseAccountLegs flips the direction of every leg.
func ReverseAccountLegs(legs []AccountLeg) []AccountLeg {
	out := make([]AccountLeg, len(legs))
	for i, leg := range legs {
		out[i] = leg
		out[i].Direction = leg.Direction.Opposite()
	}
	return out
}

// AccountBalance computes the counterparty account's current balance via the
// baseline-plus-delta algorithm: latest statement closing balance plus the
// nature-signed movements at or after the statement.
func (e *Engine) AccountBalance(ctx context.Context, accountID string) (money.Balance, error) {
	defer func(start time.Time) { obs.ObserveBalanceRead(time.Since(start)) }(time.Now())
	var out money.Balance
	err := e.store.View(ctx, func(tx Tx) error {
		acct, err := tx.AccountByID(accountID)
		if err != nil {
			return err
		}
		out, _, _, err = e.accountBalanceTx(tx, acct)
		return err
	})
	return out, err
}

func (e *Engine) accountBalanceTx(tx Tx, acct Account) (bal, debit, credit money.Balance, err error) {
	var baseline money.Balance
	var since time.Time
	if st, serr := tx.LatestAccountStatement(acct.ID); serr == nil {
		baseline = st.ClosingBalance
		since = st.CreatedAt
	} else if !errors.Is(serr, ErrNotFound) {
		return money.Balance{}, money.Balance{}, money.Balance{}, serr
	}
	debit, credit, err = tx.AccountMovements(acct.ID, since)
	if err != nil {
		return money.Balance{}, money.Balance{}, money.Balance{}, err
	}
	return baseline.Add(signedDelta(acct.Nature, debit, credit)), debit, credit, nil
}

// LedgerBalance computes one ledger node's current balance.
func (e *Engine) LedgerBalance(ctx context.Context, ledgerID string) (money.Balance, error) {
	defer func(start time.Time) { obs.ObserveBalanceRead(time.Since(start)) }(time.Now())
	var out money.Balance
	err := e.store.View(ctx, func(tx Tx) error {
		l, err := tx.LedgerByID(ledgerID)
		if err != nil {
			return err
		}
		out, err = e.ledgerBalanceTx(tx, l)
		return err
	})
	return out, err
}

func (e *Engine) ledgerBalanceTx(tx Tx, l Ledger) (money.Balance, error) {
	var baseline money.Balance
	var since time.Time
	if st, serr := tx.LatestLedgerStatement(l.ID); serr == nil {
		baseline = st.ClosingBalance
		since = st.CreatedAt
	} else if !errors.Is(serr, ErrNotFound) {
		return money.Balance{}, serr
	}
	debit, credit, err := tx.LedgerMovements(l.ID, since)
	if err != nil {
		return money.Balance{}, err
	}
	return baseline.Add(signedDelta(NatureOf(l.Type), debit, credit)), nil
}

// RollupBalance aggregates a ledger's balance with all of its descendants,
// e.g. a "Current Assets" node summing every leaf beneath it.
func (e *Engine) RollupBalance(ctx context.Context, ledgerID string) (money.Balance, error) {
	var out money.Balance
	err := e.store.View(ctx, func(tx Tx) error {
		l, err := tx.LedgerByID(ledgerID)
		if err != nil {
			return err
		}
		out, err = e.ledgerBalanceTx(tx, l)
		if err != nil {
			return err
		}
		descendants, err := tx.Descendants(ledgerID)
		if err != nil {
			return err
		}
		for _, d := range descendants {
			bal, err := e.ledgerBalanceTx(tx, d)
			if err != nil {
				return err
			}
			out = out.Add(bal)
		}
		return nil
	})
	return out, err
}

func signedDelta(nature Nature, debit, credit money.Balance) money.Balance {
	if nature == DebitNature {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// AuditAccount snapshots an account's current balance into a new statement,
// which becomes the baseline for subsequent balance reads. Audits on the
// same account are serialized; contention returns ErrConcurrentAudit and is
// safe to retry.
func (e *Engine) AuditAccount(ctx context.Context, accountID string) (AccountStatement, error) {
	var st AccountStatement
	err := e.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.LockAccount(accountID); err != nil {
			return err
		}
		acct, err := tx.AccountByID(accountID)
		if err != nil {
			return err
		}
		closing, debit, credit, err := e.accountBalanceTx(tx, acct)
		if err != nil {
			return err
		}
		now := e.now()
		if latest, lerr := tx.LatestAccountStatement(accountID); lerr == nil && !now.After(latest.CreatedAt) {
			return ErrStatementOrdering
		}
		st = AccountStatement{
			ID:             ids.New(),
			AccountID:      accountID,
			CreatedAt:      now,
			ClosingBalance: closing,
			TotalDebit:     debit,
			TotalCredit:    credit,
		}
		return tx.InsertAccountStatement(st)
	})
	if err != nil {
		return AccountStatement{}, err
	}
	obs.AuditRecorded("account")
	return st, nil
}

// AuditLedger snapshots a ledger's current balance into a new statement.
func (e *Engine) AuditLedger(ctx context.Context, ledgerID string) (LedgerStatement, error) {
	var st LedgerStatement
	err := e.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.LockLedger(ledgerID); err != nil {
			return err
		}
		l, err := tx.LedgerByID(ledgerID)
		if err != nil {
			return err
		}
		closing, err := e.ledgerBalanceTx(tx, l)
		if err != nil {
			return err
		}
		now := e.now()
		if latest, lerr := tx.LatestLedgerStatement(ledgerID); lerr == nil && !now.After(latest.CreatedAt) {
			return ErrStatementOrdering
		}
		st = LedgerStatement{ID: ids.New(), LedgerID: ledgerID, CreatedAt: now, ClosingBalance: closing}
		return tx.InsertLedgerStatement(st)
	})
	if err != nil {
		return LedgerStatement{}, err
	}
	obs.AuditRecorded("ledger")
	return st, nil
}
