package dea

import (
	"context"
	"time"

	"github.com/google/uuid"

	"girvi.org/internal/money"
)

// Store is the persistence contract of the engine. Every mutating engine
// operation runs inside exactly one Atomic block: either all of its writes
// are durable or none are.
type Store interface {
	// Atomic runs fn in a read-write transaction, rolling back on error.
	Atomic(ctx context.Context, fn func(Tx) error) error
	// View runs fn with a read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of storage operations available inside a transaction.
// Only the engine calls these; document code never writes postings directly.
type Tx interface {
	CreateLedger(l Ledger) error // ErrDuplicateLedgerName on (name, parent) conflict
	LedgerByID(id string) (Ledger, error)
	// LedgerByName resolves a chart-wide unique name.
	// ErrUnknownLedger if absent, ErrAmbiguousLedger if several match.
	LedgerByName(name string) (Ledger, error)
	// FindLedger resolves a name under one parent ("" for roots).
	FindLedger(name, parentID string) (Ledger, error)
	// Descendants returns the subtree below a ledger, excluding it.
	Descendants(id string) ([]Ledger, error)

	CreateAccount(a Account) error
	AccountByID(id string) (Account, error)
	AccountByCounterparty(cp uuid.UUID) (Account, error) // ErrNotFound if none

	CreateEntry(e JournalEntry) error
	EntryByID(id string) (JournalEntry, error)
	// EntryByOwner returns the latest entry for an owner, ErrNotFound if none.
	EntryByOwner(owner OwnerRef) (JournalEntry, error)
	// LockOwner serializes concurrent posting for one document owner.
	LockOwner(owner OwnerRef) error

	InsertLedgerTransaction(t LedgerTransaction) error
	InsertAccountTransaction(t AccountTransaction) error
	EntryLedgerTransactions(entryID string) ([]LedgerTransaction, error)
	EntryAccountTransactions(entryID string) ([]AccountTransaction, error)
	DeleteEntryPostings(entryID string) error

	// AccountMovements sums postings against an account created at or after
	// since, split into per-currency debit and credit totals.
	AccountMovements(accountID string, since time.Time) (debit, credit money.Balance, err error)
	// LedgerMovements does the same for a ledger, including the contra side
	// of account postings naming it.
	LedgerMovements(ledgerID string, since time.Time) (debit, credit money.Balance, err error)

	LatestAccountStatement(accountID string) (AccountStatement, error) // ErrNotFound if never audited
	LatestLedgerStatement(ledgerID string) (LedgerStatement, error)
	InsertAccountStatement(st AccountStatement) error
	InsertLedgerStatement(st LedgerStatement) error
	// LockAccount and LockLedger serialize audits on one subject.
	// Contention surfaces as ErrConcurrentAudit.
	LockAccount(accountID string) error
	LockLedger(ledgerID string) error

	// LatestStatementTouching reports the newest statement CreatedAt across
	// every account and ledger the entry has posted against.
	LatestStatementTouching(entryID string) (time.Time, bool, error)
}
