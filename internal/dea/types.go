// Package dea implements the double-entry accounting engine: the chart of
// accounts, per-counterparty accounts, journal entries with their postings,
// balance-snapshot statements, and the transact/reverse protocol business
// documents post through.
package dea

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"girvi.org/internal/money"
)

// AccountType classifies a ledger node in the chart of accounts.
type AccountType string

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
	Income    AccountType = "income"
	Expense   AccountType = "expense"
	Equity    AccountType = "equity"
)

// Nature is the sign convention of a balance: whether debits or credits
// increase it.
type Nature string

const (
	DebitNature  Nature = "debit"
	CreditNature Nature = "credit"
)

// NatureOf maps a ledger type to its balance nature.
func NatureOf(t AccountType) Nature {
	switch t {
	case Asset, Expense:
		return DebitNature
	default:
		return CreditNature
	}
}

// Direction marks one side of a posting.
type Direction string

const (
	Dr Direction = "dr"
	Cr Direction = "cr"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Dr {
		return Cr
	}
	return Dr
}

// Ledger is a node in the chart of accounts. (Name, ParentID) is unique;
// the nodes form a tree.
type Ledger struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	ParentID  string      `json:"parent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Account carries the running balance of one external counterparty.
// Created lazily the first time a document posts against the counterparty.
type Account struct {
	ID           string    `json:"id"`
	Counterparty uuid.UUID `json:"counterparty"`
	Nature       Nature    `json:"nature"`
	CreatedAt    time.Time `json:"created_at"`
}

// OwnerKind enumerates the closed set of document kinds that may own a
// journal entry.
type OwnerKind string

const (
	OwnerLoan        OwnerKind = "loan"
	OwnerLoanPayment OwnerKind = "loan_payment"
	OwnerPurchase    OwnerKind = "purchase"
	OwnerSale        OwnerKind = "sale"
	OwnerReceipt     OwnerKind = "receipt"
)

// OwnerRef identifies the business document that owns a journal entry.
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func (o OwnerRef) String() string { return string(o.Kind) + ":" + o.ID.String() }

// JournalEntry is the header of one transaction. Entries are never mutated;
// postings are added to or removed from them. The latest entry per owner is
// the canonical one.
type JournalEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Owner     OwnerRef  `json:"owner"`
	Parent    *OwnerRef `json:"parent,omitempty"`
}

// LedgerTransaction moves one amount from a credit ledger to a debit ledger.
// Either side may be empty when a document records a one-sided movement,
// though Post rejects entries whose sides do not balance.
type LedgerTransaction struct {
	ID             string      `json:"id"`
	EntryID        string      `json:"entry_id"`
	DebitLedgerID  string      `json:"debit_ledger_id,omitempty"`
	CreditLedgerID string      `json:"credit_ledger_id,omitempty"`
	Amount         money.Money `json:"amount"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ReasonCode states the business meaning of an account posting.
type ReasonCode string

const (
	ReasonLoanPrincipal ReasonCode = "loan_principal"
	ReasonLoanPayment   ReasonCode = "loan_payment"
	ReasonInterest      ReasonCode = "interest"
	ReasonPurchase      ReasonCode = "purchase"
	ReasonSale          ReasonCode = "sale"
	ReasonReceipt       ReasonCode = "receipt"
	ReasonAdjustment    ReasonCode = "adjustment"
)

// AccountTransaction posts a directional amount against a counterparty
// account, with the contra ledger taking the opposite side.
type AccountTransaction struct {
	ID        string      `json:"id"`
	EntryID   string      `json:"entry_id"`
	LedgerID  string      `json:"ledger_id"`
	AccountID string      `json:"account_id"`
	Direction Direction   `json:"direction"`
	Reason    ReasonCode  `json:"reason"`
	Amount    money.Money `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}

// AccountStatement is an immutable balance snapshot for one account,
// recording the closing balance and the movement totals since the prior
// snapshot. Statements are append-only with strictly increasing CreatedAt.
type AccountStatement struct {
	ID             string        `json:"id"`
	AccountID      string        `json:"account_id"`
	CreatedAt      time.Time     `json:"created_at"`
	ClosingBalance money.Balance `json:"closing_balance"`
	TotalDebit     money.Balance `json:"total_debit"`
	TotalCredit    money.Balance `json:"total_credit"`
}

// LedgerStatement is the ledger-side balance snapshot.
type LedgerStatement struct {
	ID             string        `json:"id"`
	LedgerID       string        `json:"ledger_id"`
	CreatedAt      time.Time     `json:"created_at"`
	ClosingBalance money.Balance `json:"closing_balance"`
}

// LedgerLeg asks for a ledger-to-ledger posting, addressing ledgers by name.
// One side may be left empty for a one-sided movement, but the legs of a
// single Post must balance overall.
type LedgerLeg struct {
	Debit  string
	Credit string
	Amount money.Money
}

// AccountLeg asks for a counterparty posting: the account takes Direction,
// the named contra ledger takes the opposite side.
type AccountLeg struct {
	Ledger       string
	Counterparty uuid.UUID
	Direction    Direction
	Reason       ReasonCode
	Amount       money.Money
}

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateLedgerName = errors.New("ledger name already exists under parent")
	ErrDuplicateAccount    = errors.New("counterparty already has an account")
	ErrUnknownLedger       = errors.New("unknown ledger")
	ErrAmbiguousLedger     = errors.New("ambiguous ledger name")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrUnbalancedEntry     = errors.New("journal entry does not balance")
	ErrConcurrentAudit     = errors.New("concurrent audit on subject")
	ErrStatementOrdering   = errors.New("statement must postdate the latest statement")
)
