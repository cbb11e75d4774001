package dea

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"girvi.org/internal/money"
)

// InMemoryStore implements Store with in-process concurrency safety.
// A single lock serializes transactions, so the per-owner and per-subject
// lock calls are no-ops here; the Postgres store takes real row locks.
type InMemoryStore struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	ledgers      map[string]Ledger
	ledgerByKey  map[ledgerKey]string
	accounts     map[string]Account
	accountByCp  map[uuid.UUID]string
	entries      map[string]JournalEntry
	entryByOwner map[OwnerRef]string
	ltxByEntry   map[string][]LedgerTransaction
	atxByEntry   map[string][]AccountTransaction
	acctStmts    map[string][]AccountStatement
	ledgerStmts  map[string][]LedgerStatement
}

type ledgerKey struct {
	name     string
	parentID string
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: memState{
		ledgers:      make(map[string]Ledger),
		ledgerByKey:  make(map[ledgerKey]string),
		accounts:     make(map[string]Account),
		accountByCp:  make(map[uuid.UUID]string),
		entries:      make(map[string]JournalEntry),
		entryByOwner: make(map[OwnerRef]string),
		ltxByEntry:   make(map[string][]LedgerTransaction),
		atxByEntry:   make(map[string][]AccountTransaction),
		acctStmts:    make(map[string][]AccountStatement),
		ledgerStmts:  make(map[string][]LedgerStatement),
	}}
}

var _ Store = (*InMemoryStore)(nil)

// Atomic takes the write lock, snapshots the state, and restores the
// snapshot if fn fails so a failed unit leaves no partial postings.
func (s *InMemoryStore) Atomic(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state.clone()
	if err := fn(&memTx{state: &s.state}); err != nil {
		s.state = snap
		return err
	}
	return nil
}

// View runs fn under the read lock.
func (s *InMemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	return fn(&memTx{state: &st})
}

func (m memState) clone() memState {
	out := memState{
		ledgers:      make(map[string]Ledger, len(m.ledgers)),
		ledgerByKey:  make(map[ledgerKey]string, len(m.ledgerByKey)),
		accounts:     make(map[string]Account, len(m.accounts)),
		accountByCp:  make(map[uuid.UUID]string, len(m.accountByCp)),
		entries:      make(map[string]JournalEntry, len(m.entries)),
		entryByOwner: make(map[OwnerRef]string, len(m.entryByOwner)),
		ltxByEntry:   make(map[string][]LedgerTransaction, len(m.ltxByEntry)),
		atxByEntry:   make(map[string][]AccountTransaction, len(m.atxByEntry)),
		acctStmts:    make(map[string][]AccountStatement, len(m.acctStmts)),
		ledgerStmts:  make(map[string][]LedgerStatement, len(m.ledgerStmts)),
	}
	for k, v := range m.ledgers {
		out.ledgers[k] = v
	}
	for k, v := range m.ledgerByKey {
		out.ledgerByKey[k] = v
	}
	for k, v := range m.accounts {
		out.accounts[k] = v
	}
	for k, v := range m.accountByCp {
		out.accountByCp[k] = v
	}
	for k, v := range m.entries {
		out.entries[k] = v
	}
	for k, v := range m.entryByOwner {
		out.entryByOwner[k] = v
	}
	for k, v := range m.ltxByEntry {
		out.ltxByEntry[k] = append([]LedgerTransaction(nil), v...)
	}
	for k, v := range m.atxByEntry {
		out.atxByEntry[k] = append([]AccountTransaction(nil), v...)
	}
	for k, v := range m.acctStmts {
		out.acctStmts[k] = append([]AccountStatement(nil), v...)
	}
	for k, v := range m.ledgerStmts {
		out.ledgerStmts[k] = append([]LedgerStatement(nil), v...)
	}
	return out
}

type memTx struct {
	state *memState
}

var _ Tx = (*memTx)(nil)

func (t *memTx) CreateLedger(l Ledger) error {
	key := ledgerKey{name: l.Name, parentID: l.ParentID}
	if _, exists := t.state.ledgerByKey[key]; exists {
		return ErrDuplicateLedgerName
	}
	if l.ParentID != "" {
		if _, ok := t.state.ledgers[l.ParentID]; !ok {
			return ErrUnknownLedger
		}
	}
	t.state.ledgers[l.ID] = l
	t.state.ledgerByKey[key] = l.ID
	return nil
}

func (t *memTx) LedgerByID(id string) (Ledger, error) {
	l, ok := t.state.ledgers[id]
	if !ok {
		return Ledger{}, ErrUnknownLedger
	}
	return l, nil
}

func (t *memTx) LedgerByName(name string) (Ledger, error) {
	var found Ledger
	matches := 0
	for _, l := range t.state.ledgers {
		if l.Name == name {
			found = l
			matches++
		}
	}
	switch matches {
	case 0:
		return Ledger{}, ErrUnknownLedger
	case 1:
		return found, nil
	default:
		return Ledger{}, ErrAmbiguousLedger
	}
}

func (t *memTx) FindLedger(name, parentID string) (Ledger, error) {
	id, ok := t.state.ledgerByKey[ledgerKey{name: name, parentID: parentID}]
	if !ok {
		return Ledger{}, ErrUnknownLedger
	}
	return t.state.ledgers[id], nil
}

func (t *memTx) Descendants(id string) ([]Ledger, error) {
	if _, ok := t.state.ledgers[id]; !ok {
		return nil, ErrUnknownLedger
	}
	var out []Ledger
	frontier := []string{id}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, parent := range frontier {
			for _, l := range t.state.ledgers {
				if l.ParentID == parent {
					out = append(out, l)
					next = append(next, l.ID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (t *memTx) CreateAccount(a Account) error {
	if _, exists := t.state.accountByCp[a.Counterparty]; exists {
		return ErrDuplicateAccount
	}
	t.state.accounts[a.ID] = a
	t.state.accountByCp[a.Counterparty] = a.ID
	return nil
}

func (t *memTx) AccountByID(id string) (Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return a, nil
}

func (t *memTx) AccountByCounterparty(cp uuid.UUID) (Account, error) {
	id, ok := t.state.accountByCp[cp]
	if !ok {
		return Account{}, ErrNotFound
	}
	return t.state.accounts[id], nil
}

func (t *memTx) CreateEntry(e JournalEntry) error {
	t.state.entries[e.ID] = e
	t.state.entryByOwner[e.Owner] = e.ID
	return nil
}

func (t *memTx) EntryByID(id string) (JournalEntry, error) {
	e, ok := t.state.entries[id]
	if !ok {
		return JournalEntry{}, ErrNotFound
	}
	return e, nil
}

func (t *memTx) EntryByOwner(owner OwnerRef) (JournalEntry, error) {
	id, ok := t.state.entryByOwner[owner]
	if !ok {
		return JournalEntry{}, ErrNotFound
	}
	return t.state.entries[id], nil
}

func (t *memTx) LockOwner(OwnerRef) error { return nil }

func (t *memTx) InsertLedgerTransaction(tr LedgerTransaction) error {
	t.state.ltxByEntry[tr.EntryID] = append(t.state.ltxByEntry[tr.EntryID], tr)
	return nil
}

func (t *memTx) InsertAccountTransaction(tr AccountTransaction) error {
	t.state.atxByEntry[tr.EntryID] = append(t.state.atxByEntry[tr.EntryID], tr)
	return nil
}

func (t *memTx) EntryLedgerTransactions(entryID string) ([]LedgerTransaction, error) {
	return append([]LedgerTransaction(nil), t.state.ltxByEntry[entryID]...), nil
}

func (t *memTx) EntryAccountTransactions(entryID string) ([]AccountTransaction, error) {
	return append([]AccountTransaction(nil), t.state.atxByEntry[entryID]...), nil
}

func (t *memTx) DeleteEntryPostings(entryID string) error {
	delete(t.state.ltxByEntry, entryID)
	delete(t.state.atxByEntry, entryID)
	return nil
}

func (t *memTx) AccountMovements(accountID string, since time.Time) (money.Balance, money.Balance, error) {
	var debit, credit money.Balance
	for _, txs := range t.state.atxByEntry {
		for _, tr := range txs {
			if tr.AccountID != accountID || tr.CreatedAt.Before(since) {
				continue
			}
			if tr.Direction == Dr {
				debit = debit.AddMoney(tr.Amount)
			} else {
				credit = credit.AddMoney(tr.Amount)
			}
		}
	}
	return debit, credit, nil
}

func (t *memTx) LedgerMovements(ledgerID string, since time.Time) (money.Balance, money.Balance, error) {
	var debit, credit money.Balance
	for _, txs := range t.state.ltxByEntry {
		for _, tr := range txs {
			if tr.CreatedAt.Before(since) {
				continue
			}
			if tr.DebitLedgerID == ledgerID {
				debit = debit.AddMoney(tr.Amount)
			}
			if tr.CreditLedgerID == ledgerID {
				credit = credit.AddMoney(tr.Amount)
			}
		}
	}
	// Contra side of account postings naming this ledger.
	for _, txs := range t.state.atxByEntry {
		for _, tr := range txs {
			if tr.LedgerID != ledgerID || tr.CreatedAt.Before(since) {
				continue
			}
			if tr.Direction.Opposite() == Dr {
				debit = debit.AddMoney(tr.Amount)
			} else {
				credit = credit.AddMoney(tr.Amount)
			}
		}
	}
	return debit, credit, nil
}

func (t *memTx) LatestAccountStatement(accountID string) (AccountStatement, error) {
	stmts := t.state.acctStmts[accountID]
	if len(stmts) == 0 {
		return AccountStatement{}, ErrNotFound
	}
	latest := stmts[0]
	for _, st := range stmts[1:] {
		if st.CreatedAt.After(latest.CreatedAt) {
			latest = st
		}
	}
	return latest, nil
}

func (t *memTx) LatestLedgerStatement(ledgerID string) (LedgerStatement, error) {
	stmts := t.state.ledgerStmts[ledgerID]
	if len(stmts) == 0 {
		return LedgerStatement{}, ErrNotFound
	}
	latest := stmts[0]
	for _, st := range stmts[1:] {
		if st.CreatedAt.After(latest.CreatedAt) {
			latest = st
		}
	}
	return latest, nil
}

func (t *memTx) InsertAccountStatement(st AccountStatement) error {
	if latest, err := t.LatestAccountStatement(st.AccountID); err == nil && !st.CreatedAt.After(latest.CreatedAt) {
		return ErrStatementOrdering
	}
	t.state.acctStmts[st.AccountID] = append(t.state.acctStmts[st.AccountID], st)
	return nil
}

func (t *memTx) InsertLedgerStatement(st LedgerStatement) error {
	if latest, err := t.LatestLedgerStatement(st.LedgerID); err == nil && !st.CreatedAt.After(latest.CreatedAt) {
		return ErrStatementOrdering
	}
	t.state.ledgerStmts[st.LedgerID] = append(t.state.ledgerStmts[st.LedgerID], st)
	return nil
}

func (t *memTx) LockAccount(string) error { return nil }
func (t *memTx) LockLedger(string) error  { return nil }

func (t *memTx) LatestStatementTouching(entryID string) (time.Time, bool, error) {
	var latest time.Time
	found := false
	consider := func(ts time.Time) {
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}
	for _, tr := range t.state.ltxByEntry[entryID] {
		for _, lid := range []string{tr.DebitLedgerID, tr.CreditLedgerID} {
			if lid == "" {
				continue
			}
			if st, err := t.LatestLedgerStatement(lid); err == nil {
				consider(st.CreatedAt)
			}
		}
	}
	for _, tr := range t.state.atxByEntry[entryID] {
		if st, err := t.LatestAccountStatement(tr.AccountID); err == nil {
			consider(st.CreatedAt)
		}
		if st, err := t.LatestLedgerStatement(tr.LedgerID); err == nil {
			consider(st.CreatedAt)
		}
	}
	return latest, found, nil
}
