// Package pg persists the accounting engine in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"girvi.org/internal/dea"
	"girvi.org/internal/money"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
)

type Store struct {
	db *sql.DB
}

var _ dea.Store = (*Store)(nil)

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection; tests hand in sqlmock here.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Atomic runs fn inside one read-write transaction.
func (s *Store) Atomic(ctx context.Context, fn func(dea.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(dea.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ dea.Tx = (*pgTx)(nil)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (t *pgTx) CreateLedger(l dea.Ledger) error {
	_, err := t.tx.ExecContext(t.ctx, `
		insert into ledgers(id, name, account_type, parent_id, created_at)
		values ($1, $2, $3, nullif($4,''), $5)
	`, l.ID, l.Name, string(l.Type), l.ParentID, l.CreatedAt)
	switch pgCode(err) {
	case pgUniqueViolation:
		return dea.ErrDuplicateLedgerName
	case pgForeignKeyViolation:
		return dea.ErrUnknownLedger
	}
	return err
}

const ledgerColumns = `id, name, account_type, coalesce(parent_id,''), created_at`

func scanLedger(row interface{ Scan(...any) error }) (dea.Ledger, error) {
	var l dea.Ledger
	var typ string
	if err := row.Scan(&l.ID, &l.Name, &typ, &l.ParentID, &l.CreatedAt); err != nil {
		return dea.Ledger{}, err
	}
	l.Type = dea.AccountType(typ)
	return l, nil
}

func (t *pgTx) LedgerByID(id string) (dea.Ledger, error) {
	l, err := scanLedger(t.tx.QueryRowContext(t.ctx,
		`select `+ledgerColumns+` from ledgers where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return dea.Ledger{}, dea.ErrUnknownLedger
	}
	return l, err
}

func (t *pgTx) LedgerByName(name string) (dea.Ledger, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`select `+ledgerColumns+` from ledgers where name=$1 limit 2`, name)
	if err != nil {
		return dea.Ledger{}, err
	}
	defer rows.Close()

	var out []dea.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return dea.Ledger{}, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return dea.Ledger{}, err
	}
	switch len(out) {
	case 0:
		return dea.Ledger{}, dea.ErrUnknownLedger
	case 1:
		return out[0], nil
	default:
		return dea.Ledger{}, dea.ErrAmbiguousLedger
	}
}

func (t *pgTx) FindLedger(name, parentID string) (dea.Ledger, error) {
	l, err := scanLedger(t.tx.QueryRowContext(t.ctx,
		`select `+ledgerColumns+` from ledgers where name=$1 and coalesce(parent_id,'')=$2`,
		name, parentID))
	if errors.Is(err, sql.ErrNoRows) {
		return dea.Ledger{}, dea.ErrUnknownLedger
	}
	return l, err
}

func (t *pgTx) Descendants(id string) ([]dea.Ledger, error) {
	if _, err := t.LedgerByID(id); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(t.ctx, `
		with recursive subtree as (
			select id, name, account_type, parent_id, created_at
			from ledgers where parent_id = $1
			union all
			select l.id, l.name, l.account_type, l.parent_id, l.created_at
			from ledgers l join subtree s on l.parent_id = s.id
		)
		select id, name, account_type, coalesce(parent_id,''), created_at from subtree
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dea.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateAccount(a dea.Account) error {
	_, err := t.tx.ExecContext(t.ctx, `
		insert into accounts(id, counterparty, nature, created_at)
		values ($1, $2, $3, $4)
	`, a.ID, a.Counterparty, string(a.Nature), a.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return dea.ErrDuplicateAccount
	}
	return err
}

func scanAccount(row interface{ Scan(...any) error }) (dea.Account, error) {
	var a dea.Account
	var nature string
	if err := row.Scan(&a.ID, &a.Counterparty, &nature, &a.CreatedAt); err != nil {
		return dea.Account{}, err
	}
	a.Nature = dea.Nature(nature)
	return a, nil
}

func (t *pgTx) AccountByID(id string) (dea.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(t.ctx,
		`select id, counterparty, nature, created_at from accounts where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return dea.Account{}, dea.ErrUnknownAccount
	}
	return a, err
}

func (t *pgTx) AccountByCounterparty(cp uuid.UUID) (dea.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(t.ctx,
		`select id, counterparty, nature, created_at from accounts where counterparty=$1`, cp))
	if errors.Is(err, sql.ErrNoRows) {
		return dea.Account{}, dea.ErrNotFound
	}
	return a, err
}

func (t *pgTx) CreateEntry(e dea.JournalEntry) error {
	var parentKind, parentID any
	if e.Parent != nil {
		parentKind = string(e.Parent.Kind)
		parentID = e.Parent.ID
	}
	_, err := t.tx.ExecContext(t.ctx, `
		insert into journal_entries(id, owner_kind, owner_id, parent_kind, parent_id, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, e.ID, string(e.Owner.Kind), e.Owner.ID, parentKind, parentID, e.CreatedAt)
	return err
}

func scanEntry(row interface{ Scan(...any) error }) (dea.JournalEntry, error) {
	var e dea.JournalEntry
	var kind string
	var parentKind sql.NullString
	var parentID uuid.NullUUID
	if err := row.Scan(&e.ID, &kind, &e.Owner.ID, &parentKind, &parentID, &e.CreatedAt); err != nil {
		return dea.JournalEntry{}, err
	}
	e.Owner.Kind = dea.OwnerKind(kind)
	if parentKind.Valid && parentID.Valid {
		e.Parent = &dea.OwnerRef{Kind: dea.OwnerKind(parentKind.String), ID: parentID.UUID}
	}
	return e, nil
}

const entryColumns = `id, owner_kind, owner_id, parent_kind, parent_id, created_at`

func (t *pgTx) EntryByID(id string) (dea.JournalEntry, error) {
	e, err := scanEntry(t.tx.QueryRowContext(t.ctx,
		`select `+entryColumns+` from journal_entries where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return dea.JournalEntry{}, dea.ErrNotFound
	}
	return e, err
}

func (t *pgTx) EntryByOwner(owner dea.OwnerRef) (dea.JournalEntry, error) {
	e, err := scanEntry(t.tx.QueryRowContext(t.ctx, `
		select `+entryColumns+` from journal_entries
		where owner_kind=$1 and owner_id=$2
		order by created_at desc limit 1
	`, string(owner.Kind), owner.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return dea.JournalEntry{}, dea.ErrNotFound
	}
	return e, err
}

// LockOwner serializes posting for one document owner via a transaction
// advisory lock, which also covers owners that have no entry row yet.
func (t *pgTx) LockOwner(owner dea.OwnerRef) error {
	_, err := t.tx.ExecContext(t.ctx,
		`select pg_advisory_xact_lock(hashtextextended($1, 0))`, owner.String())
	return err
}

func (t *pgTx) InsertLedgerTransaction(tr dea.LedgerTransaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		insert into ledger_transactions(id, entry_id, debit_ledger_id, credit_ledger_id, amount, currency, created_at)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, $6, $7)
	`, tr.ID, tr.EntryID, tr.DebitLedgerID, tr.CreditLedgerID, tr.Amount.Amount, tr.Amount.Currency, tr.CreatedAt)
	return err
}

func (t *pgTx) InsertAccountTransaction(tr dea.AccountTransaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		insert into account_transactions(id, entry_id, ledger_id, account_id, direction, reason, amount, currency, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tr.ID, tr.EntryID, tr.LedgerID, tr.AccountID, string(tr.Direction), string(tr.Reason), tr.Amount.Amount, tr.Amount.Currency, tr.CreatedAt)
	return err
}

func (t *pgTx) EntryLedgerTransactions(entryID string) ([]dea.LedgerTransaction, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		select id, entry_id, coalesce(debit_ledger_id,''), coalesce(credit_ledger_id,''), amount, currency, created_at
		from ledger_transactions where entry_id=$1 order by created_at asc
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dea.LedgerTransaction
	for rows.Next() {
		var tr dea.LedgerTransaction
		if err := rows.Scan(&tr.ID, &tr.EntryID, &tr.DebitLedgerID, &tr.CreditLedgerID,
			&tr.Amount.Amount, &tr.Amount.Currency, &tr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (t *pgTx) EntryAccountTransactions(entryID string) ([]dea.AccountTransaction, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		select id, entry_id, ledger_id, account_id, direction, reason, amount, currency, created_at
		from account_transactions where entry_id=$1 order by created_at asc
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dea.AccountTransaction
	for rows.Next() {
		var tr dea.AccountTransaction
		var direction, reason string
		if err := rows.Scan(&tr.ID, &tr.EntryID, &tr.LedgerID, &tr.AccountID,
			&direction, &reason, &tr.Amount.Amount, &tr.Amount.Currency, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.Direction = dea.Direction(direction)
		tr.Reason = dea.ReasonCode(reason)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteEntryPostings(entryID string) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`delete from ledger_transactions where entry_id=$1`, entryID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx,
		`delete from account_transactions where entry_id=$1`, entryID)
	return err
}

func sumSides(rows *sql.Rows) (money.Balance, money.Balance, error) {
	var debit, credit money.Balance
	defer rows.Close()
	for rows.Next() {
		var side, currency string
		var amount decimal.Decimal
		if err := rows.Scan(&side, &currency, &amount); err != nil {
			return money.Balance{}, money.Balance{}, err
		}
		m := money.New(amount, currency)
		if side == string(dea.Dr) {
			debit = debit.AddMoney(m)
		} else {
			credit = credit.AddMoney(m)
		}
	}
	return debit, credit, rows.Err()
}

func (t *pgTx) AccountMovements(accountID string, since time.Time) (money.Balance, money.Balance, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		select direction, currency, sum(amount)
		from account_transactions
		where account_id=$1 and created_at >= $2
		group by direction, currency
	`, accountID, since)
	if err != nil {
		return money.Balance{}, money.Balance{}, err
	}
	return sumSides(rows)
}

func (t *pgTx) LedgerMovements(ledgerID string, since time.Time) (money.Balance, money.Balance, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		select side, currency, sum(amount) from (
			select 'dr' as side, currency, amount, created_at
			from ledger_transactions where debit_ledger_id=$1
			union all
			select 'cr', currency, amount, created_at
			from ledger_transactions where credit_ledger_id=$1
			union all
			select case direction when 'dr' then 'cr' else 'dr' end, currency, amount, created_at
			from account_transactions where ledger_id=$1
		) movements
		where created_at >= $2
		group by side, currency
	`, ledgerID, since)
	if err != nil {
		return money.Balance{}, money.Balance{}, err
	}
	return sumSides(rows)
}

func marshalBalance(b money.Balance) ([]byte, error) { return json.Marshal(b) }

func unmarshalBalance(data []byte, b *money.Balance) error {
	if len(data) == 0 {
		*b = money.Balance{}
		return nil
	}
	return json.Unmarshal(data, b)
}

func (t *pgTx) LatestAccountStatement(accountID string) (dea.AccountStatement, error) {
	var st dea.AccountStatement
	var closing, debit, credit []byte
	err := t.tx.QueryRowContext(t.ctx, `
		select id, account_id, created_at, closing_balance, total_debit, total_credit
		from account_statements
		where account_id=$1
		order by created_at desc limit 1
	`, accountID).Scan(&st.ID, &st.AccountID, &st.CreatedAt, &closing, &debit, &credit)
	if errors.Is(err, sql.ErrNoRows) {
		return dea.AccountStatement{}, dea.ErrNotFound
	}
	if err != nil {
		return dea.AccountStatement{}, err
	}
	if err := unmarshalBalance(closing, &st.ClosingBalance); err != nil {
		return dea.AccountStatement{}, err
	}
	if err := unmarshalBalance(debit, &st.TotalDebit); err != nil {
		return dea.AccountStatement{}, err
	}
	if err := unmarshalBalance(credit, &st.TotalCredit); err != nil {
		return dea.AccountStatement{}, err
	}
	return st, nil
}

func (t *pgTx) LatestLedgerStatement(ledgerID string) (dea.LedgerStatement, error) {
	var st dea.LedgerStatement
	var closing []byte
	err := t.tx.QueryRowContext(t.ctx, `
		select id, ledger_id, created_at, closing_balance
		from ledger_statements
		where ledger_id=$1
		order by created_at desc limit 1
	`, ledgerID).Scan(&st.ID, &st.LedgerID, &st.CreatedAt, &closing)
	if errors.Is(err, sql.ErrNoRows) {
		return dea.LedgerStatement{}, dea.ErrNotFound
	}
	if err != nil {
		return dea.LedgerStatement{}, err
	}
	if err := unmarshalBalance(closing, &st.ClosingBalance); err != nil {
		return dea.LedgerStatement{}, err
	}
	return st, nil
}

func (t *pgTx) InsertAccountStatement(st dea.AccountStatement) error {
	closing, err := marshalBalance(st.ClosingBalance)
	if err != nil {
		return err
	}
	debit, err := marshalBalance(st.TotalDebit)
	if err != nil {
		return err
	}
	credit, err := marshalBalance(st.TotalCredit)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		insert into account_statements(id, account_id, created_at, closing_balance, total_debit, total_credit)
		values ($1, $2, $3, $4, $5, $6)
	`, st.ID, st.AccountID, st.CreatedAt, closing, debit, credit)
	return err
}

func (t *pgTx) InsertLedgerStatement(st dea.LedgerStatement) error {
	closing, err := marshalBalance(st.ClosingBalance)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		insert into ledger_statements(id, ledger_id, created_at, closing_balance)
		values ($1, $2, $3, $4)
	`, st.ID, st.LedgerID, st.CreatedAt, closing)
	return err
}

// LockAccount takes the account row lock without waiting; contention maps
// to ErrConcurrentAudit so the caller can retry.
func (t *pgTx) LockAccount(accountID string) error {
	var one int
	err := t.tx.QueryRowContext(t.ctx,
		`select 1 from accounts where id=$1 for update nowait`, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return dea.ErrUnknownAccount
	}
	if pgCode(err) == pgLockNotAvailable {
		return dea.ErrConcurrentAudit
	}
	return err
}

func (t *pgTx) LockLedger(ledgerID string) error {
	var one int
	err := t.tx.QueryRowContext(t.ctx,
		`select 1 from ledgers where id=$1 for update nowait`, ledgerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return dea.ErrUnknownLedger
	}
	if pgCode(err) == pgLockNotAvailable {
		return dea.ErrConcurrentAudit
	}
	return err
}

func (t *pgTx) LatestStatementTouching(entryID string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := t.tx.QueryRowContext(t.ctx, `
		select max(created_at) from (
			select s.created_at
			from account_statements s
			join account_transactions a on a.account_id = s.account_id
			where a.entry_id = $1
			union all
			select s.created_at
			from ledger_statements s
			join ledger_transactions l on s.ledger_id in (l.debit_ledger_id, l.credit_ledger_id)
			where l.entry_id = $1
			union all
			select s.created_at
			from ledger_statements s
			join account_transactions a on a.ledger_id = s.ledger_id
			where a.entry_id = $1
		) touched
	`, entryID).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
