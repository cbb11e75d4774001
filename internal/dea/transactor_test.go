package dea

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"girvi.org/internal/money"
)

// saleDoc is a minimal postable document for exercising the protocol.
type saleDoc struct {
	id       uuid.UUID
	customer uuid.UUID
	amount   money.Money
	memo     string // immaterial field
}

func (d *saleDoc) TransactorOwner() OwnerRef {
	return OwnerRef{Kind: OwnerSale, ID: d.id}
}

func (d *saleDoc) Transactions() ([]LedgerLeg, []AccountLeg, error) {
	if d.amount.IsZero() {
		return nil, nil, nil
	}
	return nil, []AccountLeg{
		{Ledger: "Sales", Counterparty: d.customer, Direction: Dr, Reason: ReasonSale, Amount: d.amount},
	}, nil
}

func (d *saleDoc) materiallyChanged(old *saleDoc) bool {
	return !d.amount.Equal(old.amount) || d.customer != old.customer
}

func countPostings(t *testing.T, store *InMemoryStore, entryID string) (ledger, account int) {
	t.Helper()
	_ = store.View(context.Background(), func(tx Tx) error {
		ltx, _ := tx.EntryLedgerTransactions(entryID)
		atx, _ := tx.EntryAccountTransactions(entryID)
		ledger, account = len(ltx), len(atx)
		return nil
	})
	return ledger, account
}

func entryOf(t *testing.T, store *InMemoryStore, doc Transactor) JournalEntry {
	t.Helper()
	var entry JournalEntry
	err := store.View(context.Background(), func(tx Tx) error {
		var err error
		entry, err = tx.EntryByOwner(doc.TransactorOwner())
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return entry
}

func TestCreatePostsViaAfterSave(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(100)}

	if err := eng.OnAfterSave(ctx, doc, true); err != nil {
		t.Fatal(err)
	}
	entry := entryOf(t, store, doc)
	if _, account := countPostings(t, store, entry.ID); account != 1 {
		t.Fatalf("expected 1 account posting, got %d", account)
	}
	if got := ledgerBalance(t, eng, "Sales").Get("INR"); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("Sales: got %s, want 100", got)
	}
}

func TestCreateWithNoEffectPostsNothing(t *testing.T) {
	eng, store := newTestEngine(t)
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(0)}

	if err := eng.OnAfterSave(context.Background(), doc, true); err != nil {
		t.Fatal(err)
	}
	err := store.View(context.Background(), func(tx Tx) error {
		_, err := tx.EntryByOwner(doc.TransactorOwner())
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("zero-amount document must not create an entry: %v", err)
	}
}

func TestResaveWithoutChangeAltersNothing(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(100)}

	if err := eng.OnAfterSave(ctx, doc, true); err != nil {
		t.Fatal(err)
	}
	entry := entryOf(t, store, doc)
	_, before := countPostings(t, store, entry.ID)

	updated := &saleDoc{id: doc.id, customer: doc.customer, amount: doc.amount, memo: "note added"}
	if err := eng.OnBeforeSave(ctx, doc, updated, updated.materiallyChanged(doc)); err != nil {
		t.Fatal(err)
	}
	if err := eng.OnAfterSave(ctx, updated, false); err != nil {
		t.Fatal(err)
	}

	if _, after := countPostings(t, store, entry.ID); after != before {
		t.Fatalf("immaterial edit changed postings: %d -> %d", before, after)
	}
}

func TestEditBeforeStatementEmitsReversal(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(100)}

	if err := eng.OnAfterSave(ctx, doc, true); err != nil {
		t.Fatal(err)
	}
	updated := &saleDoc{id: doc.id, customer: doc.customer, amount: inr(60)}
	if err := eng.OnBeforeSave(ctx, doc, updated, updated.materiallyChanged(doc)); err != nil {
		t.Fatal(err)
	}

	entry := entryOf(t, store, doc)
	// original + reversal + repost, all preserved as history
	if _, account := countPostings(t, store, entry.ID); account != 3 {
		t.Fatalf("expected 3 account postings (post, reverse, repost), got %d", account)
	}
	acct, _ := eng.GetOrCreateAccount(ctx, doc.customer)
	bal, err := eng.AccountBalance(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Get("INR").Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance after edit: got %s, want 60", bal)
	}
}

func TestEditAfterStatementDiscardsOldPostings(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(100)}

	if err := eng.OnAfterSave(ctx, doc, true); err != nil {
		t.Fatal(err)
	}
	acct, err := eng.GetOrCreateAccount(ctx, doc.customer)
	if err != nil {
		t.Fatal(err)
	}
	st, err := eng.AuditAccount(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !st.ClosingBalance.Get("INR").Equal(decimal.NewFromInt(100)) {
		t.Fatalf("closing: got %s, want 100", st.ClosingBalance)
	}

	updated := &saleDoc{id: doc.id, customer: doc.customer, amount: inr(40)}
	if err := eng.OnBeforeSave(ctx, doc, updated, updated.materiallyChanged(doc)); err != nil {
		t.Fatal(err)
	}

	entry := entryOf(t, store, doc)
	// old postings discarded, only the repost remains; no reversal emitted
	if _, account := countPostings(t, store, entry.ID); account != 1 {
		t.Fatalf("expected only the repost, got %d postings", account)
	}
	// The snapshot keeps its meaning: baseline still carries the absorbed
	// 100, and the repost adds on top of it.
	bal, err := eng.AccountBalance(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Get("INR").Equal(decimal.NewFromInt(140)) {
		t.Fatalf("balance after snapshot-locked edit: got %s, want 140", bal)
	}
}

func TestEditAfterAuditOfFreshEntryReverses(t *testing.T) {
	// The audit happens before the document ever posts, so its entry
	// postdates the statement and the edit path must reverse, not discard.
	eng, store := newTestEngine(t)
	ctx := context.Background()
	customer := uuid.New()

	seed := &saleDoc{id: uuid.New(), customer: customer, amount: inr(120)}
	if err := eng.OnAfterSave(ctx, seed, true); err != nil {
		t.Fatal(err)
	}
	acct, _ := eng.GetOrCreateAccount(ctx, customer)
	if _, err := eng.AuditAccount(ctx, acct.ID); err != nil {
		t.Fatal(err)
	}

	doc := &saleDoc{id: uuid.New(), customer: customer, amount: inr(20)}
	if err := eng.OnAfterSave(ctx, doc, true); err != nil {
		t.Fatal(err)
	}
	bal, _ := eng.AccountBalance(ctx, acct.ID)
	if !bal.Get("INR").Equal(decimal.NewFromInt(140)) {
		t.Fatalf("after Dr 20: got %s, want 140", bal)
	}

	updated := &saleDoc{id: doc.id, customer: customer, amount: inr(40)}
	if err := eng.OnBeforeSave(ctx, doc, updated, updated.materiallyChanged(doc)); err != nil {
		t.Fatal(err)
	}

	entry := entryOf(t, store, doc)
	if _, account := countPostings(t, store, entry.ID); account != 3 {
		t.Fatalf("expected post+reverse+repost, got %d postings", account)
	}
	bal, _ = eng.AccountBalance(ctx, acct.ID)
	if !bal.Get("INR").Equal(decimal.NewFromInt(160)) {
		t.Fatalf("final balance: got %s, want 160", bal)
	}
}

func TestDeleteBeforeStatementReverses(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(100)}

	if err := eng.OnAfterSave(ctx, doc, true); err != nil {
		t.Fatal(err)
	}
	if err := eng.OnDelete(ctx, doc); err != nil {
		t.Fatal(err)
	}

	entry := entryOf(t, store, doc)
	if _, account := countPostings(t, store, entry.ID); account != 2 {
		t.Fatalf("expected post+reverse, got %d postings", account)
	}
	acct, _ := eng.GetOrCreateAccount(ctx, doc.customer)
	bal, err := eng.AccountBalance(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.IsZero() {
		t.Fatalf("deleted document must leave a zero balance, got %s", bal)
	}
}

func TestDeleteAfterStatementDiscards(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(100)}

	if err := eng.OnAfterSave(ctx, doc, true); err != nil {
		t.Fatal(err)
	}
	acct, _ := eng.GetOrCreateAccount(ctx, doc.customer)
	if _, err := eng.AuditAccount(ctx, acct.ID); err != nil {
		t.Fatal(err)
	}

	if err := eng.OnDelete(ctx, doc); err != nil {
		t.Fatal(err)
	}
	entry := entryOf(t, store, doc)
	if ledger, account := countPostings(t, store, entry.ID); ledger != 0 || account != 0 {
		t.Fatalf("expected all postings discarded, got %d/%d", ledger, account)
	}
}

func TestDeleteNeverPostedIsNoop(t *testing.T) {
	eng, _ := newTestEngine(t)
	doc := &saleDoc{id: uuid.New(), customer: uuid.New(), amount: inr(0)}
	if err := eng.OnDelete(context.Background(), doc); err != nil {
		t.Fatalf("deleting an unposted document should be a no-op: %v", err)
	}
}
