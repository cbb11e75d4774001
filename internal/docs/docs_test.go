package docs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"girvi.org/internal/chart"
	"girvi.org/internal/dea"
	"girvi.org/internal/money"
)

func newShop(t *testing.T, opts ...dea.Option) *dea.Engine {
	t.Helper()
	eng := dea.NewEngine(dea.NewInMemoryStore(), opts...)
	if err := chart.Apply(context.Background(), eng, chart.Default); err != nil {
		t.Fatal(err)
	}
	return eng
}

func inr(units int64) money.Money { return money.FromInt(units, "INR") }

func accountBalance(t *testing.T, eng *dea.Engine, cp uuid.UUID) decimal.Decimal {
	t.Helper()
	ctx := context.Background()
	acct, err := eng.GetOrCreateAccount(ctx, cp)
	if err != nil {
		t.Fatal(err)
	}
	bal, err := eng.AccountBalance(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	return bal.Get("INR")
}

func cashBalance(t *testing.T, eng *dea.Engine) decimal.Decimal {
	t.Helper()
	ctx := context.Background()
	cash, err := eng.LedgerByName(ctx, "Cash")
	if err != nil {
		t.Fatal(err)
	}
	bal, err := eng.LedgerBalance(ctx, cash.ID)
	if err != nil {
		t.Fatal(err)
	}
	return bal.Get("INR")
}

func TestLoanLifecycle(t *testing.T) {
	eng := newShop(t)
	ctx := context.Background()
	customer := uuid.New()

	loan := &Loan{
		ID:        uuid.New(),
		Customer:  customer,
		Principal: inr(5000),
		Metal:     "gold",
		IssuedAt:  time.Now(),
	}
	if err := loan.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}
	if got := accountBalance(t, eng, customer); !got.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("customer owes: got %s, want 5000", got)
	}
	if got := cashBalance(t, eng); !got.Equal(decimal.NewFromInt(-5000)) {
		t.Fatalf("cash after disbursement: got %s, want -5000", got)
	}

	payment := &LoanPayment{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Customer:  customer,
		Principal: inr(2000),
		Interest:  inr(150),
		PaidAt:    time.Now(),
	}
	if err := payment.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}
	if got := accountBalance(t, eng, customer); !got.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("customer after payment: got %s, want 3000", got)
	}
	// cash received 2000 principal + 150 interest
	if got := cashBalance(t, eng); !got.Equal(decimal.NewFromInt(-2850)) {
		t.Fatalf("cash after payment: got %s, want -2850", got)
	}
	interest, err := eng.LedgerByName(ctx, "Interest Income")
	if err != nil {
		t.Fatal(err)
	}
	ibal, err := eng.LedgerBalance(ctx, interest.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ibal.Get("INR").Equal(decimal.NewFromInt(150)) {
		t.Fatalf("interest income: got %s, want 150", ibal)
	}
}

func TestLoanEditReversesAndReposts(t *testing.T) {
	eng := newShop(t)
	ctx := context.Background()
	customer := uuid.New()

	loan := &Loan{ID: uuid.New(), Customer: customer, Principal: inr(5000)}
	if err := loan.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}

	old := *loan
	loan.Principal = inr(4000)
	if err := loan.Save(ctx, eng, &old); err != nil {
		t.Fatal(err)
	}
	if got := accountBalance(t, eng, customer); !got.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("customer after edit: got %s, want 4000", got)
	}
}

func TestLoanDeleteZeroesBalance(t *testing.T) {
	eng := newShop(t)
	ctx := context.Background()
	customer := uuid.New()

	loan := &Loan{ID: uuid.New(), Customer: customer, Principal: inr(5000)}
	if err := loan.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}
	if err := loan.Delete(ctx, eng); err != nil {
		t.Fatal(err)
	}
	if got := accountBalance(t, eng, customer); got.Sign() != 0 {
		t.Fatalf("customer after delete: got %s, want 0", got)
	}
}

func TestLoanOverAdvanceRefused(t *testing.T) {
	eng := newShop(t)
	rate := FixedRate(map[string]decimal.Decimal{"gold": decimal.NewFromInt(100)})

	loan := &Loan{
		ID:              uuid.New(),
		Customer:        uuid.New(),
		Principal:       inr(5000),
		Metal:           "gold",
		CollateralGrams: decimal.NewFromInt(10), // appraised 1000 < 5000
		Appraise:        rate,
	}
	err := loan.Save(context.Background(), eng, nil)
	if !errors.Is(err, ErrOverAdvance) {
		t.Fatalf("expected ErrOverAdvance, got %v", err)
	}
}

func TestLoanUnknownMetalRefused(t *testing.T) {
	eng := newShop(t)
	loan := &Loan{
		ID:              uuid.New(),
		Customer:        uuid.New(),
		Principal:       inr(100),
		Metal:           "platinum",
		CollateralGrams: decimal.NewFromInt(5),
		Appraise:        FixedRate(map[string]decimal.Decimal{"gold": decimal.NewFromInt(100)}),
	}
	if err := loan.Save(context.Background(), eng, nil); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestCreditPurchaseAndSaleNatures(t *testing.T) {
	supplier := uuid.New()
	customer := uuid.New()
	eng := newShop(t, dea.WithClassifier(func(cp uuid.UUID) dea.Nature {
		if cp == supplier {
			return dea.CreditNature
		}
		return dea.DebitNature
	}))
	ctx := context.Background()

	purchase := &Purchase{ID: uuid.New(), Supplier: supplier, Total: inr(1200), OnCredit: true}
	if err := purchase.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}
	if got := accountBalance(t, eng, supplier); !got.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("owed to supplier: got %s, want 1200", got)
	}

	sale := &Sale{ID: uuid.New(), Customer: customer, Total: inr(800), OnCredit: true}
	if err := sale.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}
	if got := accountBalance(t, eng, customer); !got.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("owed by customer: got %s, want 800", got)
	}

	receipt := &Receipt{ID: uuid.New(), Customer: customer, Amount: inr(300)}
	if err := receipt.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}
	if got := accountBalance(t, eng, customer); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("after receipt: got %s, want 500", got)
	}
	if got := cashBalance(t, eng); !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("cash after receipt: got %s, want 300", got)
	}
}

func TestCashSaleMovesLedgersOnly(t *testing.T) {
	eng := newShop(t)
	ctx := context.Background()

	sale := &Sale{ID: uuid.New(), Customer: uuid.New(), Total: inr(800)}
	if err := sale.Save(ctx, eng, nil); err != nil {
		t.Fatal(err)
	}
	if got := cashBalance(t, eng); !got.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("cash sale: got %s, want 800", got)
	}
	if got := accountBalance(t, eng, sale.Customer); got.Sign() != 0 {
		t.Fatalf("cash sale must not touch the customer account, got %s", got)
	}
}
