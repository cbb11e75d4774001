package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"girvi.org/internal/chart"
	"girvi.org/internal/dea"
	"girvi.org/internal/docs"
	"girvi.org/internal/money"
	"girvi.org/internal/obs"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

// Runs a full loan lifecycle against the in-memory engine and checks the
// books stay balanced through an audit and an edit.
func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	if addr := os.Getenv("GIRVI_METRICS_ADDR"); addr != "" {
		go func() {
			if err := http.ListenAndServe(addr, obs.Handler()); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng := dea.NewEngine(dea.NewInMemoryStore())
	if err := chart.Apply(ctx, eng, chart.Default); err != nil {
		log.Fatalf("seed chart: %v", err)
	}

	// Pace the writes the way a busy counter would produce them.
	limiter := rate.NewLimiter(rate.Every(10*time.Millisecond), 1)
	wait := func() {
		if err := limiter.Wait(ctx); err != nil {
			log.Fatalf("pacing: %v", err)
		}
	}

	customer := uuid.New()
	loan := &docs.Loan{
		ID:        uuid.New(),
		Customer:  customer,
		Principal: money.FromInt(5000, "INR"),
		Metal:     "gold",
		IssuedAt:  time.Now(),
	}
	wait()
	if err := loan.Save(ctx, eng, nil); err != nil {
		log.Fatalf("save loan: %v", err)
	}

	payment := &docs.LoanPayment{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Customer:  customer,
		Principal: money.FromInt(2000, "INR"),
		Interest:  money.FromInt(150, "INR"),
		PaidAt:    time.Now(),
	}
	wait()
	if err := payment.Save(ctx, eng, nil); err != nil {
		log.Fatalf("save payment: %v", err)
	}

	acct, err := eng.GetOrCreateAccount(ctx, customer)
	if err != nil {
		log.Fatalf("account: %v", err)
	}
	mustBalance(ctx, eng, acct.ID, 3000, "customer after payment")

	// Edit the payment; the books rebalance through a reversal.
	old := *payment
	payment.Principal = money.FromInt(2500, "INR")
	wait()
	if err := payment.Save(ctx, eng, &old); err != nil {
		log.Fatalf("edit payment: %v", err)
	}
	mustBalance(ctx, eng, acct.ID, 2500, "customer after edit")

	// Cut a statement; the balance must read the same off the baseline.
	if _, err := eng.AuditAccount(ctx, acct.ID); err != nil {
		log.Fatalf("audit account: %v", err)
	}
	mustBalance(ctx, eng, acct.ID, 2500, "customer after audit")

	cash, err := eng.LedgerByName(ctx, "Cash")
	if err != nil {
		log.Fatalf("cash ledger: %v", err)
	}
	bal, err := eng.LedgerBalance(ctx, cash.ID)
	if err != nil {
		log.Fatalf("cash balance: %v", err)
	}
	// −5000 out, 2500 principal + 150 interest back in
	if want := decimal.NewFromInt(-2350); !bal.Get("INR").Equal(want) {
		log.Fatalf("cash: got %s, want %s", bal.Get("INR"), want)
	}

	if _, err := eng.AuditLedger(ctx, cash.ID); err != nil {
		log.Fatalf("audit ledger: %v", err)
	}
	obs.LogEvent(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"event": "smoke.completed",
		"loan":  loan.ID.String(),
		"cash":  bal.String(),
	})

	fmt.Printf("✅ dea smoke test passed: loan=%s customer=%s\n", loan.ID, customer)
}

func mustBalance(ctx context.Context, eng *dea.Engine, accountID string, want int64, what string) {
	bal, err := eng.AccountBalance(ctx, accountID)
	if err != nil {
		log.Fatalf("balance %s: %v", what, err)
	}
	if !bal.Get("INR").Equal(decimal.NewFromInt(want)) {
		log.Fatalf("%s: got %s, want %d", what, bal.Get("INR"), want)
	}
}
