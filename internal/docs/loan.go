package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"girvi.org/internal/dea"
	"girvi.org/internal/money"
)

// ErrOverAdvance is returned when a loan principal exceeds the appraised
// value of its collateral.
var ErrOverAdvance = errors.New("principal exceeds collateral value")

// Loan is a pawn loan: cash handed to a customer against metal collateral.
type Loan struct {
	ID              uuid.UUID
	Customer        uuid.UUID
	Principal       money.Money
	Metal           string
	CollateralGrams decimal.Decimal
	IssuedAt        time.Time

	// Appraise values the collateral at issue time. Optional; when set,
	// Transactions refuses to post an over-advanced loan.
	Appraise RateFunc
}

func (l *Loan) TransactorOwner() dea.OwnerRef {
	return dea.OwnerRef{Kind: dea.OwnerLoan, ID: l.ID}
}

// Transactions disburses the principal: the customer's account is debited
// (they owe us) and Cash takes the credit side.
func (l *Loan) Transactions() ([]dea.LedgerLeg, []dea.AccountLeg, error) {
	if l.Principal.IsZero() {
		return nil, nil, nil
	}
	if l.Appraise != nil && l.CollateralGrams.IsPositive() {
		price, err := l.Appraise(l.Metal, l.IssuedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("appraise %s: %w", l.Metal, err)
		}
		appraised := price.Mul(l.CollateralGrams)
		if l.Principal.Amount.GreaterThan(appraised) {
			return nil, nil, fmt.Errorf("%w: principal %s, appraised %s", ErrOverAdvance, l.Principal, appraised)
		}
	}
	return nil, []dea.AccountLeg{{
		Ledger:       "Cash",
		Counterparty: l.Customer,
		Direction:    dea.Dr,
		Reason:       dea.ReasonLoanPrincipal,
		Amount:       l.Principal,
	}}, nil
}

// MateriallyChanged compares only the fields that feed Transactions.
func (l *Loan) MateriallyChanged(old *Loan) bool {
	return !l.Principal.Equal(old.Principal) ||
		l.Customer != old.Customer ||
		l.Metal != old.Metal ||
		!l.CollateralGrams.Equal(old.CollateralGrams)
}

// Save brackets the document's persistence with the engine hooks in the
// required order. Pass old == nil on create.
func (l *Loan) Save(ctx context.Context, eng *dea.Engine, old *Loan) error {
	if old == nil {
		return eng.OnAfterSave(ctx, l, true)
	}
	if err := eng.OnBeforeSave(ctx, old, l, l.MateriallyChanged(old)); err != nil {
		return err
	}
	return eng.OnAfterSave(ctx, l, false)
}

// Delete unwinds the loan's postings.
func (l *Loan) Delete(ctx context.Context, eng *dea.Engine) error {
	return eng.OnDelete(ctx, l)
}

// LoanPayment settles part of a loan: principal comes off the customer's
// account, interest is earned into Interest Income.
type LoanPayment struct {
	ID        uuid.UUID
	LoanID    uuid.UUID
	Customer  uuid.UUID
	Principal money.Money
	Interest  money.Money
	PaidAt    time.Time
}

func (p *LoanPayment) TransactorOwner() dea.OwnerRef {
	return dea.OwnerRef{Kind: dea.OwnerLoanPayment, ID: p.ID}
}

// TransactorParent links the payment's entry to its loan.
func (p *LoanPayment) TransactorParent() *dea.OwnerRef {
	return &dea.OwnerRef{Kind: dea.OwnerLoan, ID: p.LoanID}
}

func (p *LoanPayment) Transactions() ([]dea.LedgerLeg, []dea.AccountLeg, error) {
	var ledgerLegs []dea.LedgerLeg
	var accountLegs []dea.AccountLeg
	if !p.Principal.IsZero() {
		accountLegs = append(accountLegs, dea.AccountLeg{
			Ledger:       "Cash",
			Counterparty: p.Customer,
			Direction:    dea.Cr,
			Reason:       dea.ReasonLoanPayment,
			Amount:       p.Principal,
		})
	}
	if !p.Interest.IsZero() {
		ledgerLegs = append(ledgerLegs, dea.LedgerLeg{
			Debit:  "Cash",
			Credit: "Interest Income",
			Amount: p.Interest,
		})
	}
	return ledgerLegs, accountLegs, nil
}

func (p *LoanPayment) MateriallyChanged(old *LoanPayment) bool {
	return !p.Principal.Equal(old.Principal) ||
		!p.Interest.Equal(old.Interest) ||
		p.Customer != old.Customer
}

func (p *LoanPayment) Save(ctx context.Context, eng *dea.Engine, old *LoanPayment) error {
	if old == nil {
		return eng.OnAfterSave(ctx, p, true)
	}
	if err := eng.OnBeforeSave(ctx, old, p, p.MateriallyChanged(old)); err != nil {
		return err
	}
	return eng.OnAfterSave(ctx, p, false)
}

func (p *LoanPayment) Delete(ctx context.Context, eng *dea.Engine) error {
	return eng.OnDelete(ctx, p)
}
