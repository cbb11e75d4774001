package docs

import (
	"context"

	"github.com/google/uuid"

	"girvi.org/internal/dea"
	"girvi.org/internal/money"
)

// Purchase is a stock purchase invoice. A cash purchase moves Purchases
// against Cash; a credit purchase goes on the supplier's account instead.
type Purchase struct {
	ID       uuid.UUID
	Supplier uuid.UUID
	Total    money.Money
	OnCredit bool
}

func (p *Purchase) TransactorOwner() dea.OwnerRef {
	return dea.OwnerRef{Kind: dea.OwnerPurchase, ID: p.ID}
}

func (p *Purchase) Transactions() ([]dea.LedgerLeg, []dea.AccountLeg, error) {
	if p.Total.IsZero() {
		return nil, nil, nil
	}
	if p.OnCredit {
		return nil, []dea.AccountLeg{{
			Ledger:       "Purchases",
			Counterparty: p.Supplier,
			Direction:    dea.Cr,
			Reason:       dea.ReasonPurchase,
			Amount:       p.Total,
		}}, nil
	}
	return []dea.LedgerLeg{{Debit: "Purchases", Credit: "Cash", Amount: p.Total}}, nil, nil
}

func (p *Purchase) MateriallyChanged(old *Purchase) bool {
	return !p.Total.Equal(old.Total) || p.Supplier != old.Supplier || p.OnCredit != old.OnCredit
}

func (p *Purchase) Save(ctx context.Context, eng *dea.Engine, old *Purchase) error {
	if old == nil {
		return eng.OnAfterSave(ctx, p, true)
	}
	if err := eng.OnBeforeSave(ctx, old, p, p.MateriallyChanged(old)); err != nil {
		return err
	}
	return eng.OnAfterSave(ctx, p, false)
}

func (p *Purchase) Delete(ctx context.Context, eng *dea.Engine) error {
	return eng.OnDelete(ctx, p)
}

// Sale is a sales invoice, cash or on the customer's account.
type Sale struct {
	ID       uuid.UUID
	Customer uuid.UUID
	Total    money.Money
	OnCredit bool
}

func (s *Sale) TransactorOwner() dea.OwnerRef {
	return dea.OwnerRef{Kind: dea.OwnerSale, ID: s.ID}
}

func (s *Sale) Transactions() ([]dea.LedgerLeg, []dea.AccountLeg, error) {
	if s.Total.IsZero() {
		return nil, nil, nil
	}
	if s.OnCredit {
		return nil, []dea.AccountLeg{{
			Ledger:       "Sales",
			Counterparty: s.Customer,
			Direction:    dea.Dr,
			Reason:       dea.ReasonSale,
			Amount:       s.Total,
		}}, nil
	}
	return []dea.LedgerLeg{{Debit: "Cash", Credit: "Sales", Amount: s.Total}}, nil, nil
}

func (s *Sale) MateriallyChanged(old *Sale) bool {
	return !s.Total.Equal(old.Total) || s.Customer != old.Customer || s.OnCredit != old.OnCredit
}

func (s *Sale) Save(ctx context.Context, eng *dea.Engine, old *Sale) error {
	if old == nil {
		return eng.OnAfterSave(ctx, s, true)
	}
	if err := eng.OnBeforeSave(ctx, old, s, s.MateriallyChanged(old)); err != nil {
		return err
	}
	return eng.OnAfterSave(ctx, s, false)
}

func (s *Sale) Delete(ctx context.Context, eng *dea.Engine) error {
	return eng.OnDelete(ctx, s)
}

// Receipt records money received against a customer's outstanding balance.
type Receipt struct {
	ID       uuid.UUID
	Customer uuid.UUID
	Amount   money.Money
}

func (r *Receipt) TransactorOwner() dea.OwnerRef {
	return dea.OwnerRef{Kind: dea.OwnerReceipt, ID: r.ID}
}

func (r *Receipt) Transactions() ([]dea.LedgerLeg, []dea.AccountLeg, error) {
	if r.Amount.IsZero() {
		return nil, nil, nil
	}
	return nil, []dea.AccountLeg{{
		Ledger:       "Cash",
		Counterparty: r.Customer,
		Direction:    dea.Cr,
		Reason:       dea.ReasonReceipt,
		Amount:       r.Amount,
	}}, nil
}

func (r *Receipt) MateriallyChanged(old *Receipt) bool {
	return !r.Amount.Equal(old.Amount) || r.Customer != old.Customer
}

func (r *Receipt) Save(ctx context.Context, eng *dea.Engine, old *Receipt) error {
	if old == nil {
		return eng.OnAfterSave(ctx, r, true)
	}
	if err := eng.OnBeforeSave(ctx, old, r, r.MateriallyChanged(old)); err != nil {
		return err
	}
	return eng.OnAfterSave(ctx, r, false)
}

func (r *Receipt) Delete(ctx context.Context, eng *dea.Engine) error {
	return eng.OnDelete(ctx, r)
}
