// Package chart loads a chart-of-accounts seed and applies it to the engine.
package chart

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"girvi.org/internal/dea"
)

// Node is one ledger in the seed file.
type Node struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Children []Node `yaml:"children,omitempty"`
}

// Default is the standard shop chart: cash, stock, pawn loans and the
// matching income and liability heads.
var Default = []Node{
	{Name: "Current Assets", Type: "asset", Children: []Node{
		{Name: "Cash", Type: "asset"},
		{Name: "Inventory", Type: "asset"},
		{Name: "Loans Receivable", Type: "asset"},
	}},
	{Name: "Liabilities", Type: "liability", Children: []Node{
		{Name: "Accounts Payable", Type: "liability"},
	}},
	{Name: "Income", Type: "income", Children: []Node{
		{Name: "Sales", Type: "income"},
		{Name: "Interest Income", Type: "income"},
	}},
	{Name: "Expenses", Type: "expense", Children: []Node{
		{Name: "Purchases", Type: "expense"},
	}},
	{Name: "Capital", Type: "equity"},
}

// Load parses a YAML seed document: a list of nodes, each with a name, a
// type, and optional children.
func Load(r io.Reader) ([]Node, error) {
	var nodes []Node
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&nodes); err != nil {
		return nil, fmt.Errorf("parse chart: %w", err)
	}
	return nodes, nil
}

func accountType(s string) (dea.AccountType, error) {
	switch dea.AccountType(s) {
	case dea.Asset, dea.Liability, dea.Income, dea.Expense, dea.Equity:
		return dea.AccountType(s), nil
	default:
		return "", fmt.Errorf("unknown account type %q", s)
	}
}

// Apply creates every missing ledger in the seed. Re-applying an already
// seeded chart is a no-op, so it is safe to run on every startup.
func Apply(ctx context.Context, eng *dea.Engine, nodes []Node) error {
	return apply(ctx, eng, nodes, "")
}

func apply(ctx context.Context, eng *dea.Engine, nodes []Node, parentID string) error {
	for _, n := range nodes {
		if n.Name == "" {
			return fmt.Errorf("chart node without a name under parent %q", parentID)
		}
		t, err := accountType(n.Type)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
		l, err := eng.EnsureLedger(ctx, n.Name, t, parentID)
		if err != nil {
			return fmt.Errorf("ensure ledger %q: %w", n.Name, err)
		}
		if err := apply(ctx, eng, n.Children, l.ID); err != nil {
			return err
		}
	}
	return nil
}
