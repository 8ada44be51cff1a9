package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
)

type fakeLedger struct {
	entries []pgrepo.LedgerEntry
}

func (f *fakeLedger) ListByUser(_ context.Context, userID int64) ([]pgrepo.LedgerEntry, error) {
	var out []pgrepo.LedgerEntry
	for _, entry := range f.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	products map[string]catalogsvc.Product
}

func (f *fakeCatalog) Get(_ context.Context, id string) (catalogsvc.Product, error) {
	product, ok := f.products[id]
	if !ok {
		return catalogsvc.Product{}, catalogsvc.ErrProductNotFound
	}
	return product, nil
}

func TestStatusWithoutPurchases(t *testing.T) {
	svc := NewService(Dependencies{Ledger: &fakeLedger{}, Catalog: &fakeCatalog{}, DefaultDays: 30})

	sub, err := svc.Status(context.Background(), 42)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if sub.State != StateNone {
		t.Fatalf("expected none state, got %s", sub.State)
	}
}

func TestStatusActiveAndExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{products: map[string]catalogsvc.Product{
		"vpn_month": {ID: "vpn_month", Title: "VPN на месяц", Days: 30},
	}}

	cases := []struct {
		name      string
		boughtAt  time.Time
		wantState State
	}{
		{"fresh purchase", now.AddDate(0, 0, -10), StateActive},
		{"last day", now.AddDate(0, 0, -29), StateActive},
		{"expired", now.AddDate(0, 0, -31), StateExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &fakeLedger{entries: []pgrepo.LedgerEntry{{
				UserID:    42,
				ProductID: "vpn_month",
				Title:     "VPN на месяц",
				CreatedAt: tc.boughtAt,
			}}}

			svc := NewService(Dependencies{Ledger: ledger, Catalog: cat, DefaultDays: 30})
			svc.now = func() time.Time { return now }

			sub, err := svc.Status(context.Background(), 42)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if sub.State != tc.wantState {
				t.Fatalf("expected %s, got %s", tc.wantState, sub.State)
			}
			if sub.Title != "VPN на месяц" {
				t.Fatalf("unexpected title %q", sub.Title)
			}
		})
	}
}

func TestStatusPicksFurthestWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{products: map[string]catalogsvc.Product{
		"vpn_month": {ID: "vpn_month", Days: 30},
		"vpn_year":  {ID: "vpn_year", Days: 365},
	}}
	ledger := &fakeLedger{entries: []pgrepo.LedgerEntry{
		{UserID: 42, ProductID: "vpn_month", Title: "VPN на месяц", CreatedAt: now.AddDate(0, 0, -5)},
		{UserID: 42, ProductID: "vpn_year", Title: "VPN на год", CreatedAt: now.AddDate(0, 0, -100)},
	}}

	svc := NewService(Dependencies{Ledger: ledger, Catalog: cat, DefaultDays: 30})
	svc.now = func() time.Time { return now }

	sub, err := svc.Status(context.Background(), 42)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if sub.State != StateActive || sub.Title != "VPN на год" {
		t.Fatalf("expected active yearly subscription, got %+v", sub)
	}
}

func TestStatusFallsBackWhenProductDeleted(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{entries: []pgrepo.LedgerEntry{{
		UserID:    42,
		ProductID: "gone",
		Title:     "Удалённый тариф",
		CreatedAt: now.AddDate(0, 0, -10),
	}}}

	svc := NewService(Dependencies{Ledger: ledger, Catalog: &fakeCatalog{}, DefaultDays: 30})
	svc.now = func() time.Time { return now }

	sub, err := svc.Status(context.Background(), 42)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if sub.State != StateActive {
		t.Fatalf("deleted product must fall back to default window, got %s", sub.State)
	}
}

func TestStatusRejectsInvalidUser(t *testing.T) {
	svc := NewService(Dependencies{Ledger: &fakeLedger{}})

	if _, err := svc.Status(context.Background(), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
