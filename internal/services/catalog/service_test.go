package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
)

type fakeProductStore struct {
	records map[string]pgrepo.ProductRecord
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{records: make(map[string]pgrepo.ProductRecord)}
}

func (f *fakeProductStore) Upsert(_ context.Context, record pgrepo.ProductRecord) (pgrepo.ProductRecord, error) {
	f.records[record.ID] = record
	return record, nil
}

func (f *fakeProductStore) FindByID(_ context.Context, id string) (pgrepo.ProductRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return pgrepo.ProductRecord{}, pgrepo.ErrProductNotFound
	}
	return record, nil
}

func (f *fakeProductStore) List(_ context.Context) ([]pgrepo.ProductRecord, error) {
	out := make([]pgrepo.ProductRecord, 0, len(f.records))
	for _, record := range f.records {
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeProductStore) Delete(_ context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return pgrepo.ErrProductNotFound
	}
	delete(f.records, id)
	return nil
}

func TestSaveDerivesRubPriceFromStars(t *testing.T) {
	svc := NewService(Dependencies{Store: newFakeProductStore(), ExchangeRate: 10})

	saved, err := svc.Save(context.Background(), Product{
		ID:          "vpn_month",
		Title:       "VPN на месяц",
		PriceStars:  150,
		DeliverText: "ключ: abc",
	})
	if err != nil {
		t.Fatalf("save product: %v", err)
	}
	if saved.PriceRub != 1500 {
		t.Fatalf("expected derived rub price 1500, got %d", saved.PriceRub)
	}
}

func TestSaveKeepsExplicitRubPrice(t *testing.T) {
	svc := NewService(Dependencies{Store: newFakeProductStore(), ExchangeRate: 10})

	saved, err := svc.Save(context.Background(), Product{
		ID:          "vpn_month",
		Title:       "VPN на месяц",
		PriceStars:  150,
		PriceRub:    990,
		DeliverText: "ключ: abc",
	})
	if err != nil {
		t.Fatalf("save product: %v", err)
	}
	if saved.PriceRub != 990 {
		t.Fatalf("expected explicit rub price 990, got %d", saved.PriceRub)
	}
}

func TestSaveValidationBounds(t *testing.T) {
	svc := NewService(Dependencies{Store: newFakeProductStore(), ExchangeRate: 10})
	ctx := context.Background()

	valid := Product{
		ID:          "vpn_month",
		Title:       "VPN",
		PriceStars:  100,
		DeliverText: "ключ",
	}

	cases := []struct {
		name   string
		mutate func(p Product) Product
	}{
		{"empty id", func(p Product) Product { p.ID = ""; return p }},
		{"oversized id", func(p Product) Product { p.ID = strings.Repeat("a", 51); return p }},
		{"id with spaces", func(p Product) Product { p.ID = "vpn month"; return p }},
		{"empty title", func(p Product) Product { p.Title = ""; return p }},
		{"oversized title", func(p Product) Product { p.Title = strings.Repeat("т", 101); return p }},
		{"oversized description", func(p Product) Product { p.Description = strings.Repeat("о", 2001); return p }},
		{"oversized deliver text", func(p Product) Product { p.DeliverText = strings.Repeat("к", 5001); return p }},
		{"no delivery payload", func(p Product) Product { p.DeliverText = ""; return p }},
		{"zero stars price", func(p Product) Product { p.PriceStars = 0; return p }},
		{"oversized stars price", func(p Product) Product { p.PriceStars = 1_000_001; return p }},
		{"negative rub price", func(p Product) Product { p.PriceRub = -1; return p }},
		{"ftp deliver url", func(p Product) Product { p.DeliverText = ""; p.DeliverURL = "ftp://host/file"; return p }},
		{"relative deliver url", func(p Product) Product { p.DeliverText = ""; p.DeliverURL = "/path"; return p }},
		{"oversized deliver url", func(p Product) Product {
			p.DeliverURL = "https://example.com/" + strings.Repeat("a", 500)
			return p
		}},
		{"negative days", func(p Product) Product { p.Days = -1; return p }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Save(ctx, tc.mutate(valid)); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestGetMapsMissingProduct(t *testing.T) {
	svc := NewService(Dependencies{Store: newFakeProductStore(), ExchangeRate: 10})

	if _, err := svc.Get(context.Background(), "ghost"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestDeleteMapsMissingProduct(t *testing.T) {
	svc := NewService(Dependencies{Store: newFakeProductStore(), ExchangeRate: 10})

	if err := svc.Delete(context.Background(), "ghost"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
