package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
)

var ErrValidation = errors.New("validation error")

type State string

const (
	StateNone    State = "none"
	StateActive  State = "active"
	StateExpired State = "expired"
)

type LedgerReader interface {
	ListByUser(ctx context.Context, userID int64) ([]pgrepo.LedgerEntry, error)
}

type ProductResolver interface {
	Get(ctx context.Context, id string) (catalogsvc.Product, error)
}

type Service struct {
	ledger      LedgerReader
	catalog     ProductResolver
	defaultDays int
	now         func() time.Time
}

type Dependencies struct {
	Ledger      LedgerReader
	Catalog     ProductResolver
	DefaultDays int
}

type Subscription struct {
	State     State
	Title     string
	ExpiresAt time.Time
}

func NewService(deps Dependencies) *Service {
	days := deps.DefaultDays
	if days <= 0 {
		days = 30
	}

	return &Service{
		ledger:      deps.Ledger,
		catalog:     deps.Catalog,
		defaultDays: days,
		now:         time.Now,
	}
}

// Status derives the subscription from purchase history: the entry whose
// access window reaches furthest into the future wins. Products deleted after
// purchase fall back to the default window so paid access never vanishes with
// the catalog entry.
func (s *Service) Status(ctx context.Context, userID int64) (Subscription, error) {
	if userID <= 0 {
		return Subscription{}, ErrValidation
	}
	if s.ledger == nil {
		return Subscription{}, fmt.Errorf("ledger reader is nil")
	}

	entries, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}
	if len(entries) == 0 {
		return Subscription{State: StateNone}, nil
	}

	best := Subscription{State: StateNone}
	for _, entry := range entries {
		days := s.resolveDays(ctx, entry.ProductID)
		expiresAt := entry.CreatedAt.AddDate(0, 0, days)
		if best.State == StateNone || expiresAt.After(best.ExpiresAt) {
			best = Subscription{
				State:     StateExpired,
				Title:     entry.Title,
				ExpiresAt: expiresAt,
			}
		}
	}

	if best.ExpiresAt.After(s.now()) {
		best.State = StateActive
	}
	return best, nil
}

func (s *Service) resolveDays(ctx context.Context, productID string) int {
	if s.catalog == nil {
		return s.defaultDays
	}

	product, err := s.catalog.Get(ctx, productID)
	if err != nil || product.Days <= 0 {
		return s.defaultDays
	}
	return product.Days
}
