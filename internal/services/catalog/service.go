package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
)

const (
	maxIDLen          = 50
	maxTitleLen       = 100
	maxDescriptionLen = 2000
	maxDeliverTextLen = 5000
	maxDeliverURLLen  = 500
	maxPriceStars     = 1_000_000
	maxPriceRub       = 10_000_000
)

var (
	ErrValidation      = errors.New("validation error")
	ErrProductNotFound = errors.New("product not found")

	productIDPattern = regexp.MustCompile(`^[a-z0-9_\-]+$`)
)

type ProductStore interface {
	Upsert(ctx context.Context, record pgrepo.ProductRecord) (pgrepo.ProductRecord, error)
	FindByID(ctx context.Context, id string) (pgrepo.ProductRecord, error)
	List(ctx context.Context) ([]pgrepo.ProductRecord, error)
	Delete(ctx context.Context, id string) error
}

type Service struct {
	store        ProductStore
	exchangeRate int64
}

type Dependencies struct {
	Store        ProductStore
	ExchangeRate int64
}

type Product struct {
	ID          string
	Title       string
	Description string
	PriceStars  int64
	PriceRub    int64
	DeliverText string
	DeliverURL  string
	Days        int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewService(deps Dependencies) *Service {
	rate := deps.ExchangeRate
	if rate <= 0 {
		rate = 1
	}

	return &Service{
		store:        deps.Store,
		exchangeRate: rate,
	}
}

// Save validates and upserts a product. A zero rub price is derived from the
// stars price via the configured exchange rate, capped at the rub bound.
func (s *Service) Save(ctx context.Context, product Product) (Product, error) {
	if s.store == nil {
		return Product{}, fmt.Errorf("product store is nil")
	}

	product, err := normalize(product)
	if err != nil {
		return Product{}, err
	}

	if product.PriceRub <= 0 {
		product.PriceRub = product.PriceStars * s.exchangeRate
		if product.PriceRub > maxPriceRub {
			product.PriceRub = maxPriceRub
		}
	}

	saved, err := s.store.Upsert(ctx, toRecord(product))
	if err != nil {
		return Product{}, err
	}
	return fromRecord(saved), nil
}

func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if s.store == nil {
		return Product{}, fmt.Errorf("product store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Product{}, ErrValidation
	}

	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgrepo.ErrProductNotFound) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return fromRecord(record), nil
}

func (s *Service) List(ctx context.Context) ([]Product, error) {
	if s.store == nil {
		return nil, fmt.Errorf("product store is nil")
	}

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(records))
	for _, record := range records {
		products = append(products, fromRecord(record))
	}
	return products, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if s.store == nil {
		return fmt.Errorf("product store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrValidation
	}

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, pgrepo.ErrProductNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	return nil
}

func normalize(product Product) (Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.Title = strings.TrimSpace(product.Title)
	product.Description = strings.TrimSpace(product.Description)
	product.DeliverText = strings.TrimSpace(product.DeliverText)
	product.DeliverURL = strings.TrimSpace(product.DeliverURL)

	switch {
	case product.ID == "" || len(product.ID) > maxIDLen:
		return Product{}, fmt.Errorf("%w: product id length must be 1..%d", ErrValidation, maxIDLen)
	case !productIDPattern.MatchString(product.ID):
		return Product{}, fmt.Errorf("%w: product id allows lowercase latin, digits, '_' and '-'", ErrValidation)
	case product.Title == "" || len([]rune(product.Title)) > maxTitleLen:
		return Product{}, fmt.Errorf("%w: title length must be 1..%d", ErrValidation, maxTitleLen)
	case len([]rune(product.Description)) > maxDescriptionLen:
		return Product{}, fmt.Errorf("%w: description exceeds %d characters", ErrValidation, maxDescriptionLen)
	case len([]rune(product.DeliverText)) > maxDeliverTextLen:
		return Product{}, fmt.Errorf("%w: deliver text exceeds %d characters", ErrValidation, maxDeliverTextLen)
	case product.DeliverText == "" && product.DeliverURL == "":
		return Product{}, fmt.Errorf("%w: product needs deliver text or deliver url", ErrValidation)
	case product.PriceStars < 1 || product.PriceStars > maxPriceStars:
		return Product{}, fmt.Errorf("%w: stars price must be 1..%d", ErrValidation, maxPriceStars)
	case product.PriceRub < 0 || product.PriceRub > maxPriceRub:
		return Product{}, fmt.Errorf("%w: rub price must be 0..%d", ErrValidation, maxPriceRub)
	case product.Days < 0:
		return Product{}, fmt.Errorf("%w: subscription days must not be negative", ErrValidation)
	}

	if product.DeliverURL != "" {
		if len(product.DeliverURL) > maxDeliverURLLen {
			return Product{}, fmt.Errorf("%w: deliver url exceeds %d characters", ErrValidation, maxDeliverURLLen)
		}
		parsed, err := url.Parse(product.DeliverURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return Product{}, fmt.Errorf("%w: deliver url must be an absolute http(s) url", ErrValidation)
		}
	}

	return product, nil
}

func toRecord(product Product) pgrepo.ProductRecord {
	return pgrepo.ProductRecord{
		ID:          product.ID,
		Title:       product.Title,
		Description: product.Description,
		PriceStars:  product.PriceStars,
		PriceRub:    product.PriceRub,
		DeliverText: product.DeliverText,
		DeliverURL:  product.DeliverURL,
		Days:        product.Days,
	}
}

func fromRecord(record pgrepo.ProductRecord) Product {
	return Product{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		PriceStars:  record.PriceStars,
		PriceRub:    record.PriceRub,
		DeliverText: record.DeliverText,
		DeliverURL:  record.DeliverURL,
		Days:        record.Days,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}
