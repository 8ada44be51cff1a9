package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProductNotFound = errors.New("product not found")

type ProductRepo struct {
	pool *pgxpool.Pool
}

type ProductRecord struct {
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

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

func (r *ProductRepo) Upsert(ctx context.Context, rec ProductRecord) (ProductRecord, error) {
	if r.pool == nil {
		return ProductRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return ProductRecord{}, fmt.Errorf("product id is required")
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO products (
	id,
	title,
	description,
	price_stars,
	price_rub,
	deliver_text,
	deliver_url,
	days,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
ON CONFLICT (id) DO UPDATE
SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	price_stars = EXCLUDED.price_stars,
	price_rub = EXCLUDED.price_rub,
	deliver_text = EXCLUDED.deliver_text,
	deliver_url = EXCLUDED.deliver_url,
	days = EXCLUDED.days,
	updated_at = NOW()
RETURNING id, title, description, price_stars, price_rub, deliver_text, deliver_url, days, created_at, updated_at
`, strings.TrimSpace(rec.ID), rec.Title, rec.Description, rec.PriceStars, rec.PriceRub, rec.DeliverText, rec.DeliverURL, rec.Days)

	out, err := scanProductRow(row)
	if err != nil {
		return ProductRecord{}, fmt.Errorf("upsert product: %w", err)
	}
	return out, nil
}

func (r *ProductRepo) FindByID(ctx context.Context, productID string) (ProductRecord, error) {
	if r.pool == nil {
		return ProductRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(productID) == "" {
		return ProductRecord{}, ErrProductNotFound
	}

	row := r.pool.QueryRow(ctx, `
SELECT id, title, description, price_stars, price_rub, deliver_text, deliver_url, days, created_at, updated_at
FROM products
WHERE id = $1
`, strings.TrimSpace(productID))

	rec, err := scanProductRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductRecord{}, ErrProductNotFound
		}
		return ProductRecord{}, fmt.Errorf("find product by id: %w", err)
	}
	return rec, nil
}

func (r *ProductRepo) List(ctx context.Context) ([]ProductRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, title, description, price_stars, price_rub, deliver_text, deliver_url, days, created_at, updated_at
FROM products
ORDER BY created_at
`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []ProductRecord
	for rows.Next() {
		rec, err := scanProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return out, nil
}

func (r *ProductRepo) Delete(ctx context.Context, productID string) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, strings.TrimSpace(productID))
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func scanProductRow(row pgx.Row) (ProductRecord, error) {
	var rec ProductRecord
	if err := row.Scan(
		&rec.ID,
		&rec.Title,
		&rec.Description,
		&rec.PriceStars,
		&rec.PriceRub,
		&rec.DeliverText,
		&rec.DeliverURL,
		&rec.Days,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return ProductRecord{}, err
	}
	return rec, nil
}
