package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/tgshop/internal/domain/enums"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

// LedgerEntry snapshots the product at purchase time so later catalog edits
// do not rewrite purchase history.
type LedgerEntry struct {
	ID               int64
	UserID           int64
	ProductID        string
	Title            string
	PriceStars       int64
	PriceRub         int64
	Method           enums.PaymentMethod
	GatewayPaymentID *string
	CreatedAt        time.Time
}

type LedgerStats struct {
	Purchases   int64
	Buyers      int64
	TotalStars  int64
	TotalRub    int64
	StarsPaid   int64
	GatewayPaid int64
	ChargesSeen int64
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// MarkChargeProcessed atomically claims a native payment charge id. The first
// caller gets true; every retry of the same charge gets false.
func (r *LedgerRepo) MarkChargeProcessed(ctx context.Context, chargeID string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(chargeID) == "" {
		return false, fmt.Errorf("charge id is required")
	}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO processed_charges (charge_id, created_at)
VALUES ($1, NOW())
ON CONFLICT (charge_id) DO NOTHING
`, strings.TrimSpace(chargeID))
	if err != nil {
		return false, fmt.Errorf("mark charge processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *LedgerRepo) AppendStars(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	if r.pool == nil {
		return LedgerEntry{}, fmt.Errorf("postgres pool is nil")
	}
	if entry.UserID <= 0 || strings.TrimSpace(entry.ProductID) == "" {
		return LedgerEntry{}, fmt.Errorf("invalid ledger entry payload")
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO purchases (user_id, product_id, title, price_stars, price_rub, method, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
RETURNING id, created_at
`, entry.UserID, entry.ProductID, entry.Title, entry.PriceStars, entry.PriceRub, string(enums.PaymentMethodStars))
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return LedgerEntry{}, fmt.Errorf("append stars ledger entry: %w", err)
	}
	entry.Method = enums.PaymentMethodStars
	return entry, nil
}

// AppendGateway inserts at most one entry per gateway payment id. The unique
// index on gateway_payment_id makes the dedup check and the insert a single
// atomic step, so two interleaved reconciliations cannot both deliver.
func (r *LedgerRepo) AppendGateway(ctx context.Context, entry LedgerEntry, gatewayPaymentID string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	if entry.UserID <= 0 || strings.TrimSpace(entry.ProductID) == "" || strings.TrimSpace(gatewayPaymentID) == "" {
		return false, fmt.Errorf("invalid gateway ledger entry payload")
	}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO purchases (user_id, product_id, title, price_stars, price_rub, method, gateway_payment_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (gateway_payment_id) DO NOTHING
`, entry.UserID, entry.ProductID, entry.Title, entry.PriceStars, entry.PriceRub, string(enums.PaymentMethodYooKassa), strings.TrimSpace(gatewayPaymentID))
	if err != nil {
		return false, fmt.Errorf("append gateway ledger entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *LedgerRepo) ListByUser(ctx context.Context, userID int64) ([]LedgerEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, product_id, title, price_stars, price_rub, method, gateway_payment_id, created_at
FROM purchases
WHERE user_id = $1
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases by user: %w", err)
	}
	defer rows.Close()

	return collectLedgerRows(rows)
}

func (r *LedgerRepo) ListRecent(ctx context.Context, limit int) ([]LedgerEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, product_id, title, price_stars, price_rub, method, gateway_payment_id, created_at
FROM purchases
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent purchases: %w", err)
	}
	defer rows.Close()

	return collectLedgerRows(rows)
}

func (r *LedgerRepo) Stats(ctx context.Context) (LedgerStats, error) {
	if r.pool == nil {
		return LedgerStats{}, fmt.Errorf("postgres pool is nil")
	}

	var stats LedgerStats
	err := r.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(DISTINCT user_id),
	COALESCE(SUM(price_stars), 0),
	COALESCE(SUM(price_rub), 0),
	COUNT(*) FILTER (WHERE method = 'stars'),
	COUNT(*) FILTER (WHERE method = 'yookassa')
FROM purchases
`).Scan(
		&stats.Purchases,
		&stats.Buyers,
		&stats.TotalStars,
		&stats.TotalRub,
		&stats.StarsPaid,
		&stats.GatewayPaid,
	)
	if err != nil {
		return LedgerStats{}, fmt.Errorf("ledger stats: %w", err)
	}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM processed_charges`).Scan(&stats.ChargesSeen); err != nil {
		return LedgerStats{}, fmt.Errorf("processed charges count: %w", err)
	}
	return stats, nil
}

func (r *LedgerRepo) ExportAll(ctx context.Context) ([]LedgerEntry, []string, error) {
	if r.pool == nil {
		return nil, nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, product_id, title, price_stars, price_rub, method, gateway_payment_id, created_at
FROM purchases
ORDER BY created_at
`)
	if err != nil {
		return nil, nil, fmt.Errorf("export purchases: %w", err)
	}
	defer rows.Close()

	entries, err := collectLedgerRows(rows)
	if err != nil {
		return nil, nil, err
	}

	chargeRows, err := r.pool.Query(ctx, `SELECT charge_id FROM processed_charges ORDER BY created_at`)
	if err != nil {
		return nil, nil, fmt.Errorf("export processed charges: %w", err)
	}
	defer chargeRows.Close()

	var charges []string
	for chargeRows.Next() {
		var chargeID string
		if err := chargeRows.Scan(&chargeID); err != nil {
			return nil, nil, fmt.Errorf("scan processed charge: %w", err)
		}
		charges = append(charges, chargeID)
	}
	if err := chargeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate processed charges: %w", err)
	}

	return entries, charges, nil
}

func (r *LedgerRepo) PurgeAll(ctx context.Context) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	// Serializable keeps the purge count and the charge wipe on one snapshot.
	var purged int64
	err := WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(txCtx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(txCtx, `DELETE FROM purchases`)
		if err != nil {
			return fmt.Errorf("purge purchases: %w", err)
		}
		purged = tag.RowsAffected()

		if _, err := tx.Exec(txCtx, `DELETE FROM processed_charges`); err != nil {
			return fmt.Errorf("purge processed charges: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func collectLedgerRows(rows pgx.Rows) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for rows.Next() {
		var (
			entry  LedgerEntry
			method string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.ProductID,
			&entry.Title,
			&entry.PriceStars,
			&entry.PriceRub,
			&method,
			&entry.GatewayPaymentID,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}
		entry.Method = enums.PaymentMethod(method)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}
	return out, nil
}
