package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/tgshop/internal/domain/enums"
)

var (
	ErrPaymentNotFound = errors.New("gateway payment not found")
	ErrPaymentExists   = errors.New("gateway payment already exists")
)

type GatewayPaymentRepo struct {
	pool *pgxpool.Pool
}

type GatewayPaymentRecord struct {
	PaymentID     string
	UserID        int64
	ProductID     string
	AmountRub     int64
	Status        enums.PaymentStatus
	RedirectURL   string
	MessageID     *int64
	IntegrityHash string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewGatewayPaymentRepo(pool *pgxpool.Pool) *GatewayPaymentRepo {
	return &GatewayPaymentRepo{pool: pool}
}

func (r *GatewayPaymentRepo) Create(ctx context.Context, rec GatewayPaymentRecord) (GatewayPaymentRecord, error) {
	if r.pool == nil {
		return GatewayPaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(rec.PaymentID) == "" || rec.UserID <= 0 || rec.AmountRub <= 0 {
		return GatewayPaymentRecord{}, fmt.Errorf("invalid gateway payment payload")
	}
	if rec.Status == "" {
		rec.Status = enums.PaymentStatusPending
	}
	rec.PaymentID = strings.TrimSpace(rec.PaymentID)

	row := r.pool.QueryRow(ctx, `
INSERT INTO gateway_payments (
	payment_id,
	user_id,
	product_id,
	amount_rub,
	status,
	redirect_url,
	message_id,
	integrity_hash,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
ON CONFLICT (payment_id) DO NOTHING
RETURNING created_at, updated_at
`, rec.PaymentID, rec.UserID, rec.ProductID, rec.AmountRub, string(rec.Status), rec.RedirectURL, rec.MessageID, rec.IntegrityHash)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GatewayPaymentRecord{}, ErrPaymentExists
		}
		return GatewayPaymentRecord{}, fmt.Errorf("insert gateway payment: %w", err)
	}
	return rec, nil
}

func (r *GatewayPaymentRepo) Find(ctx context.Context, paymentID string) (GatewayPaymentRecord, error) {
	if r.pool == nil {
		return GatewayPaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(paymentID) == "" {
		return GatewayPaymentRecord{}, ErrPaymentNotFound
	}

	row := r.pool.QueryRow(ctx, `
SELECT payment_id, user_id, product_id, amount_rub, status, redirect_url, message_id, integrity_hash, created_at, updated_at
FROM gateway_payments
WHERE payment_id = $1
`, strings.TrimSpace(paymentID))

	rec, err := scanGatewayPaymentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GatewayPaymentRecord{}, ErrPaymentNotFound
		}
		return GatewayPaymentRecord{}, fmt.Errorf("find gateway payment: %w", err)
	}
	return rec, nil
}

// UpdateStatus writes a new status only while the stored one is not terminal.
// It reports changed=false without error when the record is already settled,
// which absorbs duplicate and out-of-order gateway notifications; the stored
// record is returned either way.
func (r *GatewayPaymentRepo) UpdateStatus(ctx context.Context, paymentID string, status enums.PaymentStatus) (GatewayPaymentRecord, bool, error) {
	if r.pool == nil {
		return GatewayPaymentRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if _, err := enums.ParsePaymentStatus(string(status)); err != nil {
		return GatewayPaymentRecord{}, false, fmt.Errorf("update gateway payment status: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
UPDATE gateway_payments
SET status = $2, updated_at = NOW()
WHERE payment_id = $1
  AND status NOT IN ('succeeded', 'canceled')
  AND status <> $2
RETURNING payment_id, user_id, product_id, amount_rub, status, redirect_url, message_id, integrity_hash, created_at, updated_at
`, strings.TrimSpace(paymentID), string(status))

	rec, err := scanGatewayPaymentRow(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return GatewayPaymentRecord{}, false, fmt.Errorf("update gateway payment status: %w", err)
	}

	rec, err = r.Find(ctx, paymentID)
	if err != nil {
		return GatewayPaymentRecord{}, false, err
	}
	return rec, false, nil
}

func (r *GatewayPaymentRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]GatewayPaymentRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT payment_id, user_id, product_id, amount_rub, status, redirect_url, message_id, integrity_hash, created_at, updated_at
FROM gateway_payments
WHERE status IN ('pending', 'waiting_for_capture')
  AND created_at < $1
ORDER BY created_at
LIMIT $2
`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	return collectGatewayPaymentRows(rows)
}

func (r *GatewayPaymentRepo) ListRecent(ctx context.Context, limit int) ([]GatewayPaymentRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
SELECT payment_id, user_id, product_id, amount_rub, status, redirect_url, message_id, integrity_hash, created_at, updated_at
FROM gateway_payments
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent gateway payments: %w", err)
	}
	defer rows.Close()

	return collectGatewayPaymentRows(rows)
}

func (r *GatewayPaymentRepo) ExportAll(ctx context.Context) ([]GatewayPaymentRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT payment_id, user_id, product_id, amount_rub, status, redirect_url, message_id, integrity_hash, created_at, updated_at
FROM gateway_payments
ORDER BY created_at
`)
	if err != nil {
		return nil, fmt.Errorf("export gateway payments: %w", err)
	}
	defer rows.Close()

	return collectGatewayPaymentRows(rows)
}

func (r *GatewayPaymentRepo) PurgeAll(ctx context.Context) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM gateway_payments`)
	if err != nil {
		return 0, fmt.Errorf("purge gateway payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectGatewayPaymentRows(rows pgx.Rows) ([]GatewayPaymentRecord, error) {
	var out []GatewayPaymentRecord
	for rows.Next() {
		rec, err := scanGatewayPaymentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gateway payment row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gateway payment rows: %w", err)
	}
	return out, nil
}

func scanGatewayPaymentRow(row pgx.Row) (GatewayPaymentRecord, error) {
	var (
		rec    GatewayPaymentRecord
		status string
	)
	if err := row.Scan(
		&rec.PaymentID,
		&rec.UserID,
		&rec.ProductID,
		&rec.AmountRub,
		&status,
		&rec.RedirectURL,
		&rec.MessageID,
		&rec.IntegrityHash,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return GatewayPaymentRecord{}, err
	}
	rec.Status = enums.PaymentStatus(status)
	return rec, nil
}
