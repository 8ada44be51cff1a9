package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
)

type ResetSummary struct {
	PurchasesPurged int64
	PaymentsPurged  int64
	BackupPath      string
}

type backupSnapshot struct {
	CreatedAt       time.Time                     `json:"created_at"`
	Purchases       []pgrepo.LedgerEntry          `json:"purchases"`
	ProcessedCharge []string                      `json:"processed_charges"`
	GatewayPayments []pgrepo.GatewayPaymentRecord `json:"gateway_payments"`
}

// ResetLedger wipes purchase history after writing a JSON snapshot of
// everything it is about to delete. The snapshot lands via temp file and
// rename so a crash mid-write never leaves a half-written backup.
func (s *Service) ResetLedger(ctx context.Context, backupDir string) (ResetSummary, error) {
	if backupDir == "" {
		return ResetSummary{}, fmt.Errorf("backup dir is required")
	}

	entries, charges, err := s.ledger.ExportAll(ctx)
	if err != nil {
		return ResetSummary{}, err
	}
	records, err := s.store.ExportAll(ctx)
	if err != nil {
		return ResetSummary{}, err
	}

	backupPath, err := writeBackup(backupDir, backupSnapshot{
		CreatedAt:       s.now().UTC(),
		Purchases:       entries,
		ProcessedCharge: charges,
		GatewayPayments: records,
	})
	if err != nil {
		return ResetSummary{}, err
	}

	purchasesPurged, err := s.ledger.PurgeAll(ctx)
	if err != nil {
		return ResetSummary{}, err
	}
	paymentsPurged, err := s.store.PurgeAll(ctx)
	if err != nil {
		return ResetSummary{}, err
	}

	s.logger.Info("ledger reset complete",
		zap.Int64("purchases_purged", purchasesPurged),
		zap.Int64("payments_purged", paymentsPurged),
		zap.String("backup_path", backupPath),
	)
	return ResetSummary{
		PurchasesPurged: purchasesPurged,
		PaymentsPurged:  paymentsPurged,
		BackupPath:      backupPath,
	}, nil
}

func writeBackup(dir string, snapshot backupSnapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup snapshot: %w", err)
	}

	name := "ledger-" + snapshot.CreatedAt.Format("20060102-150405") + ".json"
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, encoded, 0o600); err != nil {
		return "", fmt.Errorf("write backup snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("finalize backup snapshot: %w", err)
	}
	return finalPath, nil
}
