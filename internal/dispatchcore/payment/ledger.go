// Package payment implements the settlement interlock: the vault debit at
// ride acceptance and the commission/overage split at ride completion,
// plus the pending-transfer retry queue for transfers a captain's balance
// couldn't cover immediately. Every money move is double-entry — one row
// in money_transfers plus a balance change on both accounts.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch-core/internal/dispatchcore/captain"
	"dispatch-core/internal/dispatchcore/settings"
	"dispatch-core/internal/dispatchcore/trip"
	"dispatch-core/pkg/logger"
)

// ErrInsufficientFunds is returned by AcceptWithVaultDeduction when the
// accepting captain's wallet can't cover the vault deduction; acceptance
// must be refused, not retried.
var ErrInsufficientFunds = captain.ErrInsufficientFunds

const (
	accountTypeVault  = "vault"
	accountTypeWallet = "wallet"
	houseAccountID    = "house"

	transferTypeVaultDeduction = "vault_deduction"
	transferTypeCommission     = "commission"
	transferTypeOverage        = "overage"

	statusPending   = "pending"
	statusCompleted = "completed"
)

// Ledger performs every money move the trip lifecycle requires.
type Ledger struct {
	db       *pgxpool.Pool
	trips    *trip.Store
	captains *captain.Repository
	settings *settings.Store
	log      logger.Logger
}

// New creates a Ledger.
func New(db *pgxpool.Pool, trips *trip.Store, captains *captain.Repository, st *settings.Store, log logger.Logger) *Ledger {
	return &Ledger{db: db, trips: trips, captains: captains, settings: st, log: log}
}

// Settlement summarizes a completion's ledger outcome, returned so the
// caller can log/respond without re-deriving amounts.
type Settlement struct {
	Commission        int64
	CommissionPending bool
	Overage           int64
	OveragePending    bool
	Full              bool
}

// AcceptWithVaultDeduction is the acceptance-time interlock: debit
// mainVaultDeductionRate*fare from the captain's wallet, and only if that
// succeeds issue the acceptance CAS. A CAS race (ride taken by another
// captain's concurrent accept) is compensated by crediting the debit back,
// since the debit and the CAS span two independently-owned stores.
func (l *Ledger) AcceptWithVaultDeduction(ctx context.Context, tripID, captainID string, fareAmount int64) (*trip.Trip, int64, error) {
	cfg := l.settings.Get()
	debit := roundAmount(float64(fareAmount) * cfg.MainVaultDeductionRate)

	if err := l.captains.Debit(ctx, captainID, debit); err != nil {
		if errors.Is(err, captain.ErrInsufficientFunds) {
			return nil, 0, ErrInsufficientFunds
		}
		return nil, 0, fmt.Errorf("vault debit: %w", err)
	}

	updated, err := l.trips.AcceptByDriver(ctx, tripID, captainID, debit)
	if err != nil {
		if compErr := l.captains.Credit(ctx, captainID, debit); compErr != nil {
			l.log.WithFields(logger.LogFields{"captain_id": captainID}).
				Error("vault_debit_compensation_failed", compErr)
		}
		return nil, 0, err
	}

	if err := l.recordTransfer(ctx, captainID, "captain", houseAccountID, "house", debit, transferTypeVaultDeduction, statusCompleted); err != nil {
		l.log.Error("vault_transfer_record_failed", err)
	}
	if err := l.creditAccount(ctx, houseAccountID, accountTypeVault, debit); err != nil {
		l.log.Error("vault_credit_failed", err)
	}

	return updated, debit, nil
}

// SettleCompletion is the completion-time interlock: a commission transfer
// (captain -> house) and, if the captain overcollected, an overage
// transfer (captain -> passenger). Either leg that the captain's balance
// can't cover is recorded as a pending transfer rather than blocking
// completion.
func (l *Ledger) SettleCompletion(ctx context.Context, tripID, captainID, passengerID string, fareAmount, receivedAmount int64) (Settlement, error) {
	cfg := l.settings.Get()
	result := Settlement{Full: receivedAmount >= fareAmount}

	commission := roundAmount(float64(fareAmount) * cfg.CommissionRate)
	result.Commission = commission
	commissionPending, err := l.transferOrPend(ctx, tripID, captainID, houseAccountID, "house", accountTypeVault, commission, transferTypeCommission)
	if err != nil {
		return result, err
	}
	result.CommissionPending = commissionPending

	if receivedAmount > fareAmount {
		overage := receivedAmount - fareAmount
		result.Overage = overage
		overagePending, err := l.transferOrPend(ctx, tripID, captainID, passengerID, "passenger", accountTypeWallet, overage, transferTypeOverage)
		if err != nil {
			return result, err
		}
		result.OveragePending = overagePending
	}

	return result, nil
}

// transferOrPend attempts an immediate captain-funded transfer; on
// insufficient funds it records the transfer as pending instead of failing
// the caller. Returns whether the transfer landed pending, and a non-nil
// error only for unexpected (non-funds) failures.
func (l *Ledger) transferOrPend(ctx context.Context, tripID, fromCaptainID, toID, toRole, toAccountType string, amount int64, transferType string) (bool, error) {
	if amount <= 0 {
		return false, nil
	}

	err := l.captains.Debit(ctx, fromCaptainID, amount)
	switch {
	case err == nil:
		if err := l.recordTransfer(ctx, fromCaptainID, "captain", toID, toRole, amount, transferType, statusCompleted); err != nil {
			l.log.Error("transfer_record_failed", err)
		}
		if err := l.creditAccount(ctx, toID, toAccountType, amount); err != nil {
			l.log.Error("transfer_credit_failed", err)
		}
		return false, nil
	case errors.Is(err, captain.ErrInsufficientFunds):
		if err := l.recordTransfer(ctx, fromCaptainID, "captain", toID, toRole, amount, transferType, statusPending); err != nil {
			l.log.Error("transfer_record_failed", err)
		}
		l.log.WithFields(logger.LogFields{"trip_id": tripID, "captain_id": fromCaptainID, "amount": amount}).
			Info("transfer_deferred_pending", "insufficient captain balance, transfer deferred")
		return true, nil
	default:
		return false, fmt.Errorf("debit for transfer: %w", err)
	}
}

// RetryPendingTransfers settles previously-deferred transfers once the
// captain's balance permits; a ticker in the service binary drives it.
func (l *Ledger) RetryPendingTransfers(ctx context.Context) (int, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, from_id, to_id, to_role, amount, type
		FROM money_transfers WHERE status = $1 AND from_role = 'captain'
		ORDER BY created_at ASC
	`, statusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending transfers: %w", err)
	}
	defer rows.Close()

	type pending struct {
		id, fromID, toID, toRole, transferType string
		amount                                 int64
	}
	var items []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.fromID, &p.toID, &p.toRole, &p.amount, &p.transferType); err != nil {
			return 0, fmt.Errorf("scan pending transfer: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	settled := 0
	for _, p := range items {
		if err := l.captains.Debit(ctx, p.fromID, p.amount); err != nil {
			continue // still insufficient; try again next tick
		}
		accountType := accountTypeVault
		if p.toRole == "passenger" {
			accountType = accountTypeWallet
		}
		if err := l.creditAccount(ctx, p.toID, accountType, p.amount); err != nil {
			l.log.Error("pending_transfer_credit_failed", err)
			continue
		}
		if _, err := l.db.Exec(ctx, `UPDATE money_transfers SET status = $1 WHERE id = $2`, statusCompleted, p.id); err != nil {
			l.log.Error("pending_transfer_settle_failed", err)
			continue
		}
		settled++
	}
	return settled, nil
}

func (l *Ledger) recordTransfer(ctx context.Context, fromID, fromRole, toID, toRole string, amount int64, transferType, status string) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO money_transfers (id, from_id, from_role, to_id, to_role, amount, type, status, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
	`, fromID, fromRole, toID, toRole, amount, transferType, status, time.Now())
	if err != nil {
		return fmt.Errorf("record money transfer: %w", err)
	}
	return nil
}

func (l *Ledger) creditAccount(ctx context.Context, userID, accountType string, amount int64) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO financial_accounts (user_id, account_type, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, account_type) DO UPDATE SET balance = financial_accounts.balance + $3
	`, userID, accountType, amount)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}

func roundAmount(v float64) int64 {
	return int64(math.Round(v))
}
