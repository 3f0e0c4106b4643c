package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davkandi/storefront-engine/internal/db"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrRefundNotFound      = errors.New("refund not found")
)

type Repository interface {
	// WithinTx opens one transaction around fn; commit on nil error.
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	// UpsertTransaction writes the order's single transaction row:
	// update-if-exists-else-insert keyed on order_id.
	UpsertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error
	GetTransactionByOrder(ctx context.Context, orderID uuid.UUID) (*Transaction, error)
	CreateRefund(ctx context.Context, tx pgx.Tx, r *Refund) error
	UpdateRefundStatus(ctx context.Context, refundID uuid.UUID, status RefundStatus, processedAt *time.Time) error
	GetRefundsByOrder(ctx context.Context, orderID uuid.UUID) ([]Refund, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{db: pool}
}

func (r *postgresRepository) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.WithinTx(ctx, r.db, fn)
}

func (r *postgresRepository) UpsertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	if t.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate transaction ID: %w", genErr)
		}
		t.ID = genID
	}

	now := time.Now().UTC()
	t.UpdatedAt = now
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO transactions
			(id, order_id, amount, method, provider, reference, status, verified_by, verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id) DO UPDATE SET
			status      = EXCLUDED.status,
			reference   = EXCLUDED.reference,
			verified_by = EXCLUDED.verified_by,
			verified_at = EXCLUDED.verified_at,
			updated_at  = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		t.ID,
		t.OrderID,
		t.Amount,
		t.Method,
		t.Provider,
		t.Reference,
		string(t.Status),
		t.VerifiedBy,
		t.VerifiedAt,
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to upsert transaction for order %s: %w", t.OrderID, err)
	}

	return nil
}

func (r *postgresRepository) GetTransactionByOrder(ctx context.Context, orderID uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := r.db.QueryRow(ctx, `
		SELECT id, order_id, amount, method, provider, reference, status, verified_by, verified_at, created_at, updated_at
		FROM transactions
		WHERE order_id = $1
	`, orderID).Scan(
		&t.ID,
		&t.OrderID,
		&t.Amount,
		&t.Method,
		&t.Provider,
		&t.Reference,
		&t.Status,
		&t.VerifiedBy,
		&t.VerifiedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("repository: failed to select transaction for order %s: %w", orderID, err)
	}
	return &t, nil
}

func (r *postgresRepository) CreateRefund(ctx context.Context, tx pgx.Tx, refund *Refund) error {
	if refund.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate refund ID: %w", genErr)
		}
		refund.ID = genID
	}

	now := time.Now().UTC()
	refund.CreatedAt = now
	refund.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO refunds
			(id, order_id, amount, reason, status, refund_method, processed_by, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		refund.ID,
		refund.OrderID,
		refund.Amount,
		refund.Reason,
		string(refund.Status),
		refund.RefundMethod,
		refund.ProcessedBy,
		refund.ProcessedAt,
		refund.CreatedAt,
		refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert refund for order %s: %w", refund.OrderID, err)
	}
	return nil
}

// UpdateRefundStatus runs outside any caller transaction: refund status
// follows the external gateway call, after the cancellation has committed.
func (r *postgresRepository) UpdateRefundStatus(ctx context.Context, refundID uuid.UUID, status RefundStatus, processedAt *time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE refunds
		SET status = $1, processed_at = COALESCE($2, processed_at), updated_at = $3
		WHERE id = $4
	`, string(status), processedAt, time.Now().UTC(), refundID)
	if err != nil {
		return fmt.Errorf("repository: failed to update refund %s: %w", refundID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRefundNotFound
	}
	return nil
}

func (r *postgresRepository) GetRefundsByOrder(ctx context.Context, orderID uuid.UUID) ([]Refund, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, amount, reason, status, refund_method, processed_by, processed_at, created_at, updated_at
		FROM refunds
		WHERE order_id = $1
		ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query refunds for order %s: %w", orderID, err)
	}
	defer rows.Close()

	refunds := make([]Refund, 0)
	for rows.Next() {
		var ref Refund
		err := rows.Scan(
			&ref.ID,
			&ref.OrderID,
			&ref.Amount,
			&ref.Reason,
			&ref.Status,
			&ref.RefundMethod,
			&ref.ProcessedBy,
			&ref.ProcessedAt,
			&ref.CreatedAt,
			&ref.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan refund for order %s: %w", orderID, err)
		}
		refunds = append(refunds, ref)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating refunds for order %s: %w", orderID, err)
	}

	return refunds, nil
}
