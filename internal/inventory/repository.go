package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/davkandi/storefront-engine/internal/db"
)

var (
	ErrVariantNotFound   = errors.New("variant not found")
	ErrEntryNotFound     = errors.New("ledger entry not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrIntegrityViolation marks a ledger row the database rejected because
	// its quantities do not satisfy newQuantity == previousQuantity + quantityChange.
	ErrIntegrityViolation = errors.New("ledger integrity violation")
)

type Repository interface {
	// WithinTx opens one transaction around fn; commit on nil error.
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	// ApplyAdjustment locks the variant's stock row, writes the ledger
	// entry, and moves the counter inside the supplied transaction.
	ApplyAdjustment(ctx context.Context, tx pgx.Tx, entry *LedgerEntry) error
	GetStock(ctx context.Context, variantID uuid.UUID) (*VariantStock, error)
	History(ctx context.Context, variantID uuid.UUID, filter HistoryFilter) ([]LedgerEntry, error)
	Annotate(ctx context.Context, entryID uuid.UUID, annotation string) error
	DeleteEntry(ctx context.Context, entryID uuid.UUID) error
	CreateVariant(ctx context.Context, variantID uuid.UUID, quantity int) error
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

// ApplyAdjustment is the only write path for stock. The FOR UPDATE lock on
// the variant row serializes concurrent adjustments per variant; the entry
// and the counter update commit or roll back together with the caller's
// transaction.
func (r *postgresRepository) ApplyAdjustment(ctx context.Context, tx pgx.Tx, entry *LedgerEntry) error {
	var current int
	err := tx.QueryRow(ctx,
		`SELECT quantity FROM variant_stock WHERE variant_id = $1 FOR UPDATE`,
		entry.VariantID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVariantNotFound
		}
		return fmt.Errorf("repository: failed to lock stock for variant %s: %w", entry.VariantID, err)
	}

	entry.PreviousQuantity = current
	entry.NewQuantity = current + entry.QuantityChange

	if entry.NewQuantity < 0 {
		return fmt.Errorf("%w: variant %s has %d, change %d", ErrInsufficientStock,
			entry.VariantID, current, entry.QuantityChange)
	}

	if entry.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate ledger entry ID: %w", genErr)
		}
		entry.ID = genID
	}
	entry.CreatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_ledger
			(id, variant_id, change_type, quantity_change, previous_quantity, new_quantity,
			 reason, annotation, performed_by, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ID,
		entry.VariantID,
		string(entry.ChangeType),
		entry.QuantityChange,
		entry.PreviousQuantity,
		entry.NewQuantity,
		entry.Reason,
		entry.Annotation,
		entry.PerformedBy,
		entry.OrderID,
		entry.CreatedAt,
	)
	if err != nil {
		// The ledger_arithmetic CHECK is the arithmetic authority; anything
		// that slips a mismatched row this far is reported as corruption.
		if isLedgerArithmeticViolation(err) {
			return fmt.Errorf("%w: variant %s: %d != %d + %d", ErrIntegrityViolation,
				entry.VariantID, entry.NewQuantity, entry.PreviousQuantity, entry.QuantityChange)
		}
		return fmt.Errorf("repository: failed to insert ledger entry for variant %s: %w", entry.VariantID, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE variant_stock SET quantity = $1, updated_at = $2 WHERE variant_id = $3`,
		entry.NewQuantity, entry.CreatedAt, entry.VariantID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update stock counter for variant %s: %w", entry.VariantID, err)
	}

	return nil
}

func (r *postgresRepository) GetStock(ctx context.Context, variantID uuid.UUID) (*VariantStock, error) {
	var stock VariantStock
	err := r.db.QueryRow(ctx,
		`SELECT variant_id, quantity, updated_at FROM variant_stock WHERE variant_id = $1`,
		variantID,
	).Scan(&stock.VariantID, &stock.Quantity, &stock.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, fmt.Errorf("repository: failed to select stock for variant %s: %w", variantID, err)
	}
	return &stock, nil
}

func (r *postgresRepository) History(ctx context.Context, variantID uuid.UUID, filter HistoryFilter) ([]LedgerEntry, error) {
	query := `
		SELECT id, variant_id, change_type, quantity_change, previous_quantity, new_quantity,
		       reason, annotation, performed_by, order_id, created_at
		FROM inventory_ledger
		WHERE variant_id = $1`
	args := []any{variantID}

	if filter.ChangeType != "" {
		args = append(args, string(filter.ChangeType))
		query += fmt.Sprintf(" AND change_type = $%d", len(args))
	}
	if filter.OrderID != uuid.Nil {
		args = append(args, filter.OrderID)
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query ledger history for variant %s: %w", variantID, err)
	}
	defer rows.Close()

	entries := make([]LedgerEntry, 0)
	for rows.Next() {
		var e LedgerEntry
		err := rows.Scan(
			&e.ID,
			&e.VariantID,
			&e.ChangeType,
			&e.QuantityChange,
			&e.PreviousQuantity,
			&e.NewQuantity,
			&e.Reason,
			&e.Annotation,
			&e.PerformedBy,
			&e.OrderID,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan ledger entry for variant %s: %w", variantID, err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating ledger entries for variant %s: %w", variantID, err)
	}

	return entries, nil
}

// Annotate updates the one mutable field of a ledger entry.
func (r *postgresRepository) Annotate(ctx context.Context, entryID uuid.UUID, annotation string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE inventory_ledger SET annotation = $1 WHERE id = $2`,
		annotation, entryID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to annotate ledger entry %s: %w", entryID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeleteEntry removes a ledger row without touching the stock counter. This
// is the administrative escape hatch: it breaks the audit chain for the
// variant, so every use is logged loudly.
func (r *postgresRepository) DeleteEntry(ctx context.Context, entryID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM inventory_ledger WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete ledger entry %s: %w", entryID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	log.Warn().Stringer("entry_id", entryID).Msg("Ledger entry deleted, audit trail for its variant is no longer complete")
	return nil
}

func isLedgerArithmeticViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.CheckViolation &&
		pgErr.ConstraintName == "ledger_arithmetic"
}

func (r *postgresRepository) CreateVariant(ctx context.Context, variantID uuid.UUID, quantity int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO variant_stock (variant_id, quantity, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (variant_id) DO NOTHING
	`, variantID, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to create stock row for variant %s: %w", variantID, err)
	}
	return nil
}
