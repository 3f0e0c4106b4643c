package order

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
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrderNumber = errors.New("order number already exists")
)

type Repository interface {
	// WithinTx opens one transaction around fn; commit on nil error.
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateOrder(ctx context.Context, tx pgx.Tx, order *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetByIDForUpdate locks the order row for the rest of the transaction
	// so status checks and the conditional write form one atomic step.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Order, error)
	GetItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]OrderItem, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status Status, completedAt *time.Time) error
	UpdatePayment(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status PaymentStatus, reference string) error
	AppendStatusLog(ctx context.Context, tx pgx.Tx, entry *StatusLogEntry) error
	StatusLog(ctx context.Context, orderID uuid.UUID) ([]StatusLogEntry, error)
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

const orderColumns = `id, order_number, customer_id, status, payment_method, payment_status,
	payment_reference, delivery_method, subtotal, delivery_fee, total, completed_at, created_at, updated_at`

func scanOrder(row pgx.Row, o *Order) error {
	var ref *string
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerID,
		&o.Status,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&ref,
		&o.DeliveryMethod,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.Total,
		&o.CompletedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ref != nil {
		o.PaymentReference = *ref
	}
	return nil
}

func (r *postgresRepository) CreateOrder(ctx context.Context, tx pgx.Tx, orderInput *Order) error {
	if orderInput.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		orderInput.ID = genID
	}

	now := time.Now().UTC()
	orderInput.CreatedAt = now
	orderInput.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO orders
			(id, order_number, customer_id, status, payment_method, payment_status,
			 payment_reference, delivery_method, subtotal, delivery_fee, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		orderInput.ID,
		orderInput.OrderNumber,
		orderInput.CustomerID,
		string(orderInput.Status),
		orderInput.PaymentMethod,
		string(orderInput.PaymentStatus),
		nullableString(orderInput.PaymentReference),
		orderInput.DeliveryMethod,
		orderInput.Subtotal,
		orderInput.DeliveryFee,
		orderInput.Total,
		orderInput.CreatedAt,
		orderInput.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	for i := range orderInput.Items {
		item := &orderInput.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
		}
		item.ID = itemID
		item.OrderID = orderInput.ID
		item.CreatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items
				(id, order_id, product_id, variant_id, quantity, price_at_purchase,
				 product_name, variant_details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.VariantID,
			item.Quantity,
			item.PriceAtPurchase,
			item.ProductName,
			item.VariantDetails,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", orderInput.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var o Order
	err := scanOrder(r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID), &o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	items, err := r.queryItems(ctx, r.db, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

func (r *postgresRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*Order, error) {
	var o Order
	err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID), &o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", orderID, err)
	}
	return &o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *postgresRepository) queryItems(ctx context.Context, q querier, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, quantity, price_at_purchase,
		       product_name, variant_details, created_at
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.Quantity,
			&item.PriceAtPurchase,
			&item.ProductName,
			&item.VariantDetails,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order %s: %w", orderID, err)
	}

	return items, nil
}

func (r *postgresRepository) GetItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]OrderItem, error) {
	return r.queryItems(ctx, tx, orderID)
}

func (r *postgresRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		var ref *string
		err := rows.Scan(
			&o.ID,
			&o.OrderNumber,
			&o.CustomerID,
			&o.Status,
			&o.PaymentMethod,
			&o.PaymentStatus,
			&ref,
			&o.DeliveryMethod,
			&o.Subtotal,
			&o.DeliveryFee,
			&o.Total,
			&o.CompletedAt,
			&o.CreatedAt,
			&o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for customer %s: %w", customerID, err)
		}
		if ref != nil {
			o.PaymentReference = *ref
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for customer %s: %w", customerID, err)
	}

	return orders, nil
}

// UpdateStatus writes the new status. completedAt is only ever passed on
// the first entry into a terminal state and is never overwritten: the SQL
// keeps an existing completed_at via COALESCE.
func (r *postgresRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status Status, completedAt *time.Time) error {
	cmdTag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, completed_at = COALESCE(completed_at, $2), updated_at = $3
		WHERE id = $4
	`, string(status), completedAt, time.Now().UTC(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("new_status", string(status)).
			Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) UpdatePayment(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status PaymentStatus, reference string) error {
	cmdTag, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1,
		    payment_reference = COALESCE($2, payment_reference),
		    updated_at = $3
		WHERE id = $4
	`, string(status), nullableString(reference), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment status for order %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) AppendStatusLog(ctx context.Context, tx pgx.Tx, entry *StatusLogEntry) error {
	if entry.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate status log ID: %w", genErr)
		}
		entry.ID = genID
	}
	entry.CreatedAt = time.Now().UTC()

	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_log (id, order_id, previous_status, new_status, note, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID,
		entry.OrderID,
		string(entry.PreviousStatus),
		string(entry.NewStatus),
		entry.Note,
		entry.PerformedBy,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to append status log for order %s: %w", entry.OrderID, err)
	}
	return nil
}

func (r *postgresRepository) StatusLog(ctx context.Context, orderID uuid.UUID) ([]StatusLogEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, previous_status, new_status, note, performed_by, created_at
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query status log for order %s: %w", orderID, err)
	}
	defer rows.Close()

	entries := make([]StatusLogEntry, 0)
	for rows.Next() {
		var e StatusLogEntry
		err := rows.Scan(&e.ID, &e.OrderID, &e.PreviousStatus, &e.NewStatus, &e.Note, &e.PerformedBy, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan status log entry for order %s: %w", orderID, err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating status log for order %s: %w", orderID, err)
	}

	return entries, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
