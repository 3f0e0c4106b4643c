package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/davkandi/storefront-engine/internal/auth"
)

// ErrInvalidInput marks request payloads the service refuses to process.
var ErrInvalidInput = errors.New("service: invalid input")

// AdjustmentInput describes one requested stock change. The sign convention
// per change type (SALE decreases, RESTOCK/RETURN increase, ADJUSTMENT goes
// either way) is the caller's responsibility; the ledger only enforces the
// arithmetic identity and the non-negative counter.
type AdjustmentInput struct {
	VariantID      uuid.UUID
	ChangeType     ChangeType
	QuantityChange int
	Reason         string
	OrderID        *uuid.UUID
}

type Service interface {
	RecordAdjustment(ctx context.Context, input AdjustmentInput, actor auth.Actor) (*LedgerEntry, error)
	// RecordAdjustmentInTx applies an adjustment inside a transaction owned
	// by the caller, for flows that pair stock changes with order writes.
	RecordAdjustmentInTx(ctx context.Context, tx pgx.Tx, input AdjustmentInput, actor auth.Actor) (*LedgerEntry, error)
	GetStock(ctx context.Context, variantID uuid.UUID) (*VariantStock, error)
	History(ctx context.Context, variantID uuid.UUID, filter HistoryFilter, actor auth.Actor) ([]LedgerEntry, error)
	AnnotateEntry(ctx context.Context, entryID uuid.UUID, annotation string, actor auth.Actor) error
	DeleteEntry(ctx context.Context, entryID uuid.UUID, actor auth.Actor) error
	// CreateVariant registers the stock row for a new variant. Idempotent:
	// an existing counter is left untouched.
	CreateVariant(ctx context.Context, variantID uuid.UUID, quantity int, actor auth.Actor) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) RecordAdjustment(ctx context.Context, input AdjustmentInput, actor auth.Actor) (*LedgerEntry, error) {
	if err := auth.Can(actor, auth.OpAdjustInventory, uuid.Nil); err != nil {
		log.Warn().Stringer("user_id", actor.UserID).Str("role", actor.Role.String()).
			Msg("service: actor not allowed to adjust inventory")
		return nil, err
	}

	var entry *LedgerEntry
	err := s.repo.WithinTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		entry, txErr = s.apply(ctx, tx, input, actor)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Stringer("variant_id", input.VariantID).
		Str("change_type", input.ChangeType.String()).
		Int("quantity_change", input.QuantityChange).
		Int("new_quantity", entry.NewQuantity).
		Msg("service: stock adjustment recorded")

	return entry, nil
}

func (s *service) RecordAdjustmentInTx(ctx context.Context, tx pgx.Tx, input AdjustmentInput, actor auth.Actor) (*LedgerEntry, error) {
	return s.apply(ctx, tx, input, actor)
}

func (s *service) apply(ctx context.Context, tx pgx.Tx, input AdjustmentInput, actor auth.Actor) (*LedgerEntry, error) {
	if !input.ChangeType.Valid() {
		return nil, fmt.Errorf("%w: unknown change type %q", ErrInvalidInput, input.ChangeType)
	}
	if input.QuantityChange == 0 {
		return nil, fmt.Errorf("%w: quantity change must be non-zero", ErrInvalidInput)
	}
	if input.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}

	entry := &LedgerEntry{
		VariantID:      input.VariantID,
		ChangeType:     input.ChangeType,
		QuantityChange: input.QuantityChange,
		Reason:         input.Reason,
		PerformedBy:    actor.UserID,
		OrderID:        input.OrderID,
	}

	if err := s.repo.ApplyAdjustment(ctx, tx, entry); err != nil {
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrVariantNotFound) {
			log.Warn().Err(err).Stringer("variant_id", input.VariantID).
				Msg("service: stock adjustment rejected")
			return nil, err
		}
		log.Error().Err(err).Stringer("variant_id", input.VariantID).
			Msg("service: failed to apply stock adjustment")
		return nil, fmt.Errorf("service: failed to apply adjustment: %w", err)
	}

	return entry, nil
}

func (s *service) GetStock(ctx context.Context, variantID uuid.UUID) (*VariantStock, error) {
	stock, err := s.repo.GetStock(ctx, variantID)
	if err != nil {
		if errors.Is(err, ErrVariantNotFound) {
			return nil, ErrVariantNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch stock: %w", err)
	}
	return stock, nil
}

func (s *service) History(ctx context.Context, variantID uuid.UUID, filter HistoryFilter, actor auth.Actor) ([]LedgerEntry, error) {
	if err := auth.Can(actor, auth.OpViewLedger, uuid.Nil); err != nil {
		return nil, err
	}

	entries, err := s.repo.History(ctx, variantID, filter)
	if err != nil {
		log.Error().Err(err).Stringer("variant_id", variantID).Msg("service: failed to fetch ledger history")
		return nil, fmt.Errorf("service: failed to fetch ledger history: %w", err)
	}
	return entries, nil
}

func (s *service) AnnotateEntry(ctx context.Context, entryID uuid.UUID, annotation string, actor auth.Actor) error {
	if err := auth.Can(actor, auth.OpAdjustInventory, uuid.Nil); err != nil {
		return err
	}

	if err := s.repo.Annotate(ctx, entryID, annotation); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("service: failed to annotate ledger entry: %w", err)
	}
	return nil
}

// DeleteEntry is restricted to admins and compromises the audit trail; it
// exists only as an escape hatch for corrupted rows.
func (s *service) DeleteEntry(ctx context.Context, entryID uuid.UUID, actor auth.Actor) error {
	if err := auth.Can(actor, auth.OpDeleteLedger, uuid.Nil); err != nil {
		return err
	}

	if err := s.repo.DeleteEntry(ctx, entryID); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("service: failed to delete ledger entry: %w", err)
	}

	log.Warn().Stringer("entry_id", entryID).Stringer("deleted_by", actor.UserID).
		Msg("service: ledger entry deleted by administrator")
	return nil
}

func (s *service) CreateVariant(ctx context.Context, variantID uuid.UUID, quantity int, actor auth.Actor) error {
	if err := auth.Can(actor, auth.OpAdjustInventory, uuid.Nil); err != nil {
		return err
	}
	if variantID == uuid.Nil {
		return fmt.Errorf("%w: variant id is required", ErrInvalidInput)
	}
	if quantity < 0 {
		return fmt.Errorf("%w: initial quantity cannot be negative", ErrInvalidInput)
	}

	if err := s.repo.CreateVariant(ctx, variantID, quantity); err != nil {
		return fmt.Errorf("service: failed to create variant stock: %w", err)
	}

	log.Info().Stringer("variant_id", variantID).Int("quantity", quantity).
		Msg("service: variant stock registered")
	return nil
}
