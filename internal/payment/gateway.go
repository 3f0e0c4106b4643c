package payment

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// RefundRequest is what the external payment provider needs to move money
// back: the amount and the provider-side reference of the original charge.
type RefundRequest struct {
	Amount                   decimal.Decimal
	ExternalPaymentReference string
}

// RefundGateway is the opaque external refund call. Retry policy lives on
// the provider side; this subsystem only records accepted or rejected.
type RefundGateway interface {
	Refund(ctx context.Context, req RefundRequest) error
}

// LogGateway accepts every refund and logs it. Stands in for the real
// provider integration in development and tests.
type LogGateway struct{}

func NewLogGateway() *LogGateway {
	return &LogGateway{}
}

func (g *LogGateway) Refund(ctx context.Context, req RefundRequest) error {
	log.Info().
		Str("amount", req.Amount.String()).
		Str("reference", req.ExternalPaymentReference).
		Msg("gateway: refund accepted")
	return nil
}
