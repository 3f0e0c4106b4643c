package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davkandi/storefront-engine/internal/auth"
	"github.com/davkandi/storefront-engine/internal/handler"
	"github.com/davkandi/storefront-engine/internal/inventory"
	"github.com/davkandi/storefront-engine/internal/notify"
	"github.com/davkandi/storefront-engine/internal/order"
	"github.com/davkandi/storefront-engine/internal/payment"
)

func NewRouter(pool *pgxpool.Pool, gateway payment.RefundGateway, notifier notify.Notifier) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	stockRepo := inventory.NewRepository(pool)
	stockSvc := inventory.NewService(stockRepo)

	orderRepo := order.NewRepository(pool)
	orderSvc := order.NewService(orderRepo, stockSvc, notifier)

	paymentRepo := payment.NewRepository(pool)
	coord := payment.NewCoordinator(paymentRepo, orderRepo, orderSvc, stockSvc, gateway, notifier)

	orderHandler := handler.NewOrderHandler(orderSvc)
	paymentHandler := handler.NewPaymentHandler(coord)
	inventoryHandler := handler.NewInventoryHandler(stockSvc)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/orders", orderHandler.CreateOrder)
		r.Get("/orders", orderHandler.ListOrders)
		r.Get("/orders/{id}", orderHandler.GetOrder)
		r.Get("/orders/{id}/status-log", orderHandler.StatusLog)
		r.Patch("/orders/{id}/status", orderHandler.Transition)
		r.Patch("/orders/{id}/payment", paymentHandler.UpdatePaymentStatus)
		r.Post("/orders/{id}/cancel", paymentHandler.CancelOrder)
		r.Get("/orders/{id}/transaction", paymentHandler.GetTransaction)
		r.Get("/orders/{id}/refunds", paymentHandler.ListRefunds)

		r.Post("/inventory/variants", inventoryHandler.CreateVariant)
		r.Post("/inventory/adjustments", inventoryHandler.RecordAdjustment)
		r.Get("/inventory/variants/{id}/stock", inventoryHandler.GetStock)
		r.Get("/inventory/variants/{id}/ledger", inventoryHandler.History)
		r.Patch("/inventory/ledger/{id}/annotation", inventoryHandler.AnnotateEntry)
		r.Delete("/inventory/ledger/{id}", inventoryHandler.DeleteEntry)
	})

	return r
}
