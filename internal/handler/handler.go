// Package handler exposes order placement, order history and catalog browsing
// over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/gift-orders/internal/domain/auth"
	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
)

// maxBodyBytes limits request bodies accepted by the API.
const maxBodyBytes = 64 << 10

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Middlewares run inside the router, so chi route patterns are
	// resolved by the time they return.
	Middlewares []func(http.Handler) http.Handler
	// PlaceOrder is applied to POST /orders after authentication, so the
	// member is already available through MemberFromContext.
	PlaceOrder []func(http.Handler) http.Handler
}

// Handler serves the HTTP API, delegating business logic to the order
// service and catalog repository.
type Handler struct {
	catalog  catalog.Repository
	orders   *order.Service
	resolver auth.Resolver

	middlewares  []func(http.Handler) http.Handler
	placeOrderMW []func(http.Handler) http.Handler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	catalogRepo catalog.Repository,
	orderService *order.Service,
	resolver auth.Resolver,
) *Handler {
	return &Handler{
		catalog:      catalogRepo,
		orders:       orderService,
		resolver:     resolver,
		middlewares:  cfg.Middlewares,
		placeOrderMW: cfg.PlaceOrder,
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.middlewares...)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/{productId}/options", h.ListOptions)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.With(h.placeOrderMW...).Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrders)
	})
	return r
}

type memberKey struct{}

// MemberFromContext returns the member authenticated for the request.
func MemberFromContext(ctx context.Context) (member.Member, bool) {
	m, ok := ctx.Value(memberKey{}).(member.Member)
	return m, ok
}

// authenticate resolves the Authorization header to a member. An absent
// header is a validation failure, anything else that does not resolve is
// unauthenticated.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := h.resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), memberKey{}, *m)
		ctx = zctx.With(ctx, zap.Int64("member_id", m.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
