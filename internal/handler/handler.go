// Package handler exposes the discount engine over HTTP. Routing is done by
// chi and every request and response body is encoded by hand with jx.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront-discounts/internal/domain/auth"
	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/discount"
	"github.com/xenking/storefront-discounts/internal/domain/product"
	"github.com/xenking/storefront-discounts/pkg/httpmiddleware"
)

// DefaultMaxBodyBytes caps request bodies when HandlerConfig leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Now is the clock used for the computed coupon flags in responses.
	// Defaults to time.Now.
	Now          func() time.Time
	MaxBodyBytes int64
}

// Handler serves the /api/v1 routes, delegating business logic to the domain
// services.
type Handler struct {
	products  *product.Service
	coupons   *coupon.Service
	discounts *discount.Service
	authn     *auth.Authenticator

	now     func() time.Time
	maxBody int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products *product.Service,
	coupons *coupon.Service,
	discounts *discount.Service,
	authn *auth.Authenticator,
) *Handler {
	h := &Handler{
		products:  products,
		coupons:   coupons,
		discounts: discounts,
		authn:     authn,
		now:       cfg.Now,
		maxBody:   cfg.MaxBodyBytes,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}
	return h
}

// Router builds the chi router. Middlewares given here run after chi has
// matched the route, so httpmiddleware.ChiRoute sees the route pattern.
// Callers may register further routes, such as health probes, on the result.
func (h *Handler) Router(middlewares ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	for _, m := range middlewares {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	write := RequireAPIKey(h.authn, auth.ScopeCatalogWrite)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.With(write).Post("/", h.createProduct)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getProduct)
				r.With(write).Patch("/", h.updateProduct)
				r.With(write).Delete("/", h.deleteProduct)

				r.Get("/discount", h.discountDetails)
				r.Delete("/discount", h.removeDiscount)
				r.Post("/discount/percent", h.applyPercentage)
				r.Post("/discount/coupon", h.applyCoupon)
				r.Get("/discounts", h.discountHistory)
			})
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", h.listCoupons)
			r.With(write).Post("/", h.createCoupon)

			r.Get("/id/{id}", h.getCouponByID)
			r.Get("/validate/{code}", h.validateCoupon)
			r.Post("/use/{code}", h.useCoupon)

			r.Get("/{code}", h.getCoupon)
			r.With(write).Put("/{code}", h.updateCoupon)
			r.With(write).Delete("/{code}", h.deleteCoupon)
		})
	})
	return r
}
