package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/auth"
	"github.com/xenking/storefront-discounts/pkg/httpmiddleware"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

// RequireAPIKey rejects requests whose api_key header does not resolve to an
// active key granting scope.
func RequireAPIKey(authn *auth.Authenticator, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := authn.Authenticate(r.Context(), r.Header.Get(APIKeyHeader), scope)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthorized) {
					httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				zctx.From(r.Context()).Error("Authenticate API key", zap.Error(err))
				httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			lg := zctx.From(r.Context()).With(zap.String("api_key_id", info.ID))
			ctx := zctx.Base(r.Context(), lg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
