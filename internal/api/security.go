package api

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/pkg/httpmiddleware"
)

// APIKeyHeader carries the client API key.
const APIKeyHeader = "api_key"

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the authenticated key, if any.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// APIKeyID keys a request by its authenticated API key ID, or by client IP
// when no key was authenticated.
func APIKeyID(r *http.Request) string {
	if info, ok := APIKeyFromContext(r.Context()); ok {
		return "key:" + info.ID
	}
	return httpmiddleware.ClientIP(r)
}

// RequireScope rejects requests whose API key is missing, unknown or lacks
// scope.
func (h *Handler) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := h.auth.Authenticate(ctx, r.Header.Get(APIKeyHeader), scope)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrForbidden):
					writeError(w, r, http.StatusForbidden, "FORBIDDEN", "api key lacks scope "+scope)
					return
				case errors.Is(err, auth.ErrStoreUnavailable):
					logError(r, http.StatusServiceUnavailable, err)
					writeError(w, r, http.StatusServiceUnavailable, string(coupon.ReasonStoreUnavailable),
						http.StatusText(http.StatusServiceUnavailable))
					return
				}
				zctx.From(ctx).Debug("API key rejected", zap.Error(err))
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
				return
			}
			ctx = context.WithValue(ctx, apiKeyCtxKey{}, info)
			ctx = zctx.With(ctx, zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
