package middleware

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "swave/native/common"
)

// CallerHeader carries the acting account for authenticated operations.
// Signature verification happens upstream of the gateway; the header is
// trusted within the deployment perimeter.
const CallerHeader = "X-Swave-Caller"

type callerKey struct{}

// Caller extracts the acting account recorded by RequireCaller.
func Caller(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// RequireCaller rejects requests without a well-formed caller header and
// stores the parsed address on the request context.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(CallerHeader)
		if !common.IsHexAddress(raw) {
			http.Error(w, "missing or invalid caller address", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, common.HexToAddress(raw))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates a route group on the governance authorizer. It implies
// RequireCaller.
func RequireAdmin(auth nativecommon.Authorizer, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireCaller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ := Caller(r.Context())
			if err := nativecommon.Authorize(auth, caller, action); err != nil {
				http.Error(w, "caller not authorized", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
