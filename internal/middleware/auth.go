package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"claim-enricher/internal/common/logging"
)

// Issuer is the iss value expected on tokens presented to the API
const Issuer = "claim-enricher"

type callerKey struct{}

// CallerFromContext returns the subject of the token that authenticated the
// request, or "" when auth is disabled.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(*string)
	if caller == nil {
		return ""
	}
	return *caller
}

// BearerAuth returns middleware that requires an HS256 token signed with
// secret. An empty secret disables the check.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		if len(key) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			claims := &jwt.RegisteredClaims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
				return key, nil
			},
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
				jwt.WithIssuer(Issuer),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				logging.WithContext(r.Context()).Warn("Rejected API token", logging.Err(err))
				unauthorized(w, "invalid token")
				return
			}

			ctx := r.Context()
			if slot, ok := ctx.Value(callerKey{}).(*string); ok && slot != nil {
				*slot = claims.Subject
			} else {
				subject := claims.Subject
				ctx = context.WithValue(ctx, callerKey{}, &subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueToken signs a token for subject that BearerAuth accepts
func IssueToken(secret, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	claims.Issuer = Issuer
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="claim-enricher"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
