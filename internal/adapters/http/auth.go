package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// Claims are issued by the account service. Subject carries the account id.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type callerContextKey struct{}

func callerFromContext(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(domain.Caller)
	return caller, ok
}

type tokenVerifier struct {
	secret []byte
	issuer string
}

func (v tokenVerifier) verify(raw string) (domain.Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Caller{}, domain.WrapError(domain.ErrUnauthorized, "verify token", err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return domain.Caller{}, domain.Errorf(domain.ErrUnauthorized, "verify token", "token has no subject")
	}
	return domain.Caller{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
	}, nil
}

func authMiddleware(v tokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, domain.WrapError(domain.ErrUnauthorized, "authenticate", errors.New("missing bearer token")))
				return
			}
			caller, err := v.verify(raw)
			if err != nil {
				writeError(w, r, err)
				return
			}
			noteAccount(r.Context(), caller.AccountID)
			ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(headerValue string) (string, bool) {
	headerValue = strings.TrimSpace(headerValue)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return token, token != ""
}
