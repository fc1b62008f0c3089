package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
)

const (
	tokenIssuer = "matchmaker-client"
	tokenTTL    = time.Minute
)

var signingMethod jwt.SigningMethod = jwt.SigningMethodHS256

// signToken mints a short-lived bearer token keyed by the shared credentials.
func signToken(credentials string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(credentials))
}

func verifyToken(tokenString, credentials string) error {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(credentials), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid || !claims.VerifyIssuer(tokenIssuer, true) {
		return errors.New("invalid token")
	}
	return nil
}

func bearerAuth(credentials string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if err := verifyToken(raw, credentials); err != nil {
				msg := "invalid credentials"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				writeJSON(w, http.StatusUnauthorized, errorResponse{Code: codeUnauthorized, Message: msg})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
