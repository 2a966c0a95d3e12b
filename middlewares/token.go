package middlewares

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// Claims is what a bearer token says about its holder.
type Claims struct {
	UserId        int    `json:"id"`
	UserName      string `json:"name"`
	Role          string `json:"role"`
	InstitutionId int    `json:"institution_id"`
	jwt.StandardClaims
}

// GenerateToken signs claims for lifespan. Used by operator tooling and tests.
func GenerateToken(secret []byte, claims Claims, lifespan time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(lifespan).Unix()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(secret)
}

func validateToken(secret []byte, raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
