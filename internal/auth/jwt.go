package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiwari-pos/tableorder/internal/enum"
)

// Tokens are issued by the ordering platform; this service validates them and
// forwards them unchanged to the order service.
type Claims struct {
	CustomerID string    `json:"customer_id"`
	BusinessID string    `json:"business_id"`
	Role       enum.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a short-lived access token. Used by tests and local tooling.
func GenerateToken(secret, customerID, businessID string, role enum.Role) (string, error) {
	claims := Claims{
		CustomerID: customerID,
		BusinessID: businessID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	role, err := enum.ParseRole(string(claims.Role))
	if err != nil {
		return nil, err
	}
	claims.Role = role
	return claims, nil
}
