package utils

import (
	"errors"
	"time"

	"vitalpath/config"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims identifies an admin API caller. There are no end-user accounts
// in this service; tokens are issued out-of-band to operators.
type AdminClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// GenerateAdminToken issues a signed admin token valid for 30 days.
func GenerateAdminToken(name string) (string, error) {
	claims := &AdminClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.EncryptionKey))
}

// ParseAdminToken validates a token and returns its claims.
func ParseAdminToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.EncryptionKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
