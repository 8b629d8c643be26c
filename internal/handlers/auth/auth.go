package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mycoool/tongbu/internal/types"
)

const defaultTokenExpiry = 24 * time.Hour

func jwtSecret() []byte {
	if types.TongbuAppConfig != nil && types.TongbuAppConfig.JWTSecret != "" {
		return []byte(types.TongbuAppConfig.JWTSecret)
	}
	return []byte("tongbu-secret-key-change-in-production")
}

func tokenExpiry() time.Duration {
	if types.TongbuAppConfig != nil && types.TongbuAppConfig.JWTExpiryDuration > 0 {
		return time.Duration(types.TongbuAppConfig.JWTExpiryDuration) * time.Hour
	}
	return defaultTokenExpiry
}

// HashPassword hashes a password for storage and comparison
func HashPassword(password string) string {
	hash := sha256.Sum256([]byte(password))
	return hex.EncodeToString(hash[:])
}

// VerifyPassword checks a password against its stored hash
func VerifyPassword(password, hashedPassword string) bool {
	return HashPassword(password) == hashedPassword
}

// GenerateToken generates a JWT token
func GenerateToken(username, role string) (string, error) {
	expirationTime := time.Now().Add(tokenExpiry())
	claims := &types.Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns its claims
func ValidateToken(tokenString string) (*types.Claims, error) {
	claims := &types.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret(), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// FindUser looks a user up in the loaded application config
func FindUser(username string) *types.UserConfig {
	if types.TongbuAppConfig == nil {
		return nil
	}
	for i := range types.TongbuAppConfig.Users {
		if types.TongbuAppConfig.Users[i].Username == username {
			return &types.TongbuAppConfig.Users[i]
		}
	}
	return nil
}
