package middleware

import (
	"errors"
	"os"
	"time"

	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenAccess  = "TokenAccess"
	TokenRefresh = "TokenRefresh"
)

var JWTkey string

func init() {
	var ok bool
	JWTkey, ok = os.LookupEnv("JWT_KEY")
	if !ok {
		logger.Warn("JWT_KEY not set in environment, using insecure default")
		JWTkey = "dev-insecure-key"
	}
}

type tokenClaims struct {
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func TokenNew(key string, userID int64, expiresAt int64, tokenType string) (string, error) {
	claims := tokenClaims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Unix(expiresAt, 0)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		return "", logger.WrapError(err, "")
	}
	return signed, nil
}

func TokenCheck(tokenString, key string) (int64, string, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected token signing method")
			}
			return []byte(key), nil
		})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}
	return claims.UserID, claims.TokenType, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", logger.WrapError(err, "")
	}
	return string(hash), nil
}

func ComparePasswords(hashed, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
