package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry 读取 JWT 的过期时间，不做签名校验
func tokenExpiry(token string) (*time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, nil
	}
	return &exp.Time, nil
}
