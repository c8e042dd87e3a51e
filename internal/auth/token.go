// Package auth はリクエストの資格情報から呼び出し元の識別情報を解決する。
//
// 資格情報（Bearerトークン）の発行は外部の認証基盤が行い、ここでは署名と有効期限の検証のみを行う。
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken は署名・形式・発行者のいずれかが不正なトークン。
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired は有効期限切れのトークン。
	ErrTokenExpired = errors.New("token has expired")
)

// Claims はアクセストークンのクレーム。
// ユーザーIDは user_id、なければ sub から取得する。
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// CallerID は呼び出し元のユーザーIDを返す。
func (c *Claims) CallerID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// TokenVerifier はHS256で署名されたアクセストークンを検証する。
type TokenVerifier struct {
	signingKey []byte
	issuer     string
	leeway     time.Duration
}

// NewTokenVerifier はTokenVerifierを生成する。
// issuerが空の場合は発行者を検証しない。
func NewTokenVerifier(signingKey, issuer string) *TokenVerifier {
	return &TokenVerifier{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		leeway:     30 * time.Second,
	}
}

// Verify はトークンを検証してクレームを返す。
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.CallerID() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
