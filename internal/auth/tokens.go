// Package auth implements the identity & token engine: RS256 access
// tokens signed with an owned keypair (a prior jwt.go verified third-party
// tokens against a JWKS; here the service is its own issuer) and rotating
// opaque refresh tokens with reuse detection.
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

// Claims is the full set of claims carried in an access token.
type Claims struct {
	UserID      ids.UserId      `json:"user_id"`
	WorkspaceID ids.WorkspaceId `json:"workspace_id"`
	FullName    string          `json:"full_name"`
	Email       string          `json:"email"`
	Status      store.UserStatus `json:"status"`
	jwt.RegisteredClaims
}

// clockSkew is the tolerance applied to access-token expires_at
// verification only.
const clockSkew = 30 * time.Second

// TokenEngine issues and verifies access tokens with an RSA keypair owned
// by the service (verifiers need only the public half).
type TokenEngine struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	ttl        time.Duration
}

// NewTokenEngine loads a PEM-encoded RSA keypair from the given paths.
func NewTokenEngine(privateKeyPath, publicKeyPath string, ttl time.Duration) (*TokenEngine, error) {
	privRaw, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "read auth private key")
	}
	pubRaw, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "read auth public key")
	}

	priv, err := parseRSAPrivateKey(privRaw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "parse auth private key")
	}
	pub, err := parseRSAPublicKey(pubRaw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "parse auth public key")
	}
	return &TokenEngine{privateKey: priv, publicKey: pub, ttl: ttl}, nil
}

func parseRSAPrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

func parseRSAPublicKey(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, err
		}
		key = cert.PublicKey
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}

// Issue mints a new access token for u, scoped to u.WorkspaceID.
func (e *TokenEngine) Issue(u *store.User) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(e.ttl)
	claims := Claims{
		UserID:      u.ID,
		WorkspaceID: u.WorkspaceID,
		FullName:    u.FullName,
		Email:       u.Email,
		Status:      u.Status,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(e.privateKey)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.KindInternal, err, "sign access token")
	}
	return signed, exp, nil
}

// Verify checks the signature and (with clockSkew tolerance) the expiry
// of an access token, returning its claims.
func (e *TokenEngine) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return e.publicKey, nil
	}, jwt.WithLeeway(clockSkew))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.New(apperr.KindExpiredToken, "access token expired")
		}
		return nil, apperr.New(apperr.KindInvalidToken, "access token invalid")
	}
	if !parsed.Valid {
		return nil, apperr.New(apperr.KindInvalidToken, "access token invalid")
	}
	return claims, nil
}

// NewRefreshToken generates a random opaque refresh token string and its
// stored hash. Only the hash is ever persisted.
func NewRefreshToken() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", apperr.Wrap(apperr.KindInternal, err, "generate refresh token")
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, HashRefreshToken(plaintext), nil
}

// HashRefreshToken hashes a presented refresh token for lookup/comparison.
func HashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
