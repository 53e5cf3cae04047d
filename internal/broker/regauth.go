package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	vault "github.com/hashicorp/vault/api"
)

// Sentinel errors for the registration-token surface.
var (
	ErrInvalidRegistrationToken = errors.New("broker: invalid registration token")
	ErrUsernameMismatch         = errors.New("broker: registration token does not authorize this username")
)

const registrationTokenTTL = 5 * time.Minute

// regClaims binds a short-lived bearer token to exactly one username, so
// a register frame can optionally
// prove the caller controls the claimed name for this connection. This is
// ambient hardening on the broker side only; it never substitutes for or
// participates in the E2E handshake.
type regClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// RegAuth issues and validates HS256 registration tokens, narrowed from
// an access/refresh token pair down to the single short-lived token the
// broker's register step needs.
type RegAuth struct {
	secret []byte
}

// NewRegAuth constructs a RegAuth from an already-resolved secret (see
// ResolveSecret for the Vault-then-env resolution chain).
func NewRegAuth(secret []byte) (*RegAuth, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("broker: registration token secret must be at least 32 bytes, got %d", len(secret))
	}
	return &RegAuth{secret: secret}, nil
}

// IssueToken mints a registration token authorizing username for
// registrationTokenTTL.
func (a *RegAuth) IssueToken(username string) (string, error) {
	now := time.Now()
	claims := &regClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(registrationTokenTTL)),
			Subject:   username,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("broker: signing registration token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies tokenString and checks it authorizes username.
func (a *RegAuth) ValidateToken(tokenString, username string) error {
	token, err := jwt.ParseWithClaims(tokenString, &regClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidRegistrationToken, err)
	}

	claims, ok := token.Claims.(*regClaims)
	if !ok {
		return ErrInvalidRegistrationToken
	}
	if claims.Username != username {
		return ErrUsernameMismatch
	}
	return nil
}

// ResolveSecret fetches the registration-token signing secret from Vault
// at mountPath/secretPath (key "registration_secret"), falling back to
// envFallback if vaultAddr is empty or the read fails.
func ResolveSecret(vaultAddr, vaultToken, mountPath, secretPath, envFallback string) ([]byte, error) {
	if vaultAddr == "" || vaultToken == "" {
		if envFallback == "" {
			return nil, fmt.Errorf("broker: no vault address and no fallback secret provided")
		}
		return []byte(envFallback), nil
	}

	cfg := &vault.Config{Address: vaultAddr}
	client, err := vault.NewClient(cfg)
	if err != nil {
		if envFallback != "" {
			return []byte(envFallback), nil
		}
		return nil, fmt.Errorf("broker: creating vault client: %w", err)
	}
	client.SetToken(vaultToken)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret, err := client.KVv2(mountPath).Get(ctx, secretPath)
	if err != nil || secret == nil || secret.Data == nil {
		if envFallback != "" {
			return []byte(envFallback), nil
		}
		return nil, fmt.Errorf("broker: reading vault secret %s/%s: %w", mountPath, secretPath, err)
	}

	value, ok := secret.Data["registration_secret"].(string)
	if !ok || value == "" {
		if envFallback != "" {
			return []byte(envFallback), nil
		}
		return nil, fmt.Errorf("broker: vault secret %s/%s missing registration_secret", mountPath, secretPath)
	}

	return []byte(value), nil
}
