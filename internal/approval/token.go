package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

const (
	// TokenVersion is the only payload version accepted by verification.
	TokenVersion = 1

	// ActionApprove is the action carried by approval tokens.
	ActionApprove = "approve"

	// DefaultTokenTTL is how long an approval token stays valid.
	DefaultTokenTTL = 60 * time.Minute

	// nonceKeyPrefix separates the nonce hashing key from the signing key.
	nonceKeyPrefix = "ipdocket-approval-nonce:"
)

// ErrMissingSecret is returned when signing without a secret.
var ErrMissingSecret = errors.New("approval token secret is not configured")

// Reasons a token fails verification. They are logged, never returned to
// callers of VerifyApprovalToken.
var (
	errMalformed          = errors.New("malformed token")
	errBadSignature       = errors.New("signature mismatch")
	errBadPayload         = errors.New("payload is not valid JSON")
	errUnsupportedVersion = errors.New("unsupported token version")
	errExpired            = errors.New("token expired")
)

// TokenPayload is the signed content of an approval token. Exp and Iat are
// Unix seconds.
type TokenPayload struct {
	V             int    `json:"v"`
	BatchID       string `json:"batch_id"`
	ApproverEmail string `json:"approver_email"`
	Action        string `json:"action"`
	Exp           int64  `json:"exp"`
	Iat           int64  `json:"iat"`
	Nonce         string `json:"nonce"`
}

// ExpiresAt returns Exp as a time.
func (p TokenPayload) ExpiresAt() time.Time {
	return time.Unix(p.Exp, 0)
}

// PayloadOptions configures CreateTokenPayload.
type PayloadOptions struct {
	BatchID       string
	ApproverEmail string
	// ExpiresIn defaults to DefaultTokenTTL.
	ExpiresIn time.Duration
	// Now defaults to time.Now.
	Now time.Time
}

// CreateTokenPayload builds a version 1 approve payload with a fresh nonce.
func CreateTokenPayload(opts PayloadOptions) TokenPayload {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := opts.ExpiresIn
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return TokenPayload{
		V:             TokenVersion,
		BatchID:       opts.BatchID,
		ApproverEmail: opts.ApproverEmail,
		Action:        ActionApprove,
		Iat:           now.Unix(),
		Exp:           now.Add(ttl).Unix(),
		Nonce:         uuid.NewString(),
	}
}

// SignApprovalToken encodes p as canonical JSON and returns
// base64url(payload) + "." + base64url(HMAC-SHA256(encoded payload, secret)).
func SignApprovalToken(p TokenPayload, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode token payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize token payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(canonical)
	return encoded + "." + sign(encoded, secret), nil
}

// VerifyApprovalToken returns the payload of a valid, unexpired token and nil
// otherwise. It has no side effects; nonce consumption is up to the caller.
func VerifyApprovalToken(token string, secret []byte) *TokenPayload {
	return VerifyApprovalTokenAt(token, secret, time.Now())
}

// VerifyApprovalTokenAt is VerifyApprovalToken with an explicit clock. A token
// is still valid in the second it expires.
func VerifyApprovalTokenAt(token string, secret []byte, at time.Time) *TokenPayload {
	p, err := verify(token, secret, at)
	if err != nil {
		slog.Debug("Approval token rejected", slog.String("reason", err.Error()))
		return nil
	}
	return p
}

func verify(token string, secret []byte, at time.Time) (*TokenPayload, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}

	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, errMalformed
	}

	if !hmac.Equal([]byte(sign(parts[0], secret)), []byte(parts[1])) {
		return nil, errBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errMalformed
	}

	var p TokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errBadPayload
	}
	if p.V != TokenVersion {
		return nil, fmt.Errorf("%w: %d", errUnsupportedVersion, p.V)
	}
	if at.Unix() > p.Exp {
		return nil, errExpired
	}

	return &p, nil
}

func sign(encodedPayload string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashNonce returns the hex HMAC-SHA256 of nonce under a key derived from
// secret, for storage in a used-nonce table.
func HashNonce(nonce string, secret []byte) string {
	key := append([]byte(nonceKeyPrefix), secret...)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
