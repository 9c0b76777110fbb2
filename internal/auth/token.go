package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
)

// TokenKind discriminates the four signed bearer token kinds the identity
// service issues. All four share one signing secret and algorithm; the kind
// is carried in the custom claims and checked on every verification so a
// token minted for one purpose can never be replayed as another.
type TokenKind string

const (
	KindUserSession   TokenKind = "session"
	KindService       TokenKind = "service"
	KindInvite        TokenKind = "invite"
	KindPasswordReset TokenKind = "password_reset"
)

const issuer = "cartographer"

// clockSkewLeeway bounds the allowance for exp/nbf comparison across clocks.
const clockSkewLeeway = 5 * time.Second

// Claims is the custom (non-registered) payload carried by every token kind.
// Fields not applicable to a given Kind are left zero; verification always
// checks Kind against the caller's expectation before trusting anything else.
type Claims struct {
	Kind     TokenKind `json:"kind"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role,omitempty"`
	Email    string    `json:"email,omitempty"`
	Service  bool      `json:"service,omitempty"`
	Scope    string    `json:"scope,omitempty"`
}

// TokenManager issues and verifies all four token kinds against one shared
// HS-family secret.
type TokenManager struct {
	signingKey []byte
	algorithm  jose.SignatureAlgorithm
}

// NewTokenManager creates a TokenManager. secret must be at least 32 bytes;
// algorithm is typically HS256.
func NewTokenManager(secret, algorithm string) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token signing secret must be at least 32 bytes")
	}
	alg := jose.SignatureAlgorithm(algorithm)
	if alg == "" {
		alg = jose.HS256
	}
	return &TokenManager{signingKey: []byte(secret), algorithm: alg}, nil
}

// GenerateDevSecret returns a random 32-byte hex secret for local development.
func GenerateDevSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (tm *TokenManager) sign(subject string, claims Claims, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: tm.algorithm, Key: tm.signingKey}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := josejwt.Claims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  josejwt.NewNumericDate(now),
		NotBefore: josejwt.NewNumericDate(now),
		Expiry:    josejwt.NewNumericDate(now.Add(ttl)),
	}

	return josejwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
}

// IssueUserSession issues a normal user-session token (table row "User session").
func (tm *TokenManager) IssueUserSession(userID, username, role string, ttl time.Duration) (string, error) {
	return tm.sign(userID, Claims{Kind: KindUserSession, Username: username, Role: role}, ttl)
}

// IssueService issues a long-lived service-to-service credential. Service
// tokens always carry service=true and role=owner, per the spec's invariant
// that verifiers must reject a mismatch between service and user tokens.
func (tm *TokenManager) IssueService(serviceName string, ttl time.Duration) (string, error) {
	return tm.sign(serviceName, Claims{Kind: KindService, Username: serviceName, Role: RoleOwner, Service: true}, ttl)
}

// IssueInvite issues a single-redemption invite token.
func (tm *TokenManager) IssueInvite(inviteID, email, role string, ttl time.Duration) (string, error) {
	return tm.sign(inviteID, Claims{Kind: KindInvite, Email: email, Role: role}, ttl)
}

// IssuePasswordReset issues a one-shot password-reset token.
func (tm *TokenManager) IssuePasswordReset(userID string, ttl time.Duration) (string, error) {
	return tm.sign(userID, Claims{Kind: KindPasswordReset, Scope: "reset"}, ttl)
}

// VerifyReason enumerates why a token failed verification. Never surfaced to
// HTTP callers directly — only used internally to decide retry/UX behavior.
type VerifyReason string

const (
	ReasonExpired    VerifyReason = "expired"
	ReasonSignature  VerifyReason = "signature"
	ReasonMalformed  VerifyReason = "malformed"
	ReasonWrongKind  VerifyReason = "wrong-kind"
	ReasonUnknown    VerifyReason = "unknown"
)

// VerifiedClaims is the subject plus custom claims of a successfully
// verified token.
type VerifiedClaims struct {
	Subject string
	Claims
}

// VerifyOutcome is the tagged union the spec requires: valid(claims),
// invalid(reason), or unknown. Construct only via TokenManager.Verify.
type VerifyOutcome struct {
	claims *VerifiedClaims
	reason VerifyReason
}

// Valid reports whether the token verified successfully, returning its claims.
func (o VerifyOutcome) Valid() (*VerifiedClaims, bool) {
	return o.claims, o.claims != nil
}

// Reason returns the failure reason when the token did not verify. The
// second return is false when the token was valid.
func (o VerifyOutcome) Reason() (VerifyReason, bool) {
	return o.reason, o.claims == nil
}

// Verify parses and validates raw against expected, enforcing clock-skew
// leeway and the kind discriminator. It never returns which specific check
// failed to the caller of this package's HTTP layer — only VerifyOutcome.Reason
// exposes that, for logging.
func (tm *TokenManager) Verify(raw string, expected TokenKind) VerifyOutcome {
	tok, err := josejwt.ParseSigned(raw, []jose.SignatureAlgorithm{tm.algorithm})
	if err != nil {
		return VerifyOutcome{reason: ReasonMalformed}
	}

	var registered josejwt.Claims
	var custom Claims
	if err := tok.Claims(tm.signingKey, &registered, &custom); err != nil {
		return VerifyOutcome{reason: ReasonSignature}
	}

	err = registered.ValidateWithLeeway(josejwt.Expected{Issuer: issuer, Time: time.Now()}, clockSkewLeeway)
	if err != nil {
		if errors.Is(err, josejwt.ErrExpired) {
			return VerifyOutcome{reason: ReasonExpired}
		}
		return VerifyOutcome{reason: ReasonUnknown}
	}

	if custom.Kind != expected {
		return VerifyOutcome{reason: ReasonWrongKind}
	}

	return VerifyOutcome{claims: &VerifiedClaims{Subject: registered.Subject, Claims: custom}}
}
