package evidence

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// MinSeedLength is the shortest accepted receipt seed in bytes.
const MinSeedLength = 16

// ReceiptClaims are the signed contents of a screening receipt.
type ReceiptClaims struct {
	PackHash      string  `json:"pack_hash"`
	Supplier      string  `json:"supplier"`
	RiskLevel     string  `json:"risk_level"`
	RiskScore     float64 `json:"risk_score"`
	Confidence    float64 `json:"confidence"`
	Verified      bool    `json:"verified"`
	ListVersion   string  `json:"list_version,omitempty"`
	PolicyVersion string  `json:"policy_version,omitempty"`
	jwt.RegisteredClaims
}

// ReceiptSigner issues EdDSA-signed JWT receipts. The key pair is derived
// from a seed with HKDF, using the issuer as context, so every process
// holding the same seed and issuer signs with the same key.
type ReceiptSigner struct {
	issuer string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	keyID  string
	now    func() time.Time
}

func NewReceiptSigner(seed []byte, issuer string) (*ReceiptSigner, error) {
	if len(seed) < MinSeedLength {
		return nil, fmt.Errorf("receipt seed must be at least %d bytes", MinSeedLength)
	}
	if issuer == "" {
		return nil, errors.New("receipt issuer is required")
	}
	r := hkdf.New(sha256.New, seed, []byte("exposure-receipt-kdf"), []byte(issuer))
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, keySeed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(keySeed)
	pub := priv.Public().(ed25519.PublicKey)
	sum := sha256.Sum256(pub)
	return &ReceiptSigner{
		issuer: issuer,
		priv:   priv,
		pub:    pub,
		keyID:  hex.EncodeToString(sum[:8]),
		now:    time.Now,
	}, nil
}

// WithClock overrides the issued-at source.
func (s *ReceiptSigner) WithClock(clock func() time.Time) *ReceiptSigner {
	s.now = clock
	return s
}

func (s *ReceiptSigner) KeyID() string { return s.keyID }

func (s *ReceiptSigner) PublicKey() ed25519.PublicKey { return s.pub }

// Sign issues a receipt for a sealed pack.
func (s *ReceiptSigner) Sign(pack *Pack) (string, error) {
	if pack.PackHash == "" {
		return "", errors.New("evidence: pack is not sealed")
	}
	a, err := pack.Assessment()
	if err != nil {
		return "", err
	}
	claims := ReceiptClaims{
		PackHash:      pack.PackHash,
		Supplier:      a.EntityName,
		RiskLevel:     a.OverallRisk.String(),
		RiskScore:     a.RiskScore,
		Confidence:    a.Confidence,
		Verified:      a.Verified(),
		ListVersion:   a.ListVersion,
		PolicyVersion: a.PolicyVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  pack.ID,
			ID:       pack.ID,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// Verify checks a receipt's signature and issuer and returns its claims.
func (s *ReceiptSigner) Verify(receipt string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	_, err := jwt.ParseWithClaims(receipt, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify receipt: %w", err)
	}
	return claims, nil
}

// VerifyPack checks the receipt and that it was issued for pack.
func (s *ReceiptSigner) VerifyPack(receipt string, pack *Pack) (*ReceiptClaims, error) {
	claims, err := s.Verify(receipt)
	if err != nil {
		return nil, err
	}
	if err := Verify(pack); err != nil {
		return nil, err
	}
	if claims.PackHash != pack.PackHash {
		return nil, fmt.Errorf("%w: receipt covers %s, pack is %s", ErrPackTampered, claims.PackHash, pack.PackHash)
	}
	return claims, nil
}
