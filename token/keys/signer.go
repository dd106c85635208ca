package keys

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is an interface for signing JWT tokens and exposing the key needed
// to verify them.
type Signer interface {
	// Sign creates a signed JWT token from claims
	Sign(claims jwt.MapClaims) (string, error)

	// GetVerificationKey returns the signing key for verification
	GetVerificationKey(token *jwt.Token) (any, error)

	// GetSigningMethod returns the JWT signing method used
	GetSigningMethod() jwt.SigningMethod
}

// KeyPairSigner implements Signer using RSA with RS256.
type KeyPairSigner struct {
	keyPair *KeyPair
}

var _ Signer = (*KeyPairSigner)(nil)

// NewKeyPairSigner creates a signer from an RSA key pair.
func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{keyPair: keyPair}
}

func (s *KeyPairSigner) Sign(claims jwt.MapClaims) (string, error) {
	t := jwt.NewWithClaims(s.GetSigningMethod(), claims)
	if s.keyPair.KeyID != "" {
		t.Header["kid"] = s.keyPair.KeyID
	}

	signed, err := t.SignedString(s.keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *KeyPairSigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.keyPair.PublicKey, nil
}

func (s *KeyPairSigner) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodRS256
}
