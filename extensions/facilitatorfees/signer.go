package facilitatorfees

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"
)

// Signer attests to a FacilitatorFeeQuote on behalf of one facilitator.
type Signer interface {
	Algorithm() SignatureAlgorithm
	Sign(quote FacilitatorFeeQuote) (string, error)
}

// canonicalize returns the deterministic JSON bytes a quote is signed over.
// FacilitatorFeeQuote's field order is fixed by its struct definition, so
// encoding/json's stable field ordering already gives a canonical encoding.
func canonicalize(quote FacilitatorFeeQuote) ([]byte, error) {
	return json.Marshal(quote)
}

// eip191Signer signs quotes the way an Ethereum wallet signs arbitrary
// messages: keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
type eip191Signer struct {
	privateKey *ecdsa.PrivateKey
}

// NewEIP191Signer builds a Signer using an ECDSA private key and the
// standard Ethereum personal-message prefix.
func NewEIP191Signer(privateKey *ecdsa.PrivateKey) Signer {
	return &eip191Signer{privateKey: privateKey}
}

func (s *eip191Signer) Algorithm() SignatureAlgorithm { return SignatureEIP191 }

func (s *eip191Signer) Sign(quote FacilitatorFeeQuote) (string, error) {
	data, err := canonicalize(quote)
	if err != nil {
		return "", fmt.Errorf("facilitatorfees: canonicalize quote: %w", err)
	}
	prefixed := []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(data)))
	prefixed = append(prefixed, data...)
	digest := crypto.Keccak256(prefixed)

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("facilitatorfees: sign: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// ed25519Signer signs quotes with a Solana-style Ed25519 keypair.
type ed25519Signer struct {
	privateKey solana.PrivateKey
}

// NewEd25519Signer builds a Signer using a Solana Ed25519 private key.
func NewEd25519Signer(privateKey solana.PrivateKey) Signer {
	return &ed25519Signer{privateKey: privateKey}
}

func (s *ed25519Signer) Algorithm() SignatureAlgorithm { return SignatureEd25519 }

func (s *ed25519Signer) Sign(quote FacilitatorFeeQuote) (string, error) {
	data, err := canonicalize(quote)
	if err != nil {
		return "", fmt.Errorf("facilitatorfees: canonicalize quote: %w", err)
	}
	sig, err := s.privateKey.Sign(data)
	if err != nil {
		return "", fmt.Errorf("facilitatorfees: sign: %w", err)
	}
	return sig.String(), nil
}
