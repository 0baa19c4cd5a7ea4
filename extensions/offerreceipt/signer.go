package offerreceipt

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/golang-jwt/jwt/v5"
)

// Signer turns an Offer or a Receipt into a signature string. A route's
// Declaration carries the KeyID and Algorithm the server expects; the
// concrete Signer is supplied by the embedding application (server key
// material never lives in this package).
type Signer interface {
	Algorithm() Algorithm
	KeyID() string
	SignOffer(offer Offer) (string, error)
	SignReceipt(receipt Receipt) (string, error)
}

// jwsSigner signs offers and receipts as compact JWS: a JWT whose claims
// are the offer/receipt itself.
type jwsSigner struct {
	keyID  string
	key    []byte
	method jwt.SigningMethod
}

// NewJWSSigner builds a Signer that produces HS256-signed JWS tokens keyed
// by kid, using key as the HMAC secret.
func NewJWSSigner(kid string, key []byte) Signer {
	return &jwsSigner{keyID: kid, key: key, method: jwt.SigningMethodHS256}
}

func (s *jwsSigner) Algorithm() Algorithm { return AlgorithmJWS }
func (s *jwsSigner) KeyID() string        { return s.keyID }

func (s *jwsSigner) SignOffer(offer Offer) (string, error) {
	claims := offerClaims{Offer: offer}
	return s.sign(claims)
}

func (s *jwsSigner) SignReceipt(receipt Receipt) (string, error) {
	claims := receiptClaims{Receipt: receipt}
	return s.sign(claims)
}

func (s *jwsSigner) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	token.Header["kid"] = s.keyID
	return token.SignedString(s.key)
}

type offerClaims struct {
	Offer Offer `json:"offer"`
	jwt.RegisteredClaims
}

type receiptClaims struct {
	Receipt Receipt `json:"receipt"`
	jwt.RegisteredClaims
}

// eip712Signer signs offers and receipts as EIP-712 typed data, reusing the
// same domain-separator construction used for EIP-3009 authorizations
// elsewhere in this module.
type eip712Signer struct {
	keyID      string
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
}

// NewEIP712Signer builds a Signer that produces EIP-712 signatures scoped
// to chainID, using privateKey as the signing key.
func NewEIP712Signer(kid string, chainID *big.Int, privateKey *ecdsa.PrivateKey) Signer {
	return &eip712Signer{keyID: kid, chainID: chainID, privateKey: privateKey}
}

func (s *eip712Signer) Algorithm() Algorithm { return AlgorithmEIP712 }
func (s *eip712Signer) KeyID() string        { return s.keyID }

func (s *eip712Signer) SignOffer(offer Offer) (string, error) {
	amount, ok := new(big.Int).SetString(offer.Amount, 10)
	if !ok {
		return "", fmt.Errorf("offerreceipt: invalid offer amount %q", offer.Amount)
	}
	message := map[string]interface{}{
		"scheme":            offer.Scheme,
		"network":           offer.Network,
		"asset":             offer.Asset,
		"amount":            amount,
		"payTo":             offer.PayTo,
		"maxTimeoutSeconds": big.NewInt(int64(offer.MaxTimeoutSeconds)),
		"issuedAt":          big.NewInt(offer.IssuedAt),
	}
	fields := apitypes.Types{
		"Offer": {
			{Name: "scheme", Type: "string"},
			{Name: "network", Type: "string"},
			{Name: "asset", Type: "string"},
			{Name: "amount", Type: "uint256"},
			{Name: "payTo", Type: "string"},
			{Name: "maxTimeoutSeconds", Type: "uint256"},
			{Name: "issuedAt", Type: "uint256"},
		},
	}
	return s.sign("Offer", fields, message)
}

func (s *eip712Signer) SignReceipt(receipt Receipt) (string, error) {
	message := map[string]interface{}{
		"success":     receipt.Success,
		"network":     receipt.Network,
		"payer":       receipt.Payer,
		"transaction": receipt.Transaction,
		"settledAt":   big.NewInt(receipt.SettledAt),
	}
	fields := apitypes.Types{
		"Receipt": {
			{Name: "success", Type: "bool"},
			{Name: "network", Type: "string"},
			{Name: "payer", Type: "string"},
			{Name: "transaction", Type: "string"},
			{Name: "settledAt", Type: "uint256"},
		},
	}
	return s.sign("Receipt", fields, message)
}

func (s *eip712Signer) sign(primaryType string, types apitypes.Types, message map[string]interface{}) (string, error) {
	types["EIP712Domain"] = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}

	typedData := apitypes.TypedData{
		Types:       types,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    "x402-offer-receipt",
			Version: "1",
			ChainId: (*math.HexOrDecimal256)(s.chainID),
		},
		Message: message,
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return "", fmt.Errorf("offerreceipt: hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("offerreceipt: hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	digest := crypto.Keccak256(rawData)

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("offerreceipt: sign: %w", err)
	}
	return "0x" + fmt.Sprintf("%x", sig), nil
}
