package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/extensions/facilitatorfees"
)

// settleClaimTTL bounds how long a settled payload's recorded result is
// replayable. It comfortably outlives every scheme's authorization window
// (EIP-3009 validBefore, XRP LastLedgerSequence, invoice expiry), after
// which the chain itself rejects a replay.
const settleClaimTTL = 24 * time.Hour

// VerifyRequest is the request body for /verify
type VerifyRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

// SettleRequest is the request body for /settle
type SettleRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

// handleVerify handles POST /verify
func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
			"details": err.Error(),
		})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	result, err := s.facilitator.Verify(
		c.Request.Context(),
		req.PaymentPayload,
		req.PaymentRequirements,
	)

	if err != nil {
		s.metrics.RecordVerify(network, scheme, false)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "verification failed",
			"details": err.Error(),
		})
		return
	}

	s.metrics.RecordVerify(network, scheme, result.IsValid)

	c.JSON(http.StatusOK, result)
}

// handleSettle handles POST /settle. A payload is settled at most once per
// facilitator deployment: before touching the chain the handler claims the
// payload's hash in Redis, and a second request for the same payload gets
// the recorded first result back instead of a second submission.
func (s *Server) handleSettle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
			"details": err.Error(),
		})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	claimKey := settleClaimKey(req.PaymentPayload)
	if replayed, done := s.replaySettle(c, claimKey); done {
		s.metrics.RecordSettle(network, scheme, replayed.Success)
		return
	}

	start := time.Now()
	result, err := s.facilitator.Settle(
		c.Request.Context(),
		req.PaymentPayload,
		req.PaymentRequirements,
	)

	if err != nil {
		s.metrics.RecordSettle(network, scheme, false)
		s.releaseSettleClaim(c, claimKey)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "settlement failed",
			"details": err.Error(),
		})
		return
	}

	s.metrics.RecordSettle(network, scheme, result.Success)
	s.metrics.RecordSettleDuration(network, scheme, time.Since(start).Seconds())
	s.recordSettleResult(c, claimKey, result)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, result)
}

// handleSupported handles GET /supported
func (s *Server) handleSupported(c *gin.Context) {
	supported := s.facilitator.GetSupported()
	c.JSON(http.StatusOK, supported)
}

// handleFeeQuote handles GET /x402/fee-quote?network=&asset=&amount=. The
// quote is signed so a resource server can advertise it to clients under
// the facilitator-fees extension without the client having to trust the
// server's relaying.
func (s *Server) handleFeeQuote(c *gin.Context) {
	if s.feeQuotes == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "fee quotes not configured",
		})
		return
	}

	network := c.Query("network")
	asset := c.Query("asset")
	amountStr := c.Query("amount")

	if network == "" || asset == "" {
		s.metrics.RecordFeeQuote(network, false)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "network and asset query parameters are required",
		})
		return
	}
	if amountStr != "" {
		if _, ok := new(big.Int).SetString(amountStr, 10); !ok {
			s.metrics.RecordFeeQuote(network, false)
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "amount must be a decimal integer string",
			})
			return
		}
	}

	quote := facilitatorfees.FacilitatorFeeQuote{
		Kind:      facilitatorfees.KindBPS,
		Network:   network,
		Asset:     asset,
		BPS:       s.feeQuotes.BPS,
		MinFee:    s.feeQuotes.MinFee,
		MaxFee:    s.feeQuotes.MaxFee,
		ExpiresAt: time.Now().Add(s.feeQuotes.TTL).Unix(),
	}

	signature, err := s.feeQuotes.Signer.Sign(quote)
	if err != nil {
		s.metrics.RecordFeeQuote(network, false)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to sign fee quote",
			"details": err.Error(),
		})
		return
	}

	s.metrics.RecordFeeQuote(network, true)
	c.JSON(http.StatusOK, facilitatorfees.FeeQuoteOption{
		FacilitatorID: s.feeQuotes.FacilitatorID,
		FacilitatorFeeQuote: facilitatorfees.SignedFeeQuote{
			Quote:     quote,
			Algorithm: s.feeQuotes.Signer.Algorithm(),
			Signature: signature,
		},
	})
}

// settleClaimKey derives the idempotency key for a payment payload. The
// hash covers the raw payload bytes, so any re-encoding of the same
// authorization maps to the same claim.
func settleClaimKey(payload json.RawMessage) string {
	sum := sha256.Sum256(payload)
	return "settle:" + hex.EncodeToString(sum[:])
}

// replaySettle tries to claim key for this request. If an earlier request
// already holds it, the recorded result (if any) is written to the client
// and (result, true) is returned; a claim still marked in-flight maps to
// 409 so the caller can retry after the first settlement lands. Without
// Redis the claim degrades to the scheme's own on-chain replay protection.
func (s *Server) replaySettle(c *gin.Context, key string) (*x402.SettleResponse, bool) {
	if s.cache == nil {
		return nil, false
	}

	claimed, err := s.cache.SetNX(c.Request.Context(), key, "inflight", settleClaimTTL)
	if err != nil {
		log.Printf("settle claim failed, proceeding without idempotency: %v", err)
		return nil, false
	}
	if claimed {
		return nil, false
	}

	stored, err := s.cache.Get(c.Request.Context(), key)
	if err != nil || stored == "inflight" {
		c.JSON(http.StatusConflict, gin.H{
			"error": "settlement for this payload is already in progress",
		})
		return &x402.SettleResponse{}, true
	}

	var result x402.SettleResponse
	if err := json.Unmarshal([]byte(stored), &result); err != nil {
		log.Printf("failed to decode recorded settle result: %v", err)
		c.JSON(http.StatusConflict, gin.H{
			"error": "settlement for this payload was already submitted",
		})
		return &x402.SettleResponse{}, true
	}

	c.Header("X-Idempotent-Replay", "true")
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, &result)
	return &result, true
}

// recordSettleResult replaces the in-flight claim with the settled result.
func (s *Server) recordSettleResult(c *gin.Context, key string, result *x402.SettleResponse) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("failed to encode settle result for %s: %v", key, err)
		return
	}
	if err := s.cache.Set(c.Request.Context(), key, string(data), settleClaimTTL); err != nil {
		log.Printf("failed to record settle result for %s: %v", key, err)
	}
}

// releaseSettleClaim drops the claim when Settle returns an error, including
// a scheme's SettleError, so the caller can retry. Only a result returned
// with Success false keeps the claim: that recorded result is the durable
// answer.
func (s *Server) releaseSettleClaim(c *gin.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(c.Request.Context(), key); err != nil {
		log.Printf("failed to release settle claim %s: %v", key, err)
	}
}

// extractNetworkScheme extracts network and scheme from requirements JSON for metrics
func extractNetworkScheme(requirements json.RawMessage) (string, string) {
	var req struct {
		Network string `json:"network"`
		Scheme  string `json:"scheme"`
	}
	if err := json.Unmarshal(requirements, &req); err != nil {
		return "unknown", "unknown"
	}
	return req.Network, req.Scheme
}
