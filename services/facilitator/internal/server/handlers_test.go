package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/extensions/facilitatorfees"
	"github.com/x402-engine/x402/services/facilitator/internal/config"
	"github.com/x402-engine/x402/services/facilitator/internal/health"
	"github.com/x402-engine/x402/services/facilitator/internal/metrics"
	"github.com/x402-engine/x402/services/facilitator/internal/ratelimit"
)

// testMetrics is shared across tests: metrics.New registers on the default
// Prometheus registry, which tolerates exactly one registration per binary.
var testMetrics = metrics.New()

type stubFacilitator struct {
	verifyResult *x402.VerifyResponse
	settleResult *x402.SettleResponse
	settleCalls  int
}

func (f *stubFacilitator) Verify(ctx context.Context, payload, requirements []byte) (*x402.VerifyResponse, error) {
	return f.verifyResult, nil
}

func (f *stubFacilitator) Settle(ctx context.Context, payload, requirements []byte) (*x402.SettleResponse, error) {
	f.settleCalls++
	return f.settleResult, nil
}

func (f *stubFacilitator) GetSupported() x402.SupportedResponse {
	return x402.SupportedResponse{}
}

func newTestServer(fac Facilitator, feeQuotes *FeeQuoteConfig) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		router:      gin.New(),
		facilitator: fac,
		config:      &config.Config{},
		metrics:     testMetrics,
		limiter:     &ratelimit.NoopLimiter{Requests: 100, Window: time.Minute},
		health:      health.NewChecker(nil, "test"),
		feeQuotes:   feeQuotes,
	}
	s.setupRoutes()
	return s
}

func postJSON(s *Server, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

const settleBody = `{
	"paymentPayload": {"x402Version": 2, "payload": {}},
	"paymentRequirements": {"scheme": "exact", "network": "eip155:84532"}
}`

func TestHandleVerify(t *testing.T) {
	fac := &stubFacilitator{
		verifyResult: &x402.VerifyResponse{IsValid: true, Payer: "0xabc"},
	}
	s := newTestServer(fac, nil)

	w := postJSON(s, "/verify", settleBody)
	require.Equal(t, http.StatusOK, w.Code)

	var result x402.VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.IsValid)
	assert.Equal(t, "0xabc", result.Payer)
}

func TestHandleVerify_BadBody(t *testing.T) {
	s := newTestServer(&stubFacilitator{}, nil)

	w := postJSON(s, "/verify", `{"paymentPayload": {}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSettle_StatusReflectsOutcome(t *testing.T) {
	t.Run("success settles with 200", func(t *testing.T) {
		fac := &stubFacilitator{
			settleResult: &x402.SettleResponse{Success: true, Transaction: "0xhash", Network: "eip155:84532"},
		}
		s := newTestServer(fac, nil)

		w := postJSON(s, "/settle", settleBody)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, fac.settleCalls)
	})

	t.Run("scheme failure maps to 422", func(t *testing.T) {
		fac := &stubFacilitator{
			settleResult: &x402.SettleResponse{Success: false, ErrorReason: "insufficient_funds"},
		}
		s := newTestServer(fac, nil)

		w := postJSON(s, "/settle", settleBody)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestHandleFeeQuote(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	feeQuotes := &FeeQuoteConfig{
		FacilitatorID: "test-facilitator",
		Signer:        facilitatorfees.NewEIP191Signer(key),
		BPS:           25,
		MinFee:        "100",
		MaxFee:        "50000",
		TTL:           5 * time.Minute,
	}

	t.Run("unconfigured returns 501", func(t *testing.T) {
		s := newTestServer(&stubFacilitator{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/x402/fee-quote?network=eip155:8453&asset=0x1", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	t.Run("missing params returns 400", func(t *testing.T) {
		s := newTestServer(&stubFacilitator{}, feeQuotes)
		req := httptest.NewRequest(http.MethodGet, "/x402/fee-quote?network=eip155:8453", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-decimal amount returns 400", func(t *testing.T) {
		s := newTestServer(&stubFacilitator{}, feeQuotes)
		req := httptest.NewRequest(http.MethodGet, "/x402/fee-quote?network=eip155:8453&asset=0x1&amount=1.5", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("signed quote round-trips", func(t *testing.T) {
		s := newTestServer(&stubFacilitator{}, feeQuotes)
		req := httptest.NewRequest(http.MethodGet, "/x402/fee-quote?network=eip155:8453&asset=0x036CbD53842c5426634e7929541eC2318f3dCF7e&amount=10000", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var option facilitatorfees.FeeQuoteOption
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &option))
		assert.Equal(t, "test-facilitator", option.FacilitatorID)
		assert.Equal(t, facilitatorfees.SignatureEIP191, option.FacilitatorFeeQuote.Algorithm)
		assert.NotEmpty(t, option.FacilitatorFeeQuote.Signature)
		assert.Equal(t, facilitatorfees.KindBPS, option.FacilitatorFeeQuote.Quote.Kind)
		assert.Equal(t, 25, option.FacilitatorFeeQuote.Quote.BPS)
		assert.Greater(t, option.FacilitatorFeeQuote.Quote.ExpiresAt, time.Now().Unix())
	})
}
