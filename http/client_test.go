package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/types"
)

// mockSchemeClient signs with a fixed placeholder payload.
type mockSchemeClient struct {
	scheme string
}

func (m *mockSchemeClient) Scheme() string { return m.scheme }

func (m *mockSchemeClient) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	return types.PaymentPayload{
		X402Version: 2,
		Payload:     map[string]interface{}{"mock": "payload"},
	}, nil
}

func payableClient() *x402HTTPClient {
	engine := x402.Newx402Client()
	engine.Register("eip155:*", &mockSchemeClient{scheme: "exact"})
	return Newx402HTTPClient(engine)
}

func challengeHeaderValue(t *testing.T) string {
	t.Helper()
	required := x402.PaymentRequired{
		X402Version: 2,
		Error:       "Payment required",
		Accepts: []x402.PaymentRequirements{{
			Scheme:  "exact",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		}},
	}
	data, err := json.Marshal(required)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestEncodePaymentSignatureHeader(t *testing.T) {
	client := Newx402HTTPClient(x402.Newx402Client())

	t.Run("v2 payload sets both header spellings", func(t *testing.T) {
		payloadBytes, _ := json.Marshal(types.PaymentPayload{
			X402Version: 2,
			Accepted:    types.PaymentRequirements{Scheme: "exact", Network: "eip155:1"},
			Payload:     map[string]interface{}{"sig": "x"},
		})
		headers := client.EncodePaymentSignatureHeader(payloadBytes)
		if headers["X-PAYMENT"] == "" || headers["PAYMENT-SIGNATURE"] == "" {
			t.Fatalf("missing headers: %v", headers)
		}

		decoded, err := base64.StdEncoding.DecodeString(headers["X-PAYMENT"])
		if err != nil {
			t.Fatalf("header not base64: %v", err)
		}
		var roundTrip types.PaymentPayload
		if err := json.Unmarshal(decoded, &roundTrip); err != nil || roundTrip.X402Version != 2 {
			t.Fatalf("header does not round-trip: %v", err)
		}
	})

	t.Run("v1 payload sets only X-PAYMENT", func(t *testing.T) {
		payloadBytes, _ := json.Marshal(types.PaymentPayloadV1{
			X402Version: 1, Scheme: "exact", Network: "eip155:1",
			Payload: map[string]interface{}{"sig": "x"},
		})
		headers := client.EncodePaymentSignatureHeader(payloadBytes)
		if headers["X-PAYMENT"] == "" {
			t.Fatal("missing X-PAYMENT")
		}
		if _, ok := headers["PAYMENT-SIGNATURE"]; ok {
			t.Fatal("v1 must not set PAYMENT-SIGNATURE")
		}
	})
}

func TestGetPaymentRequiredResponse(t *testing.T) {
	client := Newx402HTTPClient(x402.Newx402Client())

	t.Run("v2 header form", func(t *testing.T) {
		required, err := client.GetPaymentRequiredResponse(map[string]string{
			"PAYMENT-REQUIRED": challengeHeaderValue(t),
		}, nil)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(required.Accepts) != 1 || required.Accepts[0].Amount != "1000000" {
			t.Errorf("challenge decoded wrong: %+v", required)
		}
	})

	t.Run("v1 body form", func(t *testing.T) {
		body, _ := json.Marshal(map[string]interface{}{
			"x402Version": 1,
			"error":       "Payment required",
			"accepts":     []interface{}{},
		})
		required, err := client.GetPaymentRequiredResponse(map[string]string{}, body)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if required.X402Version != 1 {
			t.Errorf("expected v1 body decode, got %+v", required)
		}
	})

	t.Run("nothing to decode errors", func(t *testing.T) {
		if _, err := client.GetPaymentRequiredResponse(map[string]string{}, nil); err == nil {
			t.Fatal("expected an error with no challenge present")
		}
	})
}

func TestGetPaymentSettleResponse(t *testing.T) {
	client := Newx402HTTPClient(x402.Newx402Client())
	receipt, _ := json.Marshal(x402.SettleResponse{
		Success: true, Transaction: "0xtx", Network: "eip155:1", Payer: "0xpayer",
	})
	encoded := base64.StdEncoding.EncodeToString(receipt)

	for _, header := range []string{"X-PAYMENT-RESPONSE", "PAYMENT-RESPONSE"} {
		decoded, err := client.GetPaymentSettleResponse(map[string]string{header: encoded})
		if err != nil {
			t.Fatalf("%s decode failed: %v", header, err)
		}
		if !decoded.Success || decoded.Transaction != "0xtx" {
			t.Errorf("%s decoded wrong: %+v", header, decoded)
		}
	}

	if _, err := client.GetPaymentSettleResponse(map[string]string{}); err == nil {
		t.Fatal("expected an error with no receipt header")
	}
}

func TestPaymentRoundTripperPaysOn402(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if r.Header.Get("X-PAYMENT") == "" {
			w.Header().Set("PAYMENT-REQUIRED", challengeHeaderValue(t))
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		if r.Header.Get("Access-Control-Expose-Headers") != "X-PAYMENT-RESPONSE" {
			t.Error("retried request must expose the receipt header")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("paid content"))
	}))
	defer server.Close()

	httpClient := WrapHTTPClientWithPayment(&http.Client{}, payableClient())
	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after paying, got %d", resp.StatusCode)
	}
	if callCount != 2 {
		t.Errorf("Expected exactly one retry, got %d calls", callCount)
	}
}

func TestPaymentRoundTripperNoRetryOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	httpClient := WrapHTTPClientWithPayment(&http.Client{}, Newx402HTTPClient(x402.Newx402Client()))
	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestPaymentRoundTripperSecond402IsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always demand payment, even after one arrives.
		w.Header().Set("PAYMENT-REQUIRED", challengeHeaderValue(t))
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	httpClient := WrapHTTPClientWithPayment(&http.Client{}, payableClient())
	_, err := httpClient.Get(server.URL)
	if err == nil {
		t.Fatal("expected the second 402 to fail the request")
	}

	var paymentErr *x402.PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != x402.ErrCodePaymentAlreadyAttempted {
		t.Fatalf("expected payment_already_attempted, got %v", err)
	}
}

func TestDoGetPostWithPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := Newx402HTTPClient(x402.Newx402Client())
	ctx := context.Background()

	req, _ := http.NewRequest("GET", server.URL, nil)
	if resp, err := client.DoWithPayment(ctx, req); err != nil {
		t.Fatalf("DoWithPayment failed: %v", err)
	} else {
		resp.Body.Close()
	}
	if resp, err := client.GetWithPayment(ctx, server.URL); err != nil {
		t.Fatalf("GetWithPayment failed: %v", err)
	} else {
		resp.Body.Close()
	}
	if resp, err := client.PostWithPayment(ctx, server.URL, nil); err != nil {
		t.Fatalf("PostWithPayment failed: %v", err)
	} else {
		resp.Body.Close()
	}
}
