package x402

import (
	"context"
	"errors"
	"testing"

	"github.com/x402-engine/x402/types"
)

// mockFacilitatorClient is a scriptable FacilitatorClient; zero value
// verifies and settles successfully.
type mockFacilitatorClient struct {
	verify func(ctx context.Context, payload []byte, reqs []byte) (*VerifyResponse, error)
	settle func(ctx context.Context, payload []byte, reqs []byte) (*SettleResponse, error)
	kinds  []SupportedKind
}

func (m *mockFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	if m.verify != nil {
		return m.verify(ctx, payloadBytes, requirementsBytes)
	}
	return &VerifyResponse{IsValid: true, Payer: "0xmock"}, nil
}

func (m *mockFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	if m.settle != nil {
		return m.settle(ctx, payloadBytes, requirementsBytes)
	}
	return &SettleResponse{Success: true, Transaction: "0xmock", Network: "eip155:1", Payer: "0xmock"}, nil
}

func (m *mockFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	kinds := m.kinds
	if kinds == nil {
		kinds = []SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}}
	}
	return SupportedResponse{
		Kinds:      kinds,
		Extensions: []string{},
		Signers:    make(map[string][]string),
	}, nil
}

// serverHookFixture builds an initialized server around one facilitator
// client plus the payload/requirements pair the hook tests exchange.
func serverHookFixture(t *testing.T, facilitator *mockFacilitatorClient) (*x402ResourceServer, types.PaymentPayload, types.PaymentRequirements) {
	t.Helper()
	server := Newx402ResourceServer(WithFacilitatorClient(facilitator))
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	payload := types.PaymentPayload{X402Version: 2, Payload: map[string]interface{}{}}
	requirements := types.PaymentRequirements{Scheme: "exact", Network: "eip155:8453"}
	return server, payload, requirements
}

func TestServerBeforeVerifyHook(t *testing.T) {
	t.Run("abort surfaces as VerifyError", func(t *testing.T) {
		server := Newx402ResourceServer()
		server.OnBeforeVerify(func(ctx VerifyContext) (*BeforeHookResult, error) {
			return &BeforeHookResult{Abort: true, Reason: "Security check failed"}, nil
		})

		result, err := server.VerifyPayment(
			context.Background(),
			types.PaymentPayload{X402Version: 2, Payload: map[string]interface{}{}},
			types.PaymentRequirements{Scheme: "exact", Network: "eip155:8453"},
		)
		if err == nil || result != nil {
			t.Fatalf("aborted verify should error with nil result, got (%v, %v)", result, err)
		}
		ve := &VerifyError{}
		if !errors.As(err, &ve) || ve.Reason != "Security check failed" {
			t.Errorf("abort reason not propagated: %v", err)
		}
	})

	t.Run("nil result continues", func(t *testing.T) {
		called := false
		server, payload, requirements := serverHookFixture(t, &mockFacilitatorClient{})
		server.OnBeforeVerify(func(ctx VerifyContext) (*BeforeHookResult, error) {
			called = true
			return nil, nil
		})

		result, err := server.VerifyPayment(context.Background(), payload, requirements)
		if err != nil || !result.IsValid {
			t.Fatalf("verify should pass through, got (%v, %v)", result, err)
		}
		if !called {
			t.Error("before-verify hook was not called")
		}
	})
}

func TestServerAfterHooksObserveResults(t *testing.T) {
	var capturedPayer, capturedTx string
	server, payload, requirements := serverHookFixture(t, &mockFacilitatorClient{})
	server.OnAfterVerify(func(ctx VerifyResultContext) error {
		capturedPayer = ctx.Result.Payer
		return nil
	})
	server.OnAfterSettle(func(ctx SettleResultContext) error {
		capturedTx = ctx.Result.Transaction
		return nil
	})

	if _, err := server.VerifyPayment(context.Background(), payload, requirements); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if capturedPayer != "0xmock" {
		t.Errorf("after-verify hook saw payer %q", capturedPayer)
	}

	if _, err := server.SettlePayment(context.Background(), payload, requirements); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if capturedTx != "0xmock" {
		t.Errorf("after-settle hook saw tx %q", capturedTx)
	}
}

func TestServerFailureHooks(t *testing.T) {
	failing := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload, reqs []byte) (*VerifyResponse, error) {
			return nil, NewVerifyError("facilitator_down", "", "eip155:8453", errors.New("boom"))
		},
		settle: func(ctx context.Context, payload, reqs []byte) (*SettleResponse, error) {
			return nil, NewSettleError("facilitator_down", "", "eip155:8453", "", errors.New("boom"))
		},
	}

	t.Run("verify recovery substitutes result", func(t *testing.T) {
		server, payload, requirements := serverHookFixture(t, failing)
		server.OnVerifyFailure(func(ctx VerifyFailureContext) (*VerifyFailureHookResult, error) {
			return &VerifyFailureHookResult{
				Recovered: true,
				Result:    &VerifyResponse{IsValid: true, Payer: "0xRecovered"},
			}, nil
		})

		result, err := server.VerifyPayment(context.Background(), payload, requirements)
		if err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if !result.IsValid || result.Payer != "0xRecovered" {
			t.Errorf("recovery result wrong: %+v", result)
		}
	})

	t.Run("verify failure without recovery propagates", func(t *testing.T) {
		hookSawError := false
		server, payload, requirements := serverHookFixture(t, failing)
		server.OnVerifyFailure(func(ctx VerifyFailureContext) (*VerifyFailureHookResult, error) {
			hookSawError = ctx.Error != nil
			return nil, nil
		})

		if _, err := server.VerifyPayment(context.Background(), payload, requirements); err == nil {
			t.Fatal("expected the facilitator error to propagate")
		}
		if !hookSawError {
			t.Error("failure hook never saw the error")
		}
	})

	t.Run("settle recovery substitutes result", func(t *testing.T) {
		server, payload, requirements := serverHookFixture(t, failing)
		server.OnSettleFailure(func(ctx SettleFailureContext) (*SettleFailureHookResult, error) {
			return &SettleFailureHookResult{
				Recovered: true,
				Result:    &SettleResponse{Success: true, Transaction: "0xRecoveredTx", Network: "eip155:8453", Payer: "0xRecovered"},
			}, nil
		})

		result, err := server.SettlePayment(context.Background(), payload, requirements)
		if err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if !result.Success || result.Transaction != "0xRecoveredTx" {
			t.Errorf("recovery result wrong: %+v", result)
		}
	})
}

func TestServerBeforeSettleHookAbort(t *testing.T) {
	server, payload, requirements := serverHookFixture(t, &mockFacilitatorClient{})
	server.OnBeforeSettle(func(ctx SettleContext) (*BeforeHookResult, error) {
		return &BeforeHookResult{Abort: true, Reason: "maintenance window"}, nil
	})

	result, err := server.SettlePayment(context.Background(), payload, requirements)
	if err == nil || result != nil {
		t.Fatalf("aborted settle should error with nil result, got (%v, %v)", result, err)
	}
}

func TestServerHookFunctionalOptions(t *testing.T) {
	called := false
	server := Newx402ResourceServer(
		WithFacilitatorClient(&mockFacilitatorClient{}),
		WithBeforeVerifyHook(func(ctx VerifyContext) (*BeforeHookResult, error) {
			called = true
			return nil, nil
		}),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	_, err := server.VerifyPayment(
		context.Background(),
		types.PaymentPayload{X402Version: 2, Payload: map[string]interface{}{}},
		types.PaymentRequirements{Scheme: "exact", Network: "eip155:8453"},
	)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !called {
		t.Error("option-registered hook was not called")
	}
}

func TestServerHooksRunInRegistrationOrder(t *testing.T) {
	var order []string
	server, payload, requirements := serverHookFixture(t, &mockFacilitatorClient{})

	for _, name := range []string{"before1", "before2"} {
		name := name
		server.OnBeforeVerify(func(ctx VerifyContext) (*BeforeHookResult, error) {
			order = append(order, name)
			return nil, nil
		})
	}
	for _, name := range []string{"after1", "after2"} {
		name := name
		server.OnAfterVerify(func(ctx VerifyResultContext) error {
			order = append(order, name)
			return nil
		})
	}

	if _, err := server.VerifyPayment(context.Background(), payload, requirements); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	want := []string{"before1", "before2", "after1", "after2"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}
