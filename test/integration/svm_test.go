package integration_test

import (
	"context"
	"os"
	"testing"
	"time"

	x402 "github.com/x402-engine/x402"
	svm "github.com/x402-engine/x402/mechanisms/svm"
	svmclient "github.com/x402-engine/x402/mechanisms/svm/exact/client"
	svmfacilitator "github.com/x402-engine/x402/mechanisms/svm/exact/facilitator"
	svmserver "github.com/x402-engine/x402/mechanisms/svm/exact/server"
	svmsigners "github.com/x402-engine/x402/signers/svm"
)

// TestSVMIntegration runs a real Solana devnet USDC payment end to end:
// the client builds and partially signs the transfer, the facilitator
// verifies by simulation, co-signs as fee payer, and submits. Gated on
// private keys in the environment.
func TestSVMIntegration(t *testing.T) {
	clientKey := os.Getenv("SVM_CLIENT_PRIVATE_KEY")
	facilitatorKey := os.Getenv("SVM_FACILITATOR_PRIVATE_KEY")
	payTo := os.Getenv("SVM_RESOURCE_SERVER_ADDRESS")
	if clientKey == "" || facilitatorKey == "" || payTo == "" {
		t.Skip("Skipping SVM integration test: SVM_CLIENT_PRIVATE_KEY, SVM_FACILITATOR_PRIVATE_KEY, and SVM_RESOURCE_SERVER_ADDRESS must be set")
	}
	rpcURL := os.Getenv("SVM_RPC_URL")
	if rpcURL == "" {
		rpcURL = "https://api.devnet.solana.com"
	}
	const network = "solana:devnet"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	clientSigner, err := svmsigners.NewClientSignerFromPrivateKey(clientKey)
	if err != nil {
		t.Fatalf("Failed to create client signer: %v", err)
	}
	facilitatorSigner, err := svmsigners.NewFacilitatorSigner(facilitatorKey, map[string]string{
		network: rpcURL,
	})
	if err != nil {
		t.Fatalf("Failed to create facilitator signer: %v", err)
	}

	client := x402.Newx402Client()
	client.Register(network, svmclient.NewExactSvmScheme(clientSigner, &svm.ClientConfig{RPCURL: rpcURL}))

	scheme := svmfacilitator.NewExactSvmScheme(facilitatorSigner)
	facilitator := x402.Newx402Facilitator()
	facilitator.Register([]x402.Network{network}, scheme)

	// The fee payer reaches the client through supported(): advertise it
	// the same way the dispatch layer would.
	server := x402.Newx402ResourceServer(
		x402.WithFacilitatorClient(&inProcessFacilitatorClient{
			facilitator: facilitator,
			network:     network,
			scheme:      "exact",
			extra:       scheme.GetExtra(network),
		}),
	)
	server.Register(network, svmserver.NewExactSvmScheme())
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize server: %v", err)
	}

	accepts, err := server.BuildPaymentRequirementsFromConfig(ctx, x402.ResourceConfig{
		Scheme:            "exact",
		Network:           network,
		Price:             "$0.001",
		PayTo:             payTo,
		MaxTimeoutSeconds: 120,
	})
	if err != nil {
		t.Fatalf("Failed to build requirements: %v", err)
	}
	if len(accepts) == 0 || accepts[0].Extra["feePayer"] == nil {
		t.Fatalf("Requirements are missing the facilitator fee payer: %+v", accepts)
	}

	selected, err := client.SelectPaymentRequirements(accepts)
	if err != nil {
		t.Fatalf("Failed to select requirements: %v", err)
	}
	payload, err := client.CreatePaymentPayload(ctx, selected, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create payment: %v", err)
	}

	verified, err := server.VerifyPayment(ctx, payload, selected)
	if err != nil {
		t.Fatalf("Verification failed: %v", err)
	}
	if !verified.IsValid {
		t.Fatalf("Payment invalid: %s", verified.InvalidReason)
	}

	settled, err := server.SettlePayment(ctx, payload, selected)
	if err != nil {
		t.Fatalf("Settlement failed: %v", err)
	}
	if !settled.Success || settled.Transaction == "" {
		t.Fatalf("Settlement did not produce a signature: %+v", settled)
	}
	t.Logf("Settled on-chain: %s", settled.Transaction)
}
