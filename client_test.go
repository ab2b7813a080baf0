package tollgate

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/tollgate/adapters/generator"
	"github.com/layer-3/tollgate/adapters/store"
	"github.com/layer-3/tollgate/adapters/tokenizer"
	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
	"github.com/layer-3/tollgate/service"
	tollhttp "github.com/layer-3/tollgate/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type okVerifier struct{ chain core.Chain }

func (v okVerifier) Chain() core.Chain { return v.chain }
func (v okVerifier) ValidateAddress(string) error { return nil }
func (v okVerifier) Verify(context.Context, string, core.PaymentOption) core.VerifyResult {
	return core.Verified()
}

type fakePayer struct {
	chain core.Chain
	paid  []Accept
	err   error
}

func (p *fakePayer) Chain() core.Chain { return p.chain }

func (p *fakePayer) Pay(ctx context.Context, accept Accept) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.paid = append(p.paid, accept)
	return "ref-" + accept.Nonce, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemoryStore()
	svc := service.NewPaymentService(
		[]core.PaymentOption{
			{Chain: core.ChainBase, Token: core.TokenUSDC, Recipient: "0x1111111111111111111111111111111111111111", Amount: "0.1", Asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			{Chain: core.ChainSolana, Token: core.TokenUSDC, Recipient: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", Amount: "0.1", Asset: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		},
		[]ports.ChainVerifier{okVerifier{core.ChainBase}, okVerifier{core.ChainSolana}},
		mem,
		mem,
		tokenizer.NewJWTSigner([]byte("client-test-secret")),
	)

	srv := httptest.NewServer(tollhttp.SetupRouter(svc, generator.Placeholder{}, nil, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Buy(t *testing.T) {
	srv := newServer(t)
	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	payer := &fakePayer{chain: core.ChainSolana}
	grant, err := c.Buy(ctx, payer)
	require.NoError(t, err)
	require.Len(t, payer.paid, 1)
	assert.Equal(t, core.ChainSolana, payer.paid[0].Chain)
	assert.Equal(t, "0.1", payer.paid[0].Amount)
	assert.True(t, grant.AllowInference)
	assert.Equal(t, int64(300), grant.ExpiresIn)

	result, err := c.GenerateImage(ctx, grant.License, "a lighthouse")
	require.NoError(t, err)
	assert.True(t, result.IsPlaceholder)

	_, err = c.GenerateImage(ctx, grant.License, "a lighthouse")
	assert.ErrorIs(t, err, ErrLicenseRejected)
	assert.Contains(t, err.Error(), core.ErrLicenseUsed.Error())
}

func TestClient_RedeemTwice(t *testing.T) {
	srv := newServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	accepts, err := c.Challenge(ctx)
	require.NoError(t, err)
	require.Len(t, accepts, 2)

	proof := core.PaymentProof{Chain: "base", Token: "USDC", Tx: "0xfeed", Nonce: accepts[0].Nonce}
	_, err = c.Redeem(ctx, proof)
	require.NoError(t, err)

	_, err = c.Redeem(ctx, proof)
	assert.ErrorIs(t, err, ErrPaymentRejected)
	assert.Contains(t, err.Error(), core.ErrNonceUsed.Error())
}

func TestClient_PayerErrors(t *testing.T) {
	srv := newServer(t)
	c := NewClient(srv.URL)

	_, err := c.Buy(context.Background(), &fakePayer{chain: "tron"})
	assert.ErrorIs(t, err, ErrNoAcceptableOption)

	boom := errors.New("insufficient funds")
	_, err = c.Buy(context.Background(), &fakePayer{chain: core.ChainBase, err: boom})
	assert.ErrorIs(t, err, boom)
}
