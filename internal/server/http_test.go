package server

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"SpotLedger/internal/engine"
	"SpotLedger/internal/observability"
)

type stubCustodian struct{}

func (stubCustodian) Address() common.Address { return common.Address{} }
func (stubCustodian) Withdraw(common.Address, common.Address, *big.Int) error {
	return nil
}

// newGateway spins up a gateway over a live engine loop with no database or
// NATS behind it; output channels are buffered and discarded.
func newGateway(t *testing.T) *Server {
	t.Helper()

	eng := engine.New(engine.Config{
		Owner:        common.HexToAddress("0x0000000000000000000000000000000000000001"),
		NativeSymbol: "ETH",
		FeeWallet:    common.HexToAddress("0x0000000000000000000000000000000000000003"),
		Custodian:    stubCustodian{},
	}, zerolog.Nop())

	persistChan := make(chan engine.Output, 64)
	projectionChan := make(chan engine.Output, 64)
	publishChan := make(chan engine.Output, 64)
	loop := engine.NewLoop(eng, persistChan, projectionChan, publishChan, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)

	return New(":0", Deps{Loop: loop, Health: observability.NewHealthChecker()}, zerolog.Nop())
}

func TestRemoveLiquidityExitRouted(t *testing.T) {
	s := newGateway(t)
	wallet := "0x00000000000000000000000000000000000000aa"
	body := `{"baseAsset":"0x0000000000000000000000000000000000001001",` +
		`"quoteAsset":"0x0000000000000000000000000000000000000000"}`

	req := httptest.NewRequest(http.MethodPost, "/v1/wallets/"+wallet+"/exit/liquidity", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	// The wallet has not exited, so the call must reach the engine and come
	// back as a settlement rejection, not a routing 404.
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %q)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "wallet not exited") {
		t.Errorf("body = %q, want the engine's not-exited rejection", rec.Body.String())
	}
}

func TestRemoveLiquidityExitRejectsBadAsset(t *testing.T) {
	s := newGateway(t)
	wallet := "0x00000000000000000000000000000000000000aa"
	body := `{"baseAsset":"not-an-address","quoteAsset":"0x0000000000000000000000000000000000000000"}`

	req := httptest.NewRequest(http.MethodPost, "/v1/wallets/"+wallet+"/exit/liquidity", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
