package purchase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentpay-network/agentpay-go/client"
	xerrors "github.com/agentpay-network/agentpay-go/errors"
	"github.com/agentpay-network/agentpay-go/payment"
)

func writeEnvelope(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

func buyerParams() Params {
	return Params{
		BlockchainIdentifier:    "chain-1",
		SellerVKey:              "vkey-1",
		AgentIdentifier:         "agent-1",
		IdentifierFromPurchaser: "abcdef0123456789abcdef012",
		Amounts:                 []client.Amount{{Amount: 10000000, Unit: "lovelace"}},
		InputData:               map[string]any{"text": "hi"},
		TimeWindows: payment.TimeWindows{
			PayBy: 100, SubmitResult: 200, Unlock: 300, ExternalDisputeUnlock: 400,
		},
	}
}

func newTestRequest(t *testing.T, handler http.Handler, params Params) (*Request, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	svc, err := client.New(srv.URL, "secret", client.WithHTTPClient(srv.Client()))
	if err != nil {
		srv.Close()
		t.Fatalf("new client: %v", err)
	}
	req, err := New(svc, params)
	if err != nil {
		srv.Close()
		t.Fatalf("new request: %v", err)
	}
	return req, srv.Close
}

func TestCreateLocksFunds(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/purchase/" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req client.CreatePurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.BlockchainIdentifier != "chain-1" {
			t.Fatalf("unexpected identifier: %q", req.BlockchainIdentifier)
		}
		if req.SellerVkey != "vkey-1" {
			t.Fatalf("unexpected seller vkey: %q", req.SellerVkey)
		}
		if len(req.InputHash) != 64 {
			t.Fatalf("input hash has wrong length: %d", len(req.InputHash))
		}
		if req.SubmitResultTime != 200 {
			t.Fatalf("windows not forwarded: %+v", req)
		}
		writeEnvelope(w, client.CreatePurchaseResponse{
			ID:         "purchase-1",
			NextAction: client.NextAction{RequestedAction: client.ActionFundsLockingRequested},
		})
	})
	req, done := newTestRequest(t, handler, buyerParams())
	defer done()

	resp, err := req.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.ID != "purchase-1" || req.PurchaseID() != "purchase-1" {
		t.Fatalf("purchase id not recorded: %q / %q", resp.ID, req.PurchaseID())
	}
	if req.State() != payment.StateRequested {
		t.Fatalf("expected Requested state, got %q", req.State())
	}
}

func TestCreateRejectsUnexpectedNextAction(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, client.CreatePurchaseResponse{
			ID:         "purchase-1",
			NextAction: client.NextAction{RequestedAction: client.ActionWaitingForExternal},
		})
	})
	req, done := newTestRequest(t, handler, buyerParams())
	defer done()

	_, err := req.Create(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if req.PurchaseID() != "" {
		t.Fatal("failed create must not record a purchase id")
	}
}

func TestCreateValidatesWindowsBeforeNetwork(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	params := buyerParams()
	params.TimeWindows.SubmitResult = 50 // before payBy
	req, done := newTestRequest(t, handler, params)
	defer done()

	_, err := req.Create(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("validation failure must not reach the network")
	}
}

func TestRefundBeforeCreateIsStateError(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	req, done := newTestRequest(t, handler, buyerParams())
	defer done()

	_, err := req.RequestRefund(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeState {
		t.Fatalf("expected state error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("state failure must not reach the network")
	}
}

func TestRefundAfterCreate(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			writeEnvelope(w, client.CreatePurchaseResponse{
				ID:         "purchase-1",
				NextAction: client.NextAction{RequestedAction: client.ActionFundsLockingRequested},
			})
		case http.MethodPatch:
			if r.URL.Path != "/purchase/" {
				t.Fatalf("unexpected refund path: %s", r.URL.Path)
			}
			var req client.RefundRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode refund: %v", err)
			}
			if req.BlockchainIdentifier != "chain-1" {
				t.Fatalf("unexpected identifier: %q", req.BlockchainIdentifier)
			}
			writeEnvelope(w, client.RefundResponse{
				ID:         "purchase-1",
				NextAction: client.NextAction{RequestedAction: client.ActionRefundRequested},
			})
		default:
			t.Fatalf("unexpected method: %s", r.Method)
		}
	})
	req, done := newTestRequest(t, handler, buyerParams())
	defer done()

	if _, err := req.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	resp, err := req.RequestRefund(context.Background())
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if resp.NextAction.RequestedAction != client.ActionRefundRequested {
		t.Fatalf("unexpected next action: %q", resp.NextAction.RequestedAction)
	}
}

func TestCheckStatusFindsReferencedPayment(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment/chain-1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		writeEnvelope(w, client.StatusSnapshot{
			BlockchainIdentifier: "chain-1",
			OnChainState:         client.OnChainResultSubmitted,
		})
	})
	req, done := newTestRequest(t, handler, buyerParams())
	defer done()

	snapshot, err := req.CheckStatus(context.Background())
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if snapshot.OnChainState != client.OnChainResultSubmitted {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestCheckStatusEmptySnapshotIsProtocolError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, client.StatusSnapshot{})
	})
	req, done := newTestRequest(t, handler, buyerParams())
	defer done()

	_, err := req.CheckStatus(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestApplyAdvancesState(t *testing.T) {
	req, done := newTestRequest(t, http.NotFoundHandler(), buyerParams())
	defer done()

	state, err := req.Apply(&client.StatusSnapshot{
		BlockchainIdentifier: "chain-1",
		OnChainState:         client.OnChainFundsLocked,
	})
	if err != nil || state != payment.StateFundsLocked {
		t.Fatalf("expected FundsLocked, got %q (%v)", state, err)
	}
	if req.State() != payment.StateFundsLocked {
		t.Fatalf("State() not advanced: %q", req.State())
	}

	// A snapshot for some other payment must be rejected, not folded in.
	if _, err := req.Apply(&client.StatusSnapshot{BlockchainIdentifier: "other"}); xerrors.CodeOf(err) != xerrors.CodeState {
		t.Fatalf("expected state error, got %v", err)
	}

	// Stale snapshots never regress the projection.
	state, err = req.Apply(&client.StatusSnapshot{BlockchainIdentifier: "chain-1"})
	if err != nil || state != payment.StateFundsLocked {
		t.Fatalf("uninformative snapshot moved the state to %q (%v)", state, err)
	}
}

func TestMonitoringAdvancesState(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			writeEnvelope(w, client.CreatePurchaseResponse{
				ID:         "purchase-1",
				NextAction: client.NextAction{RequestedAction: client.ActionFundsLockingRequested},
			})
		case http.MethodGet:
			writeEnvelope(w, client.StatusSnapshot{
				BlockchainIdentifier: "chain-1",
				OnChainState:         client.OnChainResultSubmitted,
			})
		default:
			t.Fatalf("unexpected method: %s", r.Method)
		}
	})
	req, done := newTestRequest(t, handler, buyerParams())
	defer done()

	if _, err := req.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}

	observed := make(chan *client.StatusSnapshot, 16)
	err := req.StartStatusMonitoring(context.Background(), 10*time.Millisecond,
		func(snapshot *client.StatusSnapshot) {
			observed <- snapshot
		})
	if err != nil {
		t.Fatalf("start monitoring: %v", err)
	}

	select {
	case snapshot := <-observed:
		if snapshot.OnChainState != client.OnChainResultSubmitted {
			t.Fatalf("unexpected snapshot: %+v", snapshot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for monitor callback")
	}

	req.StopStatusMonitoring()
	req.StopStatusMonitoring() // idempotent

	if req.State() != payment.StateResultSubmitted {
		t.Fatalf("monitor should have advanced the state, got %q", req.State())
	}
}

func TestNewValidatesParams(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	svc, err := client.New(srv.URL, "secret", client.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"missing identifier", func(p *Params) { p.BlockchainIdentifier = "" }},
		{"missing seller vkey", func(p *Params) { p.SellerVKey = "" }},
		{"missing agent", func(p *Params) { p.AgentIdentifier = "" }},
		{"bad purchaser id", func(p *Params) { p.IdentifierFromPurchaser = "xyz" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := buyerParams()
			tc.mutate(&params)
			if _, err := New(svc, params); xerrors.CodeOf(err) != xerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
