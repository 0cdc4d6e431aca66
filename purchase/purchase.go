// Package purchase implements the buyer side of the escrow lifecycle: a
// Request locks funds against a seller's published payment identifier and can
// later ask for a refund if the seller misses the result deadline.
package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentpay-network/agentpay-go/client"
	"github.com/agentpay-network/agentpay-go/config"
	xerrors "github.com/agentpay-network/agentpay-go/errors"
	"github.com/agentpay-network/agentpay-go/hasher"
	"github.com/agentpay-network/agentpay-go/monitor"
	"github.com/agentpay-network/agentpay-go/payment"
	"github.com/agentpay-network/agentpay-go/pkg/logger"
)

// Params carries everything needed to fund a seller's payment request. The
// time windows must be the exact values echoed by the seller's creation
// response; the service rejects mismatches.
type Params struct {
	// BlockchainIdentifier is the seller's published payment identifier.
	BlockchainIdentifier string

	// SellerVKey identifies the seller's wallet in the escrow contract.
	SellerVKey string

	AgentIdentifier         string
	IdentifierFromPurchaser string

	// Amounts is the agreed escrow price. Required; there is no implicit
	// default currency.
	Amounts []client.Amount

	// InputData is the request payload; its canonical digest must match the
	// seller's committed inputHash.
	InputData any

	TimeWindows payment.TimeWindows

	Network         string
	ContractAddress string
	PaymentType     string
}

// Request is one buyer-side purchase through its lifecycle.
type Request struct {
	svc      *client.Client
	log      *slog.Logger
	observer monitor.PollObserver

	params    Params
	inputHash string

	mu         sync.Mutex
	purchaseID string
	state      payment.State
	handle     *monitor.Handle
}

// Option configures optional Request behaviour.
type Option func(*Request)

// WithLogger replaces the default component logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Request) {
		if log != nil {
			r.log = log
		}
	}
}

// WithPollObserver attaches a poll observer to monitors started from this
// request.
func WithPollObserver(observer monitor.PollObserver) Option {
	return func(r *Request) {
		r.observer = observer
	}
}

// New builds a purchase request referencing an existing seller payment.
func New(svc *client.Client, params Params, opts ...Option) (*Request, error) {
	if svc == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "service client is required")
	}
	if params.BlockchainIdentifier == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "seller blockchain identifier is required")
	}
	if params.SellerVKey == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "seller verification key is required")
	}
	if params.AgentIdentifier == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agent identifier is required")
	}
	if err := payment.ValidatePurchaserIdentifier(params.IdentifierFromPurchaser); err != nil {
		return nil, err
	}
	if params.Network == "" {
		params.Network = config.DefaultNetwork
	}
	if params.ContractAddress == "" {
		params.ContractAddress = config.DefaultContractAddress
	}
	if params.PaymentType == "" {
		params.PaymentType = payment.DefaultPaymentType
	}

	r := &Request{
		svc:    svc,
		log:    logger.Named("purchase"),
		params: params,
		state:  payment.StateCreated,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Create locks funds against the seller's payment. The seller-supplied time
// windows are re-validated locally before the network call; a response whose
// next action is anything other than the funds-locking marker is a protocol
// violation.
func (r *Request) Create(ctx context.Context) (*client.CreatePurchaseResponse, error) {
	if len(r.params.Amounts) == 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "at least one amount is required")
	}
	if err := r.params.TimeWindows.Validate(); err != nil {
		return nil, err
	}
	if r.inputHash == "" {
		digest, err := hasher.Digest(r.params.InputData)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeValidation, err, "hash input payload")
		}
		r.inputHash = digest
	}

	resp, err := r.svc.CreatePurchase(ctx, client.CreatePurchaseRequest{
		BlockchainIdentifier:      r.params.BlockchainIdentifier,
		Network:                   r.params.Network,
		SellerVkey:                r.params.SellerVKey,
		PaymentType:               r.params.PaymentType,
		PaymentContractAddress:    r.params.ContractAddress,
		Amounts:                   r.params.Amounts,
		AgentIdentifier:           r.params.AgentIdentifier,
		IdentifierFromPurchaser:   r.params.IdentifierFromPurchaser,
		PayByTime:                 r.params.TimeWindows.PayBy,
		SubmitResultTime:          r.params.TimeWindows.SubmitResult,
		UnlockTime:                r.params.TimeWindows.Unlock,
		ExternalDisputeUnlockTime: r.params.TimeWindows.ExternalDisputeUnlock,
		InputHash:                 r.inputHash,
	})
	if err != nil {
		return nil, err
	}
	if resp.NextAction.RequestedAction != client.ActionFundsLockingRequested {
		return nil, xerrors.New(xerrors.CodeProtocol,
			fmt.Sprintf("expected next action %q, got %q",
				client.ActionFundsLockingRequested, resp.NextAction.RequestedAction))
	}

	r.mu.Lock()
	r.purchaseID = resp.ID
	r.state = payment.StateRequested
	r.mu.Unlock()

	logger.Audit().Info("purchase created",
		slog.String("purchase_id", resp.ID),
		slog.String("blockchain_identifier", r.params.BlockchainIdentifier),
		slog.String("input_hash", r.inputHash),
	)
	return resp, nil
}

// RequestRefund asks the service to return the locked funds. Only meaningful
// once submitResultTime has elapsed without a delivered result; the SDK does
// not self-schedule this, callers gate it on wall-clock time.
func (r *Request) RequestRefund(ctx context.Context) (*client.RefundResponse, error) {
	r.mu.Lock()
	created := r.purchaseID != ""
	r.mu.Unlock()
	if !created {
		return nil, xerrors.New(xerrors.CodeState,
			"no purchase has been created; nothing to refund")
	}

	resp, err := r.svc.RequestRefund(ctx, client.RefundRequest{
		BlockchainIdentifier:   r.params.BlockchainIdentifier,
		Network:                r.params.Network,
		PaymentContractAddress: r.params.ContractAddress,
	})
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("refund requested",
		slog.String("blockchain_identifier", r.params.BlockchainIdentifier),
		slog.String("purchase_id", r.purchaseID),
	)
	return resp, nil
}

// CheckStatus fetches the current snapshot of the referenced payment so the
// buyer can observe delivery progress. It never mutates local state; pass the
// snapshot to Apply (or let a status monitor do it).
func (r *Request) CheckStatus(ctx context.Context) (*client.StatusSnapshot, error) {
	id := r.params.BlockchainIdentifier
	snapshot, err := r.svc.GetPayment(ctx, id, r.params.Network, r.params.ContractAddress)
	if err != nil {
		return nil, err
	}
	if snapshot.BlockchainIdentifier != id {
		return nil, xerrors.New(xerrors.CodeProtocol,
			fmt.Sprintf("status response is for %q, requested %q", snapshot.BlockchainIdentifier, id))
	}
	return snapshot, nil
}

// Apply folds an observed snapshot into the local lifecycle projection and
// returns the resulting state. Transitions are monotonic; a stale snapshot
// never moves the projection backwards.
func (r *Request) Apply(snapshot *client.StatusSnapshot) (payment.State, error) {
	if snapshot == nil {
		return "", xerrors.New(xerrors.CodeValidation, "nil snapshot")
	}
	if snapshot.BlockchainIdentifier != r.params.BlockchainIdentifier {
		return "", xerrors.New(xerrors.CodeState,
			fmt.Sprintf("snapshot is for %q, this purchase references %q",
				snapshot.BlockchainIdentifier, r.params.BlockchainIdentifier))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next, relevant := payment.StateFromSnapshot(snapshot)
	if !relevant {
		return r.state, nil
	}
	updated := r.state.Advance(next)
	if updated != r.state {
		r.log.Info("purchase state advanced",
			slog.String("blockchain_identifier", r.params.BlockchainIdentifier),
			slog.String("from", string(r.state)),
			slog.String("to", string(updated)),
		)
		r.state = updated
	}
	return updated, nil
}

// State returns the local lifecycle projection of this purchase.
func (r *Request) State() payment.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PurchaseID returns the service-assigned purchase id, empty before Create.
func (r *Request) PurchaseID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purchaseID
}

// InputHash returns the committed input digest, empty before Create.
func (r *Request) InputHash() string {
	return r.inputHash
}

// StartStatusMonitoring begins background polling of the referenced payment.
// Each observed snapshot first advances the local lifecycle projection, then
// reaches the caller's callback. A monitor already running on this request is
// stopped first.
func (r *Request) StartStatusMonitoring(ctx context.Context, interval time.Duration, cb monitor.Callback) error {
	r.mu.Lock()
	previous := r.handle
	r.handle = nil
	r.mu.Unlock()
	if previous != nil {
		previous.Stop()
		previous.Wait()
	}

	source := monitor.SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		return r.CheckStatus(ctx)
	})
	wrapped := func(snapshot *client.StatusSnapshot) {
		if _, err := r.Apply(snapshot); err != nil {
			r.log.Warn("apply snapshot", slog.Any("error", err))
		}
		if cb != nil {
			cb(snapshot)
		}
	}
	handle := monitor.Start(ctx, source, interval, wrapped,
		monitor.WithLogger(r.log),
		monitor.WithObserver(r.observer),
	)
	r.mu.Lock()
	r.handle = handle
	r.mu.Unlock()
	return nil
}

// StopStatusMonitoring cancels the active monitor, if any, and waits for its
// loop to exit. Safe to call repeatedly.
func (r *Request) StopStatusMonitoring() {
	r.mu.Lock()
	handle := r.handle
	r.handle = nil
	r.mu.Unlock()
	if handle != nil {
		handle.Stop()
		handle.Wait()
	}
}
