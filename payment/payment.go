// Package payment implements the seller side of the escrow lifecycle: one
// Request registers its terms with the payment service, observes the buyer
// locking funds, and submits the attested result hash to move the record
// toward settlement.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentpay-network/agentpay-go/client"
	"github.com/agentpay-network/agentpay-go/config"
	xerrors "github.com/agentpay-network/agentpay-go/errors"
	"github.com/agentpay-network/agentpay-go/hasher"
	"github.com/agentpay-network/agentpay-go/monitor"
	"github.com/agentpay-network/agentpay-go/pkg/logger"
)

// DefaultPaymentType identifies the Cardano escrow contract generation the
// SDK speaks to.
const DefaultPaymentType = "WEB3_CARDANO_V1"

// Params carries everything needed to build a seller-side payment request.
type Params struct {
	// AgentIdentifier is the registered identity of the selling agent.
	AgentIdentifier string

	// Amounts is the escrow price. Required; there is no implicit default
	// currency.
	Amounts []client.Amount

	// InputData is the structured request payload the buyer agreed to. Its
	// canonical digest becomes the payment's immutable inputHash.
	InputData any

	// IdentifierFromPurchaser is the buyer's correlation token (15-26 hex
	// characters). Generated when empty.
	IdentifierFromPurchaser string

	// TimeWindows defaults to DefaultTimeWindows(now) at creation when zero.
	TimeWindows TimeWindows

	// Network and ContractAddress default to the preprod escrow deployment.
	Network         string
	ContractAddress string

	PaymentType string
}

// Request tracks one or more escrow payments for a selling agent. A single
// Request may observe several concurrent blockchain identifiers, but owns at
// most one active status monitor at a time.
type Request struct {
	svc      *client.Client
	log      *slog.Logger
	observer monitor.PollObserver

	agentIdentifier string
	purchaserID     string
	network         string
	contractAddress string
	paymentType     string
	amounts         []client.Amount
	inputData       any
	inputHash       string
	windows         TimeWindows

	mu      sync.Mutex
	tracked map[string]State
	handle  *monitor.Handle
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

// New builds a payment request. The purchaser identifier is validated (or
// generated) here; amount and time-window invariants are enforced by Create
// before any network call.
func New(svc *client.Client, params Params, opts ...Option) (*Request, error) {
	if svc == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "service client is required")
	}
	if params.AgentIdentifier == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agent identifier is required")
	}
	purchaserID := params.IdentifierFromPurchaser
	if purchaserID == "" {
		purchaserID = NewPurchaserIdentifier()
	}
	if err := ValidatePurchaserIdentifier(purchaserID); err != nil {
		return nil, err
	}

	r := &Request{
		svc:             svc,
		log:             logger.Named("payment"),
		agentIdentifier: params.AgentIdentifier,
		purchaserID:     purchaserID,
		network:         params.Network,
		contractAddress: params.ContractAddress,
		paymentType:     params.PaymentType,
		amounts:         append([]client.Amount(nil), params.Amounts...),
		inputData:       params.InputData,
		windows:         params.TimeWindows,
		tracked:         make(map[string]State),
	}
	if r.network == "" {
		r.network = config.DefaultNetwork
	}
	if r.contractAddress == "" {
		r.contractAddress = config.DefaultContractAddress
	}
	if r.paymentType == "" {
		r.paymentType = DefaultPaymentType
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Create validates the escrow terms, commits to the input payload via its
// canonical digest, and registers the payment with the service. The returned
// response carries the blockchain identifier and the authoritative time
// windows a buyer must reuse when locking funds.
func (r *Request) Create(ctx context.Context) (*client.CreatePaymentResponse, error) {
	if err := r.validateAmounts(); err != nil {
		return nil, err
	}
	if r.windows.IsZero() {
		r.windows = DefaultTimeWindows(time.Now())
	}
	if err := r.windows.Validate(); err != nil {
		return nil, err
	}
	if r.inputHash == "" {
		digest, err := hasher.Digest(r.inputData)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeValidation, err, "hash input payload")
		}
		r.inputHash = digest
	}

	resp, err := r.svc.CreatePayment(ctx, client.CreatePaymentRequest{
		AgentIdentifier:           r.agentIdentifier,
		Network:                   r.network,
		PaymentContractAddress:    r.contractAddress,
		Amounts:                   r.amounts,
		PaymentType:               r.paymentType,
		PayByTime:                 r.windows.PayBy,
		SubmitResultTime:          r.windows.SubmitResult,
		UnlockTime:                r.windows.Unlock,
		ExternalDisputeUnlockTime: r.windows.ExternalDisputeUnlock,
		InputHash:                 r.inputHash,
		IdentifierFromPurchaser:   r.purchaserID,
	})
	if err != nil {
		return nil, err
	}
	if resp.InputHash != "" && resp.InputHash != r.inputHash {
		return nil, xerrors.New(xerrors.CodeProtocol,
			fmt.Sprintf("service echoed input hash %q, expected %q", resp.InputHash, r.inputHash))
	}

	// The service may round the requested windows; its echo is authoritative.
	echoed := TimeWindows{
		PayBy:                 resp.PayByTime,
		SubmitResult:          resp.SubmitResultTime,
		Unlock:                resp.UnlockTime,
		ExternalDisputeUnlock: resp.ExternalDisputeUnlockTime,
	}
	if !echoed.IsZero() && echoed.Validate() == nil {
		r.windows = echoed
	}

	r.mu.Lock()
	r.tracked[resp.BlockchainIdentifier] = StateRequested
	r.mu.Unlock()

	logger.Audit().Info("payment request created",
		slog.String("blockchain_identifier", resp.BlockchainIdentifier),
		slog.String("agent_identifier", r.agentIdentifier),
		slog.String("input_hash", r.inputHash),
		slog.Int64("submit_result_time", r.windows.SubmitResult),
	)
	return resp, nil
}

// Track adds an identifier created elsewhere (for example restored from the
// caller's own storage) to this request's tracked set. Duplicate tracking is
// a no-op.
func (r *Request) Track(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracked[id]; !ok {
		r.tracked[id] = StateRequested
	}
}

// TrackedIdentifiers returns the identifiers this request is observing.
func (r *Request) TrackedIdentifiers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tracked))
	for id := range r.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StateOf returns the local lifecycle projection for a tracked identifier.
func (r *Request) StateOf(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.tracked[id]
	return state, ok
}

// InputHash returns the committed input digest, empty before Create.
func (r *Request) InputHash() string {
	return r.inputHash
}

// IdentifierFromPurchaser returns the buyer correlation token.
func (r *Request) IdentifierFromPurchaser() string {
	return r.purchaserID
}

// TimeWindows returns the effective time windows.
func (r *Request) TimeWindows() TimeWindows {
	return r.windows
}

// CheckStatus fetches the current status snapshot for a tracked identifier.
// It never mutates local state; pass the snapshot to Apply (or let a status
// monitor do it) to advance the lifecycle projection.
func (r *Request) CheckStatus(ctx context.Context, id string) (*client.StatusSnapshot, error) {
	if _, ok := r.StateOf(id); !ok {
		return nil, xerrors.New(xerrors.CodeState,
			fmt.Sprintf("payment %q is not tracked by this request", id))
	}
	snapshot, err := r.svc.GetPayment(ctx, id, r.network, r.contractAddress)
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
func (r *Request) Apply(snapshot *client.StatusSnapshot) (State, error) {
	if snapshot == nil {
		return "", xerrors.New(xerrors.CodeValidation, "nil snapshot")
	}
	id := snapshot.BlockchainIdentifier
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.tracked[id]
	if !ok {
		return "", xerrors.New(xerrors.CodeState,
			fmt.Sprintf("payment %q is not tracked by this request", id))
	}
	next, relevant := StateFromSnapshot(snapshot)
	if !relevant {
		return current, nil
	}
	updated := current.Advance(next)
	if updated != current {
		r.tracked[id] = updated
		r.log.Info("payment state advanced",
			slog.String("blockchain_identifier", id),
			slog.String("from", string(current)),
			slog.String("to", string(updated)),
		)
	}
	return updated, nil
}

// Complete submits the seller's output hash for a payment whose funds are
// locked. The hash must be a canonical 64-character digest, typically from
// hasher.Digest over the produced result.
func (r *Request) Complete(ctx context.Context, id, outputHash string) (*client.SubmitResultResponse, error) {
	if !hasher.IsDigest(outputHash) {
		return nil, xerrors.New(xerrors.CodeValidation,
			"output hash must be 64 lowercase hex characters")
	}
	state, ok := r.StateOf(id)
	if !ok {
		return nil, xerrors.New(xerrors.CodeState,
			fmt.Sprintf("no payment has been created for %q", id))
	}
	if !state.AtLeast(StateFundsLocked) {
		return nil, xerrors.New(xerrors.CodeState,
			fmt.Sprintf("payment %q is %s; funds must be locked before submitting a result", id, state))
	}

	resp, err := r.svc.SubmitResult(ctx, client.SubmitResultRequest{
		Network:                r.network,
		PaymentContractAddress: r.contractAddress,
		Hash:                   outputHash,
		Identifier:             id,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.tracked[id] = r.tracked[id].Advance(StateResultSubmitted)
	r.mu.Unlock()

	logger.Audit().Info("payment result submitted",
		slog.String("blockchain_identifier", id),
		slog.String("output_hash", outputHash),
	)
	return resp, nil
}

// StartStatusMonitoring begins background polling of one tracked identifier.
// Each observed snapshot first advances the local lifecycle projection, then
// reaches the caller's callback. A monitor already running on this request is
// stopped first; loops never overlap.
func (r *Request) StartStatusMonitoring(ctx context.Context, id string, interval time.Duration, cb monitor.Callback) error {
	if _, ok := r.StateOf(id); !ok {
		return xerrors.New(xerrors.CodeState,
			fmt.Sprintf("payment %q is not tracked by this request", id))
	}

	r.mu.Lock()
	previous := r.handle
	r.handle = nil
	r.mu.Unlock()
	if previous != nil {
		previous.Stop()
		previous.Wait()
	}

	source := monitor.SourceFunc(func(ctx context.Context) (*client.StatusSnapshot, error) {
		return r.CheckStatus(ctx, id)
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

func (r *Request) validateAmounts() error {
	if len(r.amounts) == 0 {
		return xerrors.New(xerrors.CodeValidation, "at least one amount is required")
	}
	for _, amount := range r.amounts {
		if amount.Amount < 0 {
			return xerrors.New(xerrors.CodeValidation,
				fmt.Sprintf("amount %d %s is negative", amount.Amount, amount.Unit))
		}
		if amount.Unit == "" {
			return xerrors.New(xerrors.CodeValidation, "amount unit is required")
		}
	}
	return nil
}
