package client

// Requested actions reported by the service in NextAction.requestedAction.
const (
	ActionWaitingForExternal    = "WaitingForExternalAction"
	ActionFundsLockingRequested = "FundsLockingRequested"
	ActionSubmitResultRequested = "SubmitResultRequested"
	ActionPaymentComplete       = "PaymentComplete"
	ActionRefundRequested       = "SetRefundRequested"
	ActionNone                  = "None"
)

// On-chain escrow states reported by the service.
const (
	OnChainFundsLocked     = "FundsLocked"
	OnChainResultSubmitted = "ResultSubmitted"
	OnChainComplete        = "Complete"
	OnChainDisputed        = "Disputed"
	OnChainRefundRequested = "RefundRequested"
)

// Amount is one (quantity, unit) pair of an escrow price. Quantity is a
// non-negative integer in the unit's smallest denomination.
type Amount struct {
	Amount int64  `json:"amount"`
	Unit   string `json:"unit"`
}

// NextAction tells a party what the service expects it to do next.
type NextAction struct {
	RequestedAction string `json:"requestedAction"`
	ErrorType       string `json:"errorType,omitempty"`
	ErrorNote       string `json:"errorNote,omitempty"`
}

// CreatePaymentRequest is the body of POST /payment/.
type CreatePaymentRequest struct {
	AgentIdentifier           string   `json:"agentIdentifier"`
	Network                   string   `json:"network"`
	PaymentContractAddress    string   `json:"paymentContractAddress"`
	Amounts                   []Amount `json:"amounts"`
	PaymentType               string   `json:"paymentType"`
	PayByTime                 int64    `json:"payByTime"`
	SubmitResultTime          int64    `json:"submitResultTime"`
	UnlockTime                int64    `json:"unlockTime"`
	ExternalDisputeUnlockTime int64    `json:"externalDisputeUnlockTime"`
	InputHash                 string   `json:"inputHash"`
	IdentifierFromPurchaser   string   `json:"identifierFromPurchaser"`
}

// CreatePaymentResponse is the data block returned by POST /payment/.
// The echoed time windows are authoritative; buyers must reuse them verbatim
// when locking funds.
type CreatePaymentResponse struct {
	BlockchainIdentifier      string `json:"blockchainIdentifier"`
	InputHash                 string `json:"inputHash"`
	PayByTime                 int64  `json:"payByTime"`
	SubmitResultTime          int64  `json:"submitResultTime"`
	UnlockTime                int64  `json:"unlockTime"`
	ExternalDisputeUnlockTime int64  `json:"externalDisputeUnlockTime"`
}

// StatusSnapshot is one payment's entry in the batch status response. It is a
// point-in-time projection of the escrow record; callers interpret it, the
// SDK never mutates local state from it.
type StatusSnapshot struct {
	BlockchainIdentifier string     `json:"blockchainIdentifier"`
	OnChainState         string     `json:"onChainState"`
	NextAction           NextAction `json:"NextAction"`
	InputHash            string     `json:"inputHash,omitempty"`
	ResultHash           string     `json:"resultHash,omitempty"`
}

// PaymentList is the data block returned by GET /payment/.
type PaymentList struct {
	Payments []StatusSnapshot `json:"Payments"`
}

// SubmitResultRequest is the body of PATCH /payment/.
type SubmitResultRequest struct {
	Network                string `json:"network"`
	PaymentContractAddress string `json:"paymentContractAddress"`
	Hash                   string `json:"hash"`
	Identifier             string `json:"identifier"`
}

// SubmitResultResponse is the data block returned by PATCH /payment/.
type SubmitResultResponse struct {
	BlockchainIdentifier string     `json:"blockchainIdentifier"`
	NextAction           NextAction `json:"NextAction"`
}

// CreatePurchaseRequest is the body of POST /purchase/.
type CreatePurchaseRequest struct {
	BlockchainIdentifier      string   `json:"blockchainIdentifier"`
	Network                   string   `json:"network"`
	SellerVkey                string   `json:"sellerVkey"`
	PaymentType               string   `json:"paymentType"`
	PaymentContractAddress    string   `json:"paymentContractAddress"`
	Amounts                   []Amount `json:"amounts"`
	AgentIdentifier           string   `json:"agentIdentifier"`
	IdentifierFromPurchaser   string   `json:"identifierFromPurchaser"`
	PayByTime                 int64    `json:"payByTime"`
	SubmitResultTime          int64    `json:"submitResultTime"`
	UnlockTime                int64    `json:"unlockTime"`
	ExternalDisputeUnlockTime int64    `json:"externalDisputeUnlockTime"`
	InputHash                 string   `json:"inputHash"`
}

// CreatePurchaseResponse is the data block returned by POST /purchase/.
type CreatePurchaseResponse struct {
	ID         string     `json:"id"`
	NextAction NextAction `json:"NextAction"`
}

// RefundRequest is the body of PATCH /purchase/.
type RefundRequest struct {
	BlockchainIdentifier   string `json:"blockchainIdentifier"`
	Network                string `json:"network"`
	PaymentContractAddress string `json:"paymentContractAddress"`
}

// RefundResponse is the data block returned by PATCH /purchase/.
type RefundResponse struct {
	ID         string     `json:"id"`
	NextAction NextAction `json:"NextAction"`
}
