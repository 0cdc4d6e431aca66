package payment

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/agentpay-network/agentpay-go/errors"
)

// TimeWindows are the four Unix-second deadlines governing one escrow
// payment. They must be strictly increasing: the buyer pays before the seller
// submits, funds unlock after submission, and the external dispute window
// closes last.
type TimeWindows struct {
	PayBy                 int64
	SubmitResult          int64
	Unlock                int64
	ExternalDisputeUnlock int64
}

// Default offsets relative to "now", matching the service's recommended
// windows for interactive agent work.
const (
	defaultPayByOffset        = 5 * time.Minute
	defaultSubmitResultOffset = 1 * time.Hour
	defaultUnlockOffset       = 1*time.Hour + 10*time.Minute
	defaultDisputeOffset      = 24 * time.Hour
)

// DefaultTimeWindows returns the standard windows anchored at now.
func DefaultTimeWindows(now time.Time) TimeWindows {
	return TimeWindows{
		PayBy:                 now.Add(defaultPayByOffset).Unix(),
		SubmitResult:          now.Add(defaultSubmitResultOffset).Unix(),
		Unlock:                now.Add(defaultUnlockOffset).Unix(),
		ExternalDisputeUnlock: now.Add(defaultDisputeOffset).Unix(),
	}
}

// Validate enforces the strict ordering invariant.
func (w TimeWindows) Validate() error {
	if w.PayBy <= 0 {
		return xerrors.New(xerrors.CodeValidation, "payByTime must be a positive unix timestamp")
	}
	if w.PayBy >= w.SubmitResult {
		return xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("payByTime %d must precede submitResultTime %d", w.PayBy, w.SubmitResult))
	}
	if w.SubmitResult >= w.Unlock {
		return xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("submitResultTime %d must precede unlockTime %d", w.SubmitResult, w.Unlock))
	}
	if w.Unlock >= w.ExternalDisputeUnlock {
		return xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("unlockTime %d must precede externalDisputeUnlockTime %d", w.Unlock, w.ExternalDisputeUnlock))
	}
	return nil
}

// IsZero reports whether no window has been set.
func (w TimeWindows) IsZero() bool {
	return w == TimeWindows{}
}

// Purchaser identifier length bounds imposed by the service.
const (
	purchaserIDMinLen = 15
	purchaserIDMaxLen = 26

	generatedPurchaserIDLen = 25
)

// NewPurchaserIdentifier derives a fresh correlation token for a buyer. The
// service requires a hexadecimal string of 15-26 characters; this returns 25
// hex characters of a random UUID.
func NewPurchaserIdentifier() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:generatedPurchaserIDLen]
}

// ValidatePurchaserIdentifier checks the service's format constraints.
func ValidatePurchaserIdentifier(id string) error {
	if len(id) < purchaserIDMinLen || len(id) > purchaserIDMaxLen {
		return xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("identifierFromPurchaser must be %d-%d characters, got %d",
				purchaserIDMinLen, purchaserIDMaxLen, len(id)))
	}
	if _, err := hex.DecodeString(padEven(id)); err != nil {
		return xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("identifierFromPurchaser %q is not hexadecimal", id))
	}
	return nil
}

// padEven appends a zero so odd-length tokens survive hex.DecodeString, which
// only accepts an even number of digits.
func padEven(s string) string {
	if len(s)%2 == 1 {
		return s + "0"
	}
	return s
}
