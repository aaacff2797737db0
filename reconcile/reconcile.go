// Package reconcile maps externally reported payment state onto our local
// invoice status vocabulary. It is pure: no I/O, no clock reads, no
// database. Both the sandbox and live invoice paths derive status through
// this package, sandbox mode only swaps the data source feeding into it.
package reconcile

import (
	"fmt"
	"math"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// Status is the lifecycle state of a Lightning invoice. An invoice starts
// out PENDING, moves to CHECKED or EXPIRED on a status probe, and ends in
// PAID or FAILED. CHECKED is re-entrant, a probe can return to it any
// number of times.
type Status string

const (
	PENDING Status = "PENDING"
	CHECKED Status = "CHECKED"
	EXPIRED Status = "EXPIRED"
	PAID    Status = "PAID"
	FAILED  Status = "FAILED"
)

// MarshalText overrides the status to print lowercase over JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(string(s))), nil
}

// UnmarshalText reads a lowercase status into the uppercase DB form
func (s *Status) UnmarshalText(text []byte) error {
	status := Status(strings.ToUpper(string(text)))
	switch status {
	case PENDING, CHECKED, EXPIRED, PAID, FAILED:
		*s = status
		return nil
	default:
		return fmt.Errorf("invalid status: %s", text)
	}
}

// ProbeSignal is what a payment-initiation probe tells us about an
// invoice: the flags the provider reported, plus whether the invoice had
// already expired by our own clock when the probe was made.
type ProbeSignal struct {
	LocallyExpired bool
	IsExpired      bool
	IsPaid         bool
}

// FromProbe maps a status probe onto a local status. Local expiry always
// wins over whatever the provider reports.
func FromProbe(signal ProbeSignal) Status {
	switch {
	case signal.LocallyExpired || signal.IsExpired:
		return EXPIRED
	case signal.IsPaid:
		return PAID
	default:
		return CHECKED
	}
}

// PaymentSignal is what a pay submission tells us: the provider's own
// transaction status vocabulary, plus local expiry at call time.
type PaymentSignal struct {
	LocallyExpired bool
	ProviderStatus string
}

// FromPayment maps the provider's transaction status onto a local status.
// Unknown provider statuses map to CHECKED so an unexpected vocabulary
// change never parks an invoice in a terminal state. Local expiry always
// wins.
func FromPayment(signal PaymentSignal) Status {
	if signal.LocallyExpired {
		return EXPIRED
	}
	switch strings.ToLower(signal.ProviderStatus) {
	case "pending":
		return CHECKED
	case "confirmed":
		return PAID
	case "failed":
		return FAILED
	default:
		return CHECKED
	}
}

// sandboxPrefix marks a payment request as synthetic. Requests carrying it
// are settled locally without ever contacting the provider.
const sandboxPrefix = "lnmock"

// IsSandbox reports whether the given payment request is a synthetic test
// request rather than a real BOLT11 invoice.
func IsSandbox(request string) bool {
	return strings.HasPrefix(strings.ToLower(request), sandboxPrefix)
}

// Synthetic is a transaction summary fabricated from a sandbox request.
type Synthetic struct {
	AmountSat int64
	FeeSat    int64
	BtcAmount float64
}

// Synthesize fabricates a transaction summary from a sandbox request by
// parsing the first run of digits in the request string as a satoshi
// amount. The fee is 0.5 percent of the amount, rounded up.
func Synthesize(request string) (Synthetic, error) {
	if !IsSandbox(request) {
		return Synthetic{}, errors.Errorf("not a sandbox request: %s", request)
	}

	var amount int64
	inDigits := false
	for _, r := range request {
		if r >= '0' && r <= '9' {
			inDigits = true
			amount = amount*10 + int64(r-'0')
			continue
		}
		if inDigits {
			break
		}
	}
	if !inDigits {
		return Synthetic{}, errors.Errorf("sandbox request carries no amount: %s", request)
	}

	fee := int64(math.Ceil(float64(amount) * 0.005))
	return Synthetic{
		AmountSat: amount,
		FeeSat:    fee,
		BtcAmount: btcutil.Amount(amount).ToBTC(),
	}, nil
}
