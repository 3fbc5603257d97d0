// Package verify checks payment claims against their source chain.
//
// Verifiers are pure with respect to process state: they make RPC calls
// but never touch the replay guard or rate limiter. All RPC failures
// fail closed as OutcomeRpcUnavailable, never as a silent accept.
package verify

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kmw384/paygate/internal/claim"
)

// Outcome classifies a verification attempt.
type Outcome int

const (
	// OutcomeRpcUnavailable is deliberately the zero value: a Result a
	// verifier never filled in reads as a failure, not an accept.
	OutcomeRpcUnavailable Outcome = iota
	OutcomeAccepted
	// OutcomePending means the transaction was not found yet. The client
	// should retry after confirmation; the server never retries.
	OutcomePending
	OutcomeAmountMismatch
	OutcomeRecipientMismatch
	// OutcomeTxFailed covers reverted/errored transactions and
	// identifiers that cannot be parsed for the claimed network.
	OutcomeTxFailed
)

// Reason returns the stable reason code used in HTTP error bodies.
func (o Outcome) Reason() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomePending:
		return "payment_pending"
	case OutcomeAmountMismatch:
		return "amount_mismatch"
	case OutcomeRecipientMismatch:
		return "recipient_mismatch"
	case OutcomeTxFailed:
		return "tx_failed"
	case OutcomeRpcUnavailable:
		return "rpc_unavailable"
	default:
		return "unknown"
	}
}

func (o Outcome) String() string { return o.Reason() }

// Result is the outcome of verifying a single claim.
type Result struct {
	Outcome   Outcome
	AmountUSD decimal.Decimal
	Payer     string
	Recipient string
}

// Verifier checks one network's transactions. The returned error is
// non-nil only alongside OutcomeRpcUnavailable and carries the RPC
// failure cause for logging.
type Verifier interface {
	Verify(ctx context.Context, txID string) (Result, error)
}

// Registry dispatches claims to the verifier for their network.
type Registry struct {
	verifiers map[claim.Network]Verifier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[claim.Network]Verifier)}
}

// Register adds a verifier for a network.
func (r *Registry) Register(network claim.Network, v Verifier) {
	r.verifiers[network] = v
}

// For returns the verifier for a network, or false when the network is
// unsupported or could not be inferred.
func (r *Registry) For(network claim.Network) (Verifier, bool) {
	v, ok := r.verifiers[network]
	return v, ok
}

// Networks lists registered networks, solana first for display order.
func (r *Registry) Networks() []string {
	var out []string
	for _, n := range []claim.Network{claim.NetworkSolana, claim.NetworkBase} {
		if _, ok := r.verifiers[n]; ok {
			out = append(out, string(n))
		}
	}
	return out
}
