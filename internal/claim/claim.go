// Package claim parses payment headers into a typed, unverified payment claim.
package claim

import (
	"net/http"
	"strings"

	"github.com/kmw384/paygate/internal/validation"
)

// Network identifies a supported payment network.
type Network string

const (
	NetworkSolana Network = "solana"
	NetworkBase   Network = "base"
)

// Headers carrying the payment proof.
const (
	HeaderTx      = "X-Payment-Tx"
	HeaderNetwork = "X-Payment-Network"
)

// Claim is a parsed but unverified payment proof. Trust is established
// later by the chain verifier, never here.
type Claim struct {
	TxID    string
	Network Network
}

// maxTxIDLen bounds header values before any parsing. The longest legal
// identifier is an 88-char solana signature.
const maxTxIDLen = 128

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func isBase58(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return len(s) > 0
}

// InferNetwork classifies a transaction identifier by shape:
// a 0x-prefixed 64-hex hash is EVM-style (base), an 87-88 character
// base58 string is a solana signature. Returns "" when neither matches.
func InferNetwork(txID string) Network {
	if validation.IsValidEthTxHash(txID) {
		return NetworkBase
	}
	if n := len(txID); n >= 87 && n <= 88 && isBase58(txID) {
		return NetworkSolana
	}
	return ""
}

// Extract reads the payment headers from a request. Returns nil when no
// transaction header is present — the caller treats that as "no payment
// offered", not an error.
//
// A supplied network header wins even when the identifier's shape looks
// inconsistent with it; ultimate validity is the verifier's call.
func Extract(h http.Header) *Claim {
	txID := validation.SanitizeString(h.Get(HeaderTx), maxTxIDLen)
	if txID == "" {
		return nil
	}

	network := Network(strings.ToLower(strings.TrimSpace(h.Get(HeaderNetwork))))
	switch network {
	case NetworkSolana, NetworkBase:
		return &Claim{TxID: txID, Network: network}
	}

	return &Claim{TxID: txID, Network: InferNetwork(txID)}
}
