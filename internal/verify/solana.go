package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/kmw384/paygate/internal/token"
)

// SolanaRPC abstracts the solana-go RPC client for testing.
type SolanaRPC interface {
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// SolanaVerifier verifies SPL token payments by computing the
// recipient's token balance delta across the transaction.
type SolanaVerifier struct {
	client    SolanaRPC
	mint      solana.PublicKey
	recipient solana.PublicKey
	priceUSD  decimal.Decimal
}

// SolanaConfig configures a SolanaVerifier.
type SolanaConfig struct {
	RPCURL    string
	USDCMint  string
	Recipient string
	PriceUSD  decimal.Decimal
}

// SolanaOption configures the verifier.
type SolanaOption func(*SolanaVerifier)

// WithSolanaRPC sets a custom client (useful for testing).
func WithSolanaRPC(client SolanaRPC) SolanaOption {
	return func(v *SolanaVerifier) { v.client = client }
}

// NewSolana creates a Solana verifier.
func NewSolana(cfg SolanaConfig, opts ...SolanaOption) (*SolanaVerifier, error) {
	mint, err := solana.PublicKeyFromBase58(cfg.USDCMint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(cfg.Recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	v := &SolanaVerifier{
		mint:      mint,
		recipient: recipient,
		priceUSD:  cfg.PriceUSD,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.client == nil {
		v.client = rpc.New(cfg.RPCURL)
	}
	return v, nil
}

// Verify implements Verifier. The transaction is looked up at confirmed
// commitment; a signature the RPC has not seen yet is Pending, so the
// client can retry once the transaction propagates.
func (v *SolanaVerifier) Verify(ctx context.Context, txID string) (Result, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return Result{Outcome: OutcomeTxFailed}, nil
	}

	maxVersion := uint64(0)
	res, err := v.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return Result{Outcome: OutcomePending}, nil
	}
	if err != nil {
		return Result{Outcome: OutcomeRpcUnavailable}, fmt.Errorf("get transaction: %w", err)
	}
	if res == nil || res.Meta == nil {
		// Malformed response: fail closed, never accept.
		return Result{Outcome: OutcomeRpcUnavailable}, errors.New("transaction meta missing")
	}
	if res.Meta.Err != nil {
		return Result{Outcome: OutcomeTxFailed}, nil
	}

	pre := v.ownedBalance(res.Meta.PreTokenBalances)
	post := v.ownedBalance(res.Meta.PostTokenBalances)
	delta := post.Sub(pre)

	// The recipient's token accounts gained nothing: payment went elsewhere.
	if !delta.IsPositive() {
		return Result{Outcome: OutcomeRecipientMismatch}, nil
	}

	result := Result{
		AmountUSD: delta,
		Payer:     v.debitedOwner(res.Meta.PreTokenBalances, res.Meta.PostTokenBalances),
		Recipient: v.recipient.String(),
	}
	if !token.MeetsPrice(delta, v.priceUSD) {
		result.Outcome = OutcomeAmountMismatch
		return result, nil
	}
	result.Outcome = OutcomeAccepted
	return result, nil
}

// Ping checks RPC reachability by looking up the zero signature. A
// not-found answer still proves the endpoint responded.
func (v *SolanaVerifier) Ping(ctx context.Context) error {
	maxVersion := uint64(0)
	_, err := v.client.GetTransaction(ctx, solana.Signature{}, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err == nil || errors.Is(err, rpc.ErrNotFound) {
		return nil
	}
	return err
}

// ownedBalance sums the recipient-owned balances of the configured mint.
func (v *SolanaVerifier) ownedBalance(balances []rpc.TokenBalance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		owner, amt, ok := v.mintBalance(b)
		if !ok || !owner.Equals(v.recipient) {
			continue
		}
		total = total.Add(amt)
	}
	return total
}

// debitedOwner returns the non-recipient owner whose balance of the mint
// dropped the most across the transaction, or "" when none did (the
// sender paid from a token account the balance lists don't attribute).
func (v *SolanaVerifier) debitedOwner(pre, post []rpc.TokenBalance) string {
	deltas := make(map[solana.PublicKey]decimal.Decimal)
	for _, b := range pre {
		if owner, amt, ok := v.mintBalance(b); ok {
			deltas[owner] = deltas[owner].Sub(amt)
		}
	}
	for _, b := range post {
		if owner, amt, ok := v.mintBalance(b); ok {
			deltas[owner] = deltas[owner].Add(amt)
		}
	}

	var payer string
	largest := decimal.Zero
	for owner, d := range deltas {
		if owner.Equals(v.recipient) {
			continue
		}
		if d.LessThan(largest) {
			largest = d
			payer = owner.String()
		}
	}
	return payer
}

// mintBalance extracts (owner, amount) from a balance entry of the
// configured mint.
func (v *SolanaVerifier) mintBalance(b rpc.TokenBalance) (solana.PublicKey, decimal.Decimal, bool) {
	if !b.Mint.Equals(v.mint) || b.Owner == nil || b.UiTokenAmount == nil {
		return solana.PublicKey{}, decimal.Zero, false
	}
	amt, ok := token.FromRawString(b.UiTokenAmount.Amount, int32(b.UiTokenAmount.Decimals))
	if !ok {
		return solana.PublicKey{}, decimal.Zero, false
	}
	return *b.Owner, amt, true
}
