package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMint       = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU" // devnet USDC
	testSolRecip   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSolPayer   = "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi"
	testSolanaSig  = "2Ana1pUpv2ZbMVkwF5FXapYeBEjdxDatLn7nvJkhgTSXbs59SyZSx866bXirPgj8QQVB57uxHJBG1YFvkRbFj4T"
	testOtherOwner = "3Kp5P4cZy1Wa4rtLdRGJhuSBb9JuzxhvdY1YTvrPVGyv"
)

type fakeSolanaRPC struct {
	result *rpc.GetTransactionResult
	err    error

	gotOpts *rpc.GetTransactionOpts
}

func (f *fakeSolanaRPC) GetTransaction(_ context.Context, _ solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.gotOpts = opts
	return f.result, f.err
}

// tokenBalance builds a TokenBalance entry for the given mint and owner.
func tokenBalance(mint, owner, rawAmount string) rpc.TokenBalance {
	ownerKey := solana.MustPublicKeyFromBase58(owner)
	return rpc.TokenBalance{
		Mint:  solana.MustPublicKeyFromBase58(mint),
		Owner: &ownerKey,
		UiTokenAmount: &rpc.UiTokenAmount{
			Amount:   rawAmount,
			Decimals: 6,
		},
	}
}

// settledTx builds a confirmed transaction result where the recipient's
// token balance moved from preRaw to postRaw.
func settledTx(preRaw, postRaw string) *rpc.GetTransactionResult {
	return &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalance(testMint, testSolRecip, preRaw),
				tokenBalance(testMint, testSolPayer, "900000"),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(testMint, testSolRecip, postRaw),
				tokenBalance(testMint, testSolPayer, "895000"),
			},
		},
	}
}

func newSolanaVerifier(t *testing.T, client SolanaRPC) *SolanaVerifier {
	t.Helper()
	v, err := NewSolana(SolanaConfig{
		USDCMint:  testMint,
		Recipient: testSolRecip,
		PriceUSD:  decimal.RequireFromString("0.005"),
	}, WithSolanaRPC(client))
	require.NoError(t, err)
	return v
}

func TestSolanaVerify_Accepted(t *testing.T) {
	client := &fakeSolanaRPC{result: settledTx("100000", "105000")} // +0.005
	v := newSolanaVerifier(t, client)

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.True(t, res.AmountUSD.Equal(decimal.RequireFromString("0.005")))
	assert.Equal(t, testSolPayer, res.Payer)
	assert.Equal(t, testSolRecip, res.Recipient)

	// Lookup must use confirmed commitment.
	require.NotNil(t, client.gotOpts)
	assert.Equal(t, rpc.CommitmentConfirmed, client.gotOpts.Commitment)
}

func TestSolanaVerify_PayerUnattributable(t *testing.T) {
	// Balance lists only show the recipient side; payer stays empty.
	result := &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalance(testMint, testSolRecip, "100000"),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(testMint, testSolRecip, "105000"),
			},
		},
	}
	v := newSolanaVerifier(t, &fakeSolanaRPC{result: result})

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Empty(t, res.Payer)
}

func TestSolanaVerify_NoPriorBalanceEntry(t *testing.T) {
	// Recipient's token account created by this tx: no pre entry at all.
	result := &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(testMint, testSolRecip, "5000"),
			},
		},
	}
	v := newSolanaVerifier(t, &fakeSolanaRPC{result: result})

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
}

func TestSolanaVerify_AmountMismatch(t *testing.T) {
	v := newSolanaVerifier(t, &fakeSolanaRPC{result: settledTx("100000", "102500")}) // +0.0025

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmountMismatch, res.Outcome)
}

func TestSolanaVerify_RecipientMismatch(t *testing.T) {
	// Token moved, but to a different owner.
	result := &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalance(testMint, testOtherOwner, "0"),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(testMint, testOtherOwner, "5000"),
			},
		},
	}
	v := newSolanaVerifier(t, &fakeSolanaRPC{result: result})

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecipientMismatch, res.Outcome)
}

func TestSolanaVerify_IgnoresOtherMints(t *testing.T) {
	otherMint := "So11111111111111111111111111111111111111112"
	result := &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalance(otherMint, testSolRecip, "0"),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(otherMint, testSolRecip, "5000"),
			},
		},
	}
	v := newSolanaVerifier(t, &fakeSolanaRPC{result: result})

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecipientMismatch, res.Outcome)
}

func TestSolanaVerify_PendingWhenNotFound(t *testing.T) {
	v := newSolanaVerifier(t, &fakeSolanaRPC{err: rpc.ErrNotFound})

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
}

func TestSolanaVerify_FailedTransaction(t *testing.T) {
	result := settledTx("100000", "105000")
	result.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	v := newSolanaVerifier(t, &fakeSolanaRPC{result: result})

	res, err := v.Verify(context.Background(), testSolanaSig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTxFailed, res.Outcome)
}

func TestSolanaVerify_RpcErrorFailsClosed(t *testing.T) {
	v := newSolanaVerifier(t, &fakeSolanaRPC{err: errors.New("429 too many requests")})

	res, err := v.Verify(context.Background(), testSolanaSig)
	assert.Error(t, err)
	assert.Equal(t, OutcomeRpcUnavailable, res.Outcome)
}

func TestSolanaVerify_MissingMetaFailsClosed(t *testing.T) {
	v := newSolanaVerifier(t, &fakeSolanaRPC{result: &rpc.GetTransactionResult{}})

	res, err := v.Verify(context.Background(), testSolanaSig)
	assert.Error(t, err)
	assert.Equal(t, OutcomeRpcUnavailable, res.Outcome)
}

func TestSolanaVerify_MalformedSignature(t *testing.T) {
	v := newSolanaVerifier(t, &fakeSolanaRPC{err: errors.New("should never be called")})

	res, err := v.Verify(context.Background(), "l0IO-not-base58")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTxFailed, res.Outcome)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	sol := newSolanaVerifier(t, &fakeSolanaRPC{})
	r.Register("solana", sol)

	got, ok := r.For("solana")
	require.True(t, ok)
	assert.Same(t, sol, got)

	_, ok = r.For("base")
	assert.False(t, ok)

	_, ok = r.For("")
	assert.False(t, ok)

	assert.Equal(t, []string{"solana"}, r.Networks())
}
