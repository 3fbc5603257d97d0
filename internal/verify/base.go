package verify

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/kmw384/paygate/internal/token"
	"github.com/kmw384/paygate/internal/validation"
)

// transferTopic is the keccak256 signature of the ERC-20 Transfer event.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// BaseVerifier verifies USDC transfers on Base by decoding the Transfer
// event log from the transaction receipt.
type BaseVerifier struct {
	client    EthClient
	contract  common.Address
	recipient common.Address
	priceUSD  decimal.Decimal
}

// BaseConfig configures a BaseVerifier.
type BaseConfig struct {
	RPCURL       string
	USDCContract string
	Recipient    string
	PriceUSD     decimal.Decimal
}

// BaseOption configures the verifier.
type BaseOption func(*BaseVerifier)

// WithEthClient sets a custom client (useful for testing).
func WithEthClient(client EthClient) BaseOption {
	return func(v *BaseVerifier) { v.client = client }
}

// NewBase creates a Base verifier, dialing the RPC endpoint unless a
// client is injected.
func NewBase(cfg BaseConfig, opts ...BaseOption) (*BaseVerifier, error) {
	v := &BaseVerifier{
		contract:  common.HexToAddress(cfg.USDCContract),
		recipient: common.HexToAddress(cfg.Recipient),
		priceUSD:  cfg.PriceUSD,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial base rpc: %w", err)
		}
		v.client = client
	}
	return v, nil
}

// Verify implements Verifier. A missing receipt is Pending: the
// transaction may not have propagated yet and the client can retry.
func (v *BaseVerifier) Verify(ctx context.Context, txID string) (Result, error) {
	// 0x + 64 hex chars; anything else the RPC would reject as a param.
	if !validation.IsValidEthTxHash(txID) {
		return Result{Outcome: OutcomeTxFailed}, nil
	}

	receipt, err := v.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if errors.Is(err, ethereum.NotFound) {
		return Result{Outcome: OutcomePending}, nil
	}
	if err != nil {
		return Result{Outcome: OutcomeRpcUnavailable}, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return Result{Outcome: OutcomeTxFailed}, nil
	}

	// Find the Transfer event on the configured token contract whose
	// destination is the required recipient.
	var (
		payer     common.Address
		amountRaw *big.Int
	)
	for _, lg := range receipt.Logs {
		if lg.Address != v.contract {
			continue
		}
		if len(lg.Topics) < 3 || lg.Topics[0] != transferTopic {
			continue
		}

		to := common.HexToAddress(lg.Topics[2].Hex())
		if to != v.recipient {
			continue
		}

		payer = common.HexToAddress(lg.Topics[1].Hex())
		amountRaw = new(big.Int).SetBytes(lg.Data)
		break
	}

	// No transfer of the token into our wallet: payment went elsewhere.
	if amountRaw == nil {
		return Result{Outcome: OutcomeRecipientMismatch}, nil
	}

	amountUSD := token.FromRaw(amountRaw, token.Decimals)
	res := Result{
		AmountUSD: amountUSD,
		Payer:     payer.Hex(),
		Recipient: v.recipient.Hex(),
	}
	if !token.MeetsPrice(amountUSD, v.priceUSD) {
		res.Outcome = OutcomeAmountMismatch
		return res, nil
	}
	res.Outcome = OutcomeAccepted
	return res, nil
}

// Ping checks RPC reachability by requesting a receipt for the zero
// hash. A not-found answer still proves the endpoint responded.
func (v *BaseVerifier) Ping(ctx context.Context) error {
	_, err := v.client.TransactionReceipt(ctx, common.Hash{})
	if err == nil || errors.Is(err, ethereum.NotFound) {
		return nil
	}
	return err
}

// Close releases the underlying RPC connection.
func (v *BaseVerifier) Close() {
	if v.client != nil {
		v.client.Close()
	}
}
