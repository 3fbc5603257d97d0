// Package gate implements the payment admission middleware.
//
// Each request walks a fixed pipeline: extract the payment claim,
// verify it on-chain, then consume it in the replay store. The store is
// only touched after verification accepts, so a rejected claim can be
// retried by the client without burning the transaction.
package gate

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kmw384/paygate/internal/claim"
	"github.com/kmw384/paygate/internal/logging"
	"github.com/kmw384/paygate/internal/metrics"
	"github.com/kmw384/paygate/internal/replay"
	"github.com/kmw384/paygate/internal/traces"
	"github.com/kmw384/paygate/internal/verify"
)

// Response headers set on settled requests.
const (
	HeaderSettled = "X-Payment-Settled"
	HeaderTx      = "X-Payment-Tx"
)

// Gin context keys for downstream handlers.
const (
	ctxKeyClaim  = "payment_claim"
	ctxKeyResult = "payment_result"
)

// Config for the gate middleware.
type Config struct {
	// PriceUSD is the required price per request.
	PriceUSD decimal.Decimal
	// Wallets maps each enabled network to its recipient address,
	// included in the 402 payment instructions.
	Wallets map[claim.Network]string
	// Registry dispatches claims to chain verifiers.
	Registry *verify.Registry
	// Replay is the consumed-transaction store.
	Replay replay.Store
	// VerifyTimeout bounds each on-chain verification.
	VerifyTimeout time.Duration

	// Endpoint and Description fill the payment instructions.
	Endpoint    string
	Description string

	// Hooks, optional.
	OnGranted func(cl *claim.Claim, res verify.Result)
	OnDenied  func(cl *claim.Claim, reason string)
}

// hints give clients a next step for each denial reason.
var hints = map[string]string{
	"payment_required":   "pay the listed price to one of the listed wallets and retry with the X-Payment-Tx header",
	"unknown_network":    "transaction id is not recognizable as any supported network; set X-Payment-Network explicitly",
	"payment_pending":    "transaction not confirmed yet; retry in a few seconds with the same tx",
	"amount_mismatch":    "transferred amount is below the required price",
	"recipient_mismatch": "transfer did not reach the payment wallet",
	"tx_failed":          "transaction failed on-chain or is malformed",
	"already_used":       "this transaction was already redeemed; send a new payment",
	"rpc_unavailable":    "chain RPC is unavailable; retry shortly",
}

// Middleware returns the admission gate. Requests reaching c.Next()
// have a settled, first-use payment.
func Middleware(cfg Config) gin.HandlerFunc {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 15 * time.Second
	}

	return func(c *gin.Context) {
		log := logging.L(c.Request.Context())

		cl := claim.Extract(c.Request.Header)
		if cl == nil {
			deny(c, cfg, nil, "payment_required")
			paymentInstructions(c, cfg)
			return
		}

		if cl.Network == "" {
			deny(c, cfg, cl, "unknown_network")
			denialBody(c, "unknown_network")
			return
		}

		verifier, ok := cfg.Registry.For(cl.Network)
		if !ok {
			deny(c, cfg, cl, "unknown_network")
			denialBody(c, "unknown_network")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.VerifyTimeout)
		defer cancel()

		ctx, span := traces.StartSpan(ctx, "gate.verify",
			traces.Network(string(cl.Network)), traces.TxID(cl.TxID))
		start := time.Now()
		res, err := verifier.Verify(ctx, cl.TxID)
		span.SetAttributes(traces.Reason(res.Outcome.Reason()))
		span.End()
		metrics.VerificationDuration.WithLabelValues(string(cl.Network)).Observe(time.Since(start).Seconds())
		metrics.VerificationsTotal.WithLabelValues(string(cl.Network), res.Outcome.Reason()).Inc()
		if err != nil {
			log.Warn("chain verification unavailable",
				"network", cl.Network,
				"tx", cl.TxID,
				"error", err)
		}

		if res.Outcome != verify.OutcomeAccepted {
			reason := res.Outcome.Reason()
			deny(c, cfg, cl, reason)
			denialBody(c, reason)
			return
		}

		if !cfg.Replay.Consume(string(cl.Network), cl.TxID) {
			deny(c, cfg, cl, "already_used")
			denialBody(c, "already_used")
			return
		}

		metrics.GateDecisionsTotal.WithLabelValues("granted").Inc()
		if cfg.OnGranted != nil {
			cfg.OnGranted(cl, res)
		}
		log.Info("payment settled",
			"network", cl.Network,
			"tx", cl.TxID,
			"amount_usd", res.AmountUSD.String())

		c.Header(HeaderSettled, "true")
		c.Header(HeaderTx, cl.TxID)
		c.Set(ctxKeyClaim, cl)
		c.Set(ctxKeyResult, res)

		c.Next()
	}
}

func deny(c *gin.Context, cfg Config, cl *claim.Claim, reason string) {
	metrics.GateDecisionsTotal.WithLabelValues(reason).Inc()
	if cfg.OnDenied != nil {
		cfg.OnDenied(cl, reason)
	}
}

// paymentInstructions is the distinguished 402 for requests carrying no
// claim at all: not an error, an invitation to pay.
func paymentInstructions(c *gin.Context, cfg Config) {
	wallets := make(map[string]string, len(cfg.Wallets))
	for network, addr := range cfg.Wallets {
		wallets[string(network)] = addr
	}

	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"price":       cfg.PriceUSD.String(),
		"wallet":      wallets,
		"networks":    cfg.Registry.Networks(),
		"endpoint":    cfg.Endpoint,
		"description": cfg.Description,
		"schema": gin.H{
			"headers": gin.H{
				claim.HeaderTx:      "transaction id of the payment",
				claim.HeaderNetwork: "solana or base; inferred from the tx shape when omitted",
			},
		},
	})
}

func denialBody(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"error":  "payment not accepted",
		"reason": reason,
		"hint":   hints[reason],
	})
}

// Claim returns the settled claim for the current request, if any.
func Claim(c *gin.Context) *claim.Claim {
	if v, ok := c.Get(ctxKeyClaim); ok {
		return v.(*claim.Claim)
	}
	return nil
}

// Result returns the verification result for the current request.
func Result(c *gin.Context) (verify.Result, bool) {
	if v, ok := c.Get(ctxKeyResult); ok {
		return v.(verify.Result), true
	}
	return verify.Result{}, false
}
