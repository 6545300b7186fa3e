package feed

import (
	"context"
	"fmt"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/evofunk/internal/config"
)

// quoteAsset is the asset equity is denominated in
const quoteAsset = "USDT"

// BinanceCapitalSource reports deployable account equity from a Binance
// spot account. Calls are rate limited and wrapped in a circuit breaker
// so an exchange outage degrades to skipped reallocation passes instead
// of hammering the API.
type BinanceCapitalSource struct {
	client  *binance.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewBinanceCapitalSource builds the live capital source
func NewBinanceCapitalSource(cfg *config.Config) *BinanceCapitalSource {
	if cfg.Exchange.Testnet {
		binance.UseTestnet = true
	}
	client := binance.NewClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance_account",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})

	return &BinanceCapitalSource{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.Exchange.RateLimit), 1),
		breaker: breaker,
		log:     config.NewLogger("capital"),
	}
}

// Equity returns the account's free plus locked quote-asset balance
func (b *BinanceCapitalSource) Equity(ctx context.Context) (decimal.Decimal, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		account, err := b.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return nil, err
		}
		for _, balance := range account.Balances {
			if balance.Asset != quoteAsset {
				continue
			}
			free, err := decimal.NewFromString(balance.Free)
			if err != nil {
				return nil, fmt.Errorf("failed to parse free balance: %w", err)
			}
			locked, err := decimal.NewFromString(balance.Locked)
			if err != nil {
				return nil, fmt.Errorf("failed to parse locked balance: %w", err)
			}
			return free.Add(locked), nil
		}
		return decimal.Zero, nil
	})
	if err != nil {
		b.log.Warn().Err(err).Str("state", b.breaker.State().String()).
			Msg("Equity lookup failed")
		return decimal.Zero, fmt.Errorf("exchange equity lookup failed: %w", err)
	}
	return result.(decimal.Decimal), nil
}

// PaperCapitalSource reports a fixed configured equity for paper mode
type PaperCapitalSource struct {
	equity decimal.Decimal
}

// NewPaperCapitalSource builds a capital source with constant equity
func NewPaperCapitalSource(equity float64) *PaperCapitalSource {
	return &PaperCapitalSource{equity: decimal.NewFromFloat(equity)}
}

func (p *PaperCapitalSource) Equity(ctx context.Context) (decimal.Decimal, error) {
	return p.equity, nil
}
