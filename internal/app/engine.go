package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/leverage"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/nonce"
	"github.com/alanyoungcy/perpbot/internal/oracle"
	"github.com/alanyoungcy/perpbot/internal/platform/lighter"
	"github.com/alanyoungcy/perpbot/internal/service"
)

// engine is the assembled trade pipeline.
type engine struct {
	client   *lighter.Client
	resolver *market.Resolver
	oracle   *oracle.Waterfall
	trades   *service.TradeService
}

// newVenueClient builds the venue client. A signer is only loaded when the
// mode submits transactions.
func (a *App) newVenueClient() (*lighter.Client, error) {
	var signer lighter.TxSigner
	if a.cfg.NeedsSigner() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
			Slot:             a.keySlot(),
		})
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		s, err := crypto.NewSigner(key, a.cfg.Wallet.ChainID)
		if err != nil {
			return nil, fmt.Errorf("signer: %w", err)
		}
		signer = s
	}
	return lighter.New(lighter.Config{
		BaseURL:      a.cfg.Venue.BaseURL,
		AccountIndex: a.cfg.Venue.AccountIndex,
		APIKeyIndex:  uint8(a.cfg.Venue.APIKeyIndex),
		Timeout:      a.cfg.Venue.Timeout.Duration,
		TxTTL:        a.cfg.Venue.TxTTL.Duration,
		OrderTTL:     a.cfg.Venue.OrderTTL.Duration,
	}, signer, a.logger), nil
}

func (a *App) keySlot() crypto.Slot {
	return crypto.Slot{
		AccountIndex: a.cfg.Venue.AccountIndex,
		APIKeyIndex:  uint8(a.cfg.Venue.APIKeyIndex),
	}
}

func (a *App) newResolver(client *lighter.Client, deps *Dependencies) *market.Resolver {
	r := market.NewResolver(client, a.cfg.Venue.MarketsTimeout.Duration, a.logger)
	if deps.MetadataCache != nil {
		r = r.WithCache(deps.MetadataCache)
	}
	return r
}

func (a *App) newOracle(deps *Dependencies) *oracle.Waterfall {
	providers := newProviders(a.cfg.Oracle)
	w := oracle.NewWaterfall(providers, a.cfg.Oracle.Timeout.Duration, a.logger)
	if deps.PriceCache != nil {
		w = w.WithCache(deps.PriceCache, a.cfg.Oracle.CacheMaxAge.Duration)
	}
	return w
}

// newProviders returns the configured price providers in ask order.
func newProviders(cfg config.OracleConfig) []oracle.Provider {
	out := make([]oracle.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "coingecko":
			out = append(out, oracle.NewCoinGecko(cfg.CoinGeckoURL, cfg.CoinGeckoIDs))
		case "binance":
			out = append(out, oracle.NewBinance(cfg.BinanceURL))
		case "okx":
			out = append(out, oracle.NewOKX(cfg.OKXURL))
		}
	}
	return out
}

// buildEngine wires the venue client, resolver, oracle, leverage configurer
// and retrier into a TradeService with every enabled reporting sink.
func (a *App) buildEngine(deps *Dependencies) (*engine, error) {
	client, err := a.newVenueClient()
	if err != nil {
		return nil, err
	}
	resolver := a.newResolver(client, deps)
	prices := a.newOracle(deps)

	retrier := executor.NewRetrier(nonce.New(), executor.RetryConfig{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay.Duration,
	}, a.logger)

	svc := service.NewTradeService(
		resolver,
		prices,
		leverage.NewConfigurer(client, a.logger),
		retrier,
		client,
		a.logger,
	).WithReporter(a.newReporter(deps))

	if risk := a.newRisk(deps); risk != nil {
		svc = svc.WithRisk(risk)
	}

	if deps.LockManager != nil {
		key := "trade:" + strconv.FormatInt(a.cfg.Venue.AccountIndex, 10)
		svc = svc.WithLock(deps.LockManager, key, a.cfg.Trade.LockTTL.Duration)
	}

	return &engine{client: client, resolver: resolver, oracle: prices, trades: svc}, nil
}

// newRisk returns nil when no limit is configured.
func (a *App) newRisk(deps *Dependencies) *service.RiskService {
	rc := a.cfg.Risk
	if rc.MaxNotionalUSD == 0 && rc.MaxLeverage == 0 && rc.MaxDailyNotionalUSD == 0 && len(rc.AllowedSymbols) == 0 {
		return nil
	}
	return service.NewRiskService(deps.TradeStore, service.RiskConfig{
		MaxNotionalUSD:      rc.MaxNotionalUSD,
		MaxLeverage:         rc.MaxLeverage,
		MaxDailyNotionalUSD: rc.MaxDailyNotionalUSD,
		AllowedSymbols:      rc.AllowedSymbols,
	}, a.logger)
}

func (a *App) newReporter(deps *Dependencies) *service.Reporter {
	r := service.NewReporter(a.logger)
	if deps.TradeStore != nil {
		r = r.WithStore(deps.TradeStore)
	}
	if deps.SignalBus != nil {
		r = r.WithBus(deps.SignalBus)
	}
	if deps.AuditStore != nil {
		r = r.WithAudit(deps.AuditStore)
	}
	if deps.BlobWriter != nil {
		r = r.WithReceipts(deps.BlobWriter, a.cfg.S3.Prefix)
	}
	if deps.Notifier.Enabled() {
		r = r.WithNotifier(deps.Notifier)
	}
	return r
}

// intentFromConfig converts the configured trade section into an intent.
func intentFromConfig(tc config.TradeConfig) (domain.OrderIntent, error) {
	isAsk, err := config.ParseSide(tc.Side)
	if err != nil {
		return domain.OrderIntent{}, fmt.Errorf("%w: %v", domain.ErrInvalidIntent, err)
	}
	return domain.OrderIntent{
		Symbol:        tc.Symbol,
		USDMargin:     tc.USDMargin,
		Leverage:      tc.Leverage,
		IsAsk:         isAsk,
		TakeProfitPct: tc.TakeProfitPct,
		StopLossPct:   tc.StopLossPct,
		MarginMode:    leverage.ParseMarginMode(tc.MarginMode),
	}, nil
}
