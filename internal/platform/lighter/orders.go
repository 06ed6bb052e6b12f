package lighter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// SubmitMarketOrder places an immediate-or-cancel market order. req.Price is
// the worst acceptable average execution price.
func (c *Client) SubmitMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	return c.createOrder(ctx, req, OrderTypeMarket, TimeInForceIOC, 0)
}

// SubmitTriggerOrder places a take-profit or stop-loss limit order that
// rests until req.TriggerPrice is crossed.
func (c *Client) SubmitTriggerOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	var orderType uint8
	switch req.Kind {
	case domain.OrderKindTakeProfit:
		orderType = OrderTypeTakeProfitLimit
	case domain.OrderKindStopLoss:
		orderType = OrderTypeStopLossLimit
	default:
		return domain.TxOutcome{}, fmt.Errorf("lighter: trigger order: unsupported kind %q", req.Kind)
	}
	return c.createOrder(ctx, req, orderType, TimeInForceGTT, c.now().Add(c.cfg.OrderTTL).UnixMilli())
}

// SubmitGenericOrder places a trigger order through the plain create-order
// path using the market-trigger order types. It is the fallback when the
// limit trigger variant is rejected.
func (c *Client) SubmitGenericOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	var orderType uint8
	switch req.Kind {
	case domain.OrderKindTakeProfit:
		orderType = OrderTypeTakeProfit
	case domain.OrderKindStopLoss:
		orderType = OrderTypeStopLoss
	case domain.OrderKindMarket:
		orderType = OrderTypeMarket
	default:
		return domain.TxOutcome{}, fmt.Errorf("lighter: generic order: unsupported kind %q", req.Kind)
	}
	expiry := int64(0)
	if orderType != OrderTypeMarket {
		expiry = c.now().Add(c.cfg.OrderTTL).UnixMilli()
	}
	return c.createOrder(ctx, req, orderType, TimeInForceIOC, expiry)
}

func (c *Client) createOrder(ctx context.Context, req domain.OrderRequest, orderType, tif uint8, expiry int64) (domain.TxOutcome, error) {
	nonce, err := c.acquireNonce(ctx)
	if err != nil {
		return domain.TxOutcome{}, err
	}

	info := &createOrderInfo{
		AccountIndex:     c.cfg.AccountIndex,
		APIKeyIndex:      c.cfg.APIKeyIndex,
		MarketIndex:      req.MarketIndex,
		ClientOrderIndex: req.ClientOrderIndex,
		BaseAmount:       req.BaseAmount,
		Price:            req.Price,
		IsAsk:            boolToUint8(req.IsAsk),
		Type:             orderType,
		TimeInForce:      tif,
		ReduceOnly:       boolToUint8(req.ReduceOnly),
		TriggerPrice:     req.TriggerPrice,
		OrderExpiry:      expiry,
		ExpiredAt:        c.now().Add(c.cfg.TxTTL).UnixMilli(),
		Nonce:            nonce,
	}

	c.logger.DebugContext(ctx, "create order",
		slog.String("kind", string(req.Kind)),
		slog.Int64("market_index", req.MarketIndex),
		slog.Int64("base_amount", req.BaseAmount),
		slog.Int64("price", req.Price),
		slog.Int64("trigger_price", req.TriggerPrice),
		slog.Bool("is_ask", req.IsAsk),
		slog.Int64("client_order_index", req.ClientOrderIndex),
		slog.Int64("nonce", nonce),
	)

	return c.sendTx(ctx, TxTypeCreateOrder, info, func(sig string) { info.Sig = sig })
}

// UpdateLeverage sets the market's leverage and, when mode is non-nil, its
// margin mode in the same tx.
func (c *Client) UpdateLeverage(ctx context.Context, marketIndex int64, leverage int, mode *domain.MarginMode) (domain.TxOutcome, error) {
	if leverage < 1 {
		return domain.TxOutcome{}, fmt.Errorf("lighter: update leverage: leverage %d must be at least 1", leverage)
	}
	nonce, err := c.acquireNonce(ctx)
	if err != nil {
		return domain.TxOutcome{}, err
	}

	info := &updateLeverageInfo{
		AccountIndex:          c.cfg.AccountIndex,
		APIKeyIndex:           c.cfg.APIKeyIndex,
		MarketIndex:           marketIndex,
		InitialMarginFraction: initialMarginFractionBase / int64(leverage),
		ExpiredAt:             c.now().Add(c.cfg.TxTTL).UnixMilli(),
		Nonce:                 nonce,
	}
	if mode != nil {
		m := uint8(*mode)
		info.MarginMode = &m
	}
	return c.sendTx(ctx, TxTypeUpdateLeverage, info, func(sig string) { info.Sig = sig })
}

// UpdateMarginMode switches the market between cross and isolated margin.
func (c *Client) UpdateMarginMode(ctx context.Context, marketIndex int64, mode domain.MarginMode) (domain.TxOutcome, error) {
	nonce, err := c.acquireNonce(ctx)
	if err != nil {
		return domain.TxOutcome{}, err
	}

	info := &updateMarginModeInfo{
		AccountIndex: c.cfg.AccountIndex,
		APIKeyIndex:  c.cfg.APIKeyIndex,
		MarketIndex:  marketIndex,
		MarginMode:   uint8(mode),
		ExpiredAt:    c.now().Add(c.cfg.TxTTL).UnixMilli(),
		Nonce:        nonce,
	}
	return c.sendTx(ctx, TxTypeUpdateMarginMode, info, func(sig string) { info.Sig = sig })
}
