package lighter

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Transaction types accepted by sendTx.
const (
	TxTypeCreateOrder      uint8 = 14
	TxTypeUpdateLeverage   uint8 = 20
	TxTypeUpdateMarginMode uint8 = 29
)

// Order types.
const (
	OrderTypeLimit           uint8 = 0
	OrderTypeMarket          uint8 = 1
	OrderTypeStopLoss        uint8 = 2
	OrderTypeStopLossLimit   uint8 = 3
	OrderTypeTakeProfit      uint8 = 4
	OrderTypeTakeProfitLimit uint8 = 5
)

// Time in force.
const (
	TimeInForceIOC      uint8 = 0
	TimeInForceGTT      uint8 = 1
	TimeInForcePostOnly uint8 = 2
)

const (
	codeOK = 200

	// initialMarginFractionBase expresses margin fractions in basis points of
	// 1; leverage L maps to a fraction of 10000/L.
	initialMarginFractionBase = 10_000
)

// APIResponse is the envelope returned by every endpoint.
type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// SendTxResponse is returned by sendTx.
type SendTxResponse struct {
	APIResponse
	TxHash string `json:"tx_hash,omitempty"`
}

// ToDomain converts the response into a domain.TxResponse.
func (r SendTxResponse) ToDomain() *domain.TxResponse {
	return &domain.TxResponse{Code: r.Code, Message: r.Message, TxHash: r.TxHash}
}

// NextNonceResponse is returned by nextNonce.
type NextNonceResponse struct {
	APIResponse
	Nonce int64 `json:"nonce"`
}

// createOrderInfo is the signed body of a create-order tx.
type createOrderInfo struct {
	AccountIndex     int64  `json:"AccountIndex"`
	APIKeyIndex      uint8  `json:"ApiKeyIndex"`
	MarketIndex      int64  `json:"MarketIndex"`
	ClientOrderIndex int64  `json:"ClientOrderIndex"`
	BaseAmount       int64  `json:"BaseAmount"`
	Price            int64  `json:"Price"`
	IsAsk            uint8  `json:"IsAsk"`
	Type             uint8  `json:"Type"`
	TimeInForce      uint8  `json:"TimeInForce"`
	ReduceOnly       uint8  `json:"ReduceOnly"`
	TriggerPrice     int64  `json:"TriggerPrice"`
	OrderExpiry      int64  `json:"OrderExpiry"`
	ExpiredAt        int64  `json:"ExpiredAt"`
	Nonce            int64  `json:"Nonce"`
	Sig              string `json:"Sig,omitempty"`
}

// updateLeverageInfo is the signed body of an update-leverage tx. A nil
// MarginMode leaves the current mode untouched.
type updateLeverageInfo struct {
	AccountIndex          int64  `json:"AccountIndex"`
	APIKeyIndex           uint8  `json:"ApiKeyIndex"`
	MarketIndex           int64  `json:"MarketIndex"`
	InitialMarginFraction int64  `json:"InitialMarginFraction"`
	MarginMode            *uint8 `json:"MarginMode,omitempty"`
	ExpiredAt             int64  `json:"ExpiredAt"`
	Nonce                 int64  `json:"Nonce"`
	Sig                   string `json:"Sig,omitempty"`
}

// updateMarginModeInfo is the signed body of a margin-mode tx.
type updateMarginModeInfo struct {
	AccountIndex int64  `json:"AccountIndex"`
	APIKeyIndex  uint8  `json:"ApiKeyIndex"`
	MarketIndex  int64  `json:"MarketIndex"`
	MarginMode   uint8  `json:"MarginMode"`
	ExpiredAt    int64  `json:"ExpiredAt"`
	Nonce        int64  `json:"Nonce"`
	Sig          string `json:"Sig,omitempty"`
}

// VenueError is a rejection reported in the response body.
type VenueError struct {
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("lighter: code %d: %s", e.Code, e.Message)
}

// Unwrap classifies the rejection for errors.Is.
func (e *VenueError) Unwrap() error {
	if strings.Contains(strings.ToLower(e.Message), "invalid nonce") {
		return domain.ErrNonceConflict
	}
	return domain.ErrSubmission
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
