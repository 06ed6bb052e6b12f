package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// OKX reads the last traded price of the <ASSET>-USDT spot instrument.
type OKX struct {
	httpGetter
}

// NewOKX creates a client. baseURL is e.g. "https://www.okx.com".
func NewOKX(baseURL string) *OKX {
	return &OKX{httpGetter: newHTTPGetter(baseURL)}
}

func (o *OKX) Name() string { return "okx" }

func (o *OKX) Price(ctx context.Context, asset string) (float64, error) {
	params := url.Values{}
	params.Set("instId", strings.ToUpper(asset)+"-USDT")

	body, err := o.doGet(ctx, "/api/v5/market/ticker?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("oracle/okx: get ticker %s: %w", asset, err)
	}

	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			InstID string `json:"instId"`
			Last   string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("oracle/okx: decode ticker: %w", err)
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("oracle/okx: %w: empty ticker for %s (code=%s msg=%s)", domain.ErrNotFound, asset, resp.Code, resp.Msg)
	}

	price, err := parsePrice(resp.Data[0].Last)
	if err != nil {
		return 0, fmt.Errorf("oracle/okx: %w", err)
	}
	return price, nil
}
