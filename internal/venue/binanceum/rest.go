package binanceum

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

const (
	exchangeInfoPath = "/fapi/v1/exchangeInfo"
	balancePath      = "/fapi/v2/balance"
	positionRiskPath = "/fapi/v2/positionRisk"
	orderPath        = "/fapi/v1/order"
	listenKeyPath    = "/fapi/v1/listenKey"
)

type restError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type exchangeInfoResponse struct {
	Symbols []symbolRecord `json:"symbols"`
}

type symbolRecord struct {
	Symbol       string         `json:"symbol"`
	ContractType string         `json:"contractType"`
	Status       string         `json:"status"`
	BaseAsset    string         `json:"baseAsset"`
	QuoteAsset   string         `json:"quoteAsset"`
	Filters      []filterRecord `json:"filters"`
}

type filterRecord struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
}

type balanceRecord struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type positionRecord struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
	MarkPrice   string `json:"markPrice"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// Instruments fetches the futures trading rules for the instrument type.
func (c *Client) Instruments(ctx context.Context, typ schema.InstrumentType) ([]schema.Instrument, error) {
	if typ != schema.InstrumentTypePerpetual {
		return nil, errs.New(string(schema.VenueBinanceUM), errs.CodeInvalid,
			errs.WithMessage("unsupported instrument type "+string(typ)))
	}

	var info exchangeInfoResponse
	if err := c.get(ctx, exchangeInfoPath, nil, false, &info); err != nil {
		return nil, err
	}

	instruments := make([]schema.Instrument, 0, len(info.Symbols))
	for _, record := range info.Symbols {
		if record.ContractType != "PERPETUAL" || record.Status != "TRADING" {
			continue
		}
		inst, err := buildInstrument(record)
		if err != nil {
			continue
		}
		instruments = append(instruments, inst)
	}
	if len(instruments) == 0 {
		return nil, errs.New(string(schema.VenueBinanceUM), errs.CodeVenueData,
			errs.WithMessage("no trading perpetual symbols returned"))
	}
	return instruments, nil
}

// buildInstrument maps one exchangeInfo symbol onto the canonical form.
// Binance quantities are denominated in the base asset, so no contract
// multiplier applies.
func buildInstrument(record symbolRecord) (schema.Instrument, error) {
	var lotSize, minLmt, maxLmt, minMkt, maxMkt float64
	var haveLimit, haveMarket bool
	for _, filter := range record.Filters {
		switch filter.FilterType {
		case "LOT_SIZE":
			step, err := parseFloat(filter.StepSize)
			if err != nil {
				return schema.Instrument{}, err
			}
			minQty, err := parseFloat(filter.MinQty)
			if err != nil {
				return schema.Instrument{}, err
			}
			maxQty, err := parseFloat(filter.MaxQty)
			if err != nil {
				return schema.Instrument{}, err
			}
			lotSize, minLmt, maxLmt = step, minQty, maxQty
			haveLimit = true
		case "MARKET_LOT_SIZE":
			minQty, err := parseFloat(filter.MinQty)
			if err != nil {
				return schema.Instrument{}, err
			}
			maxQty, err := parseFloat(filter.MaxQty)
			if err != nil {
				return schema.Instrument{}, err
			}
			minMkt, maxMkt = minQty, maxQty
			haveMarket = true
		}
	}
	if !haveLimit || !haveMarket {
		return schema.Instrument{}, fmt.Errorf("symbol %s missing lot size filters", record.Symbol)
	}
	return schema.Instrument{
		Symbol:        record.Symbol,
		Venue:         schema.VenueBinanceUM,
		Type:          schema.InstrumentTypePerpetual,
		BaseCurrency:  record.BaseAsset,
		QuoteCurrency: record.QuoteAsset,
		LotSize:       lotSize,
		MinLimitSize:  minLmt,
		MaxLimitSize:  maxLmt,
		MinMarketSize: minMkt,
		MaxMarketSize: maxMkt,
	}, nil
}

// Balances fetches wallet balances, filtered to the given assets when any
// are supplied.
func (c *Client) Balances(ctx context.Context, assets []string) ([]schema.Balance, error) {
	var records []balanceRecord
	if err := c.get(ctx, balancePath, url.Values{}, true, &records); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(assets))
	for _, asset := range assets {
		wanted[strings.ToUpper(asset)] = true
	}

	var balances []schema.Balance
	for _, record := range records {
		if len(wanted) > 0 && !wanted[strings.ToUpper(record.Asset)] {
			continue
		}
		total, err := parseFloat(record.Balance)
		if err != nil {
			continue
		}
		balances = append(balances, schema.Balance{Asset: record.Asset, Total: total})
	}
	return balances, nil
}

// Positions fetches all open futures positions.
func (c *Client) Positions(ctx context.Context) ([]schema.Position, error) {
	var records []positionRecord
	if err := c.get(ctx, positionRiskPath, url.Values{}, true, &records); err != nil {
		return nil, err
	}

	positions := make([]schema.Position, 0, len(records))
	for _, record := range records {
		size, err := parseFloat(record.PositionAmt)
		if err != nil || size == 0 {
			continue
		}
		mark, err := parseFloat(record.MarkPrice)
		if err != nil {
			continue
		}
		avg, _ := parseFloat(record.EntryPrice)
		positions = append(positions, schema.Position{
			Symbol:    record.Symbol,
			Size:      size,
			MarkPrice: mark,
			AvgPrice:  avg,
		})
	}
	return positions, nil
}

// PlaceOrder submits a market order.
func (c *Client) PlaceOrder(ctx context.Context, req schema.OrderRequest) error {
	if req.Type != schema.OrderTypeMarket {
		return errs.New(string(schema.VenueBinanceUM), errs.CodeInvalid,
			errs.WithMessage("unsupported order type "+string(req.Type)))
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", req.Size)
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	return c.call(ctx, http.MethodPost, orderPath, params, true, nil)
}

// CreateListenKey provisions a user-data stream key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var response listenKeyResponse
	if err := c.call(ctx, http.MethodPost, listenKeyPath, nil, false, &response); err != nil {
		return "", err
	}
	if response.ListenKey == "" {
		return "", errs.New(string(schema.VenueBinanceUM), errs.CodeVenueData,
			errs.WithMessage("empty listen key returned"))
	}
	return response.ListenKey, nil
}

// KeepAliveListenKey extends the user-data stream lease.
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	return c.call(ctx, http.MethodPut, listenKeyPath, nil, false, nil)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, out any) error {
	return c.call(ctx, http.MethodGet, path, params, signed, out)
}

// call executes one REST request. Signed calls append a timestamp and an
// HMAC signature over the query string; all private calls carry the API key
// header.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	private := signed || path == listenKeyPath
	if private && strings.TrimSpace(c.creds.APIKey) == "" {
		return errs.New(string(schema.VenueBinanceUM), errs.CodeAuth,
			errs.WithMessage("credentials required for "+path))
	}

	if signed {
		if params == nil {
			params = url.Values{}
		}
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("signature", c.signPayload(params.Encode()))
	}

	endpoint := c.restBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	if private {
		req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.New(string(schema.VenueBinanceUM), errs.CodeNetwork,
			errs.WithMessage("request "+path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var venueErr restError
		_ = json.Unmarshal(body, &venueErr)
		return errs.New(string(schema.VenueBinanceUM), errs.CodeVenue,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawCode(strconv.Itoa(venueErr.Code)),
			errs.WithRawMessage(venueErr.Msg),
			errs.WithMessage("request "+path))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// signPayload signs the query string with the account secret, hex encoded
// per the futures API convention.
func (c *Client) signPayload(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(input string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric field %q: %w", input, err)
	}
	return value, nil
}
