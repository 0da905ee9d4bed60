package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

const (
	instrumentsPath = "/api/v5/public/instruments"
	balancePath     = "/api/v5/account/balance"
	positionsPath   = "/api/v5/account/positions"
	orderPath       = "/api/v5/trade/order"
)

type restResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type instrumentRecord struct {
	InstID    string `json:"instId"`
	InstType  string `json:"instType"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	SettleCcy string `json:"settleCcy"`
	CtVal     string `json:"ctVal"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	MaxLmtSz  string `json:"maxLmtSz"`
	MaxMktSz  string `json:"maxMktSz"`
	State     string `json:"state"`
}

type balanceRecord struct {
	Details []struct {
		Ccy string `json:"ccy"`
		Eq  string `json:"eq"`
	} `json:"details"`
}

type positionRecord struct {
	InstID   string `json:"instId"`
	Pos      string `json:"pos"`
	AvgPx    string `json:"avgPx"`
	MarkPx   string `json:"markPx"`
	InstType string `json:"instType"`
}

type orderBody struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	ClOrdID string `json:"clOrdId,omitempty"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
}

// Instruments fetches the venue trading rules for the instrument type.
func (c *Client) Instruments(ctx context.Context, typ schema.InstrumentType) ([]schema.Instrument, error) {
	if typ != schema.InstrumentTypePerpetual {
		return nil, errs.New(string(schema.VenueOKX), errs.CodeInvalid,
			errs.WithMessage("unsupported instrument type "+string(typ)))
	}

	var records []instrumentRecord
	if err := c.do(ctx, http.MethodGet, instrumentsPath+"?instType=SWAP", nil, false, &records); err != nil {
		return nil, err
	}

	instruments := make([]schema.Instrument, 0, len(records))
	for _, record := range records {
		if !strings.EqualFold(strings.TrimSpace(record.State), "live") {
			continue
		}
		inst, err := buildInstrument(record)
		if err != nil {
			continue
		}
		instruments = append(instruments, inst)
	}
	if len(instruments) == 0 {
		return nil, errs.New(string(schema.VenueOKX), errs.CodeVenueData,
			errs.WithMessage("no live SWAP instruments returned"))
	}
	return instruments, nil
}

func buildInstrument(record instrumentRecord) (schema.Instrument, error) {
	lotSize, err := parseFloat(record.LotSz)
	if err != nil {
		return schema.Instrument{}, err
	}
	minSize, err := parseFloat(record.MinSz)
	if err != nil {
		return schema.Instrument{}, err
	}
	maxLmt, err := parseFloat(record.MaxLmtSz)
	if err != nil {
		return schema.Instrument{}, err
	}
	maxMkt, err := parseFloat(record.MaxMktSz)
	if err != nil {
		return schema.Instrument{}, err
	}

	inst := schema.Instrument{
		Symbol:        strings.TrimSpace(record.InstID),
		Venue:         schema.VenueOKX,
		Type:          schema.InstrumentTypePerpetual,
		BaseCurrency:  strings.TrimSpace(record.BaseCcy),
		QuoteCurrency: strings.TrimSpace(record.SettleCcy),
		LotSize:       lotSize,
		MinLimitSize:  minSize,
		MaxLimitSize:  maxLmt,
		MinMarketSize: minSize,
		MaxMarketSize: maxMkt,
		ContractValue: nil,
	}
	if ctVal := strings.TrimSpace(record.CtVal); ctVal != "" {
		value, err := parseFloat(ctVal)
		if err != nil {
			return schema.Instrument{}, err
		}
		inst.ContractValue = &value
	}
	return inst, nil
}

// Balances fetches account balances, filtered to the given assets when any
// are supplied.
func (c *Client) Balances(ctx context.Context, assets []string) ([]schema.Balance, error) {
	path := balancePath
	if len(assets) > 0 {
		path += "?ccy=" + strings.Join(assets, ",")
	}

	var records []balanceRecord
	if err := c.do(ctx, http.MethodGet, path, nil, true, &records); err != nil {
		return nil, err
	}

	var balances []schema.Balance
	for _, record := range records {
		for _, detail := range record.Details {
			total, err := parseFloat(detail.Eq)
			if err != nil {
				continue
			}
			balances = append(balances, schema.Balance{Asset: detail.Ccy, Total: total})
		}
	}
	return balances, nil
}

// Positions fetches all open swap positions.
func (c *Client) Positions(ctx context.Context) ([]schema.Position, error) {
	var records []positionRecord
	if err := c.do(ctx, http.MethodGet, positionsPath+"?instType=SWAP", nil, true, &records); err != nil {
		return nil, err
	}

	positions := make([]schema.Position, 0, len(records))
	for _, record := range records {
		size, err := parseFloat(record.Pos)
		if err != nil || size == 0 {
			continue
		}
		mark, err := parseFloat(record.MarkPx)
		if err != nil {
			continue
		}
		avg, _ := parseFloat(record.AvgPx)
		positions = append(positions, schema.Position{
			Symbol:    record.InstID,
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
		return errs.New(string(schema.VenueOKX), errs.CodeInvalid,
			errs.WithMessage("unsupported order type "+string(req.Type)))
	}
	tdMode := string(schema.MarginModeCross)
	if req.MarginMode != schema.MarginMode("") {
		tdMode = string(req.MarginMode)
	}
	body := orderBody{
		InstID:  req.Symbol,
		TdMode:  tdMode,
		ClOrdID: sanitizeClientOrderID(req.ClientOrderID),
		Side:    strings.ToLower(string(req.Side)),
		OrdType: "market",
		Sz:      req.Size,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode order body: %w", err)
	}
	return c.do(ctx, http.MethodPost, orderPath, payload, true, nil)
}

// sanitizeClientOrderID strips the characters OKX rejects in clOrdId.
func sanitizeClientOrderID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// do executes one REST call, signing it when required, and decodes the data
// payload into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.restBaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if strings.TrimSpace(c.creds.APIKey) == "" {
			return errs.New(string(schema.VenueOKX), errs.CodeAuth,
				errs.WithMessage("credentials required for "+path))
		}
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(timestamp+method+path+string(body)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.New(string(schema.VenueOKX), errs.CodeNetwork,
			errs.WithMessage("request "+path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return errs.New(string(schema.VenueOKX), errs.CodeVenue,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(strings.TrimSpace(string(raw))),
			errs.WithMessage("request "+path))
	}

	var envelope restResponse
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if strings.TrimSpace(envelope.Code) != "0" {
		return errs.New(string(schema.VenueOKX), errs.CodeVenue,
			errs.WithRawCode(strings.TrimSpace(envelope.Code)),
			errs.WithRawMessage(strings.TrimSpace(envelope.Msg)),
			errs.WithMessage("request "+path))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	_, _ = mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func parseFloat(input string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric field %q: %w", input, err)
	}
	return value, nil
}
