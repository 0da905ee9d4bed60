package okx

import (
	"context"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

const loginSignPath = "/users/self/verify"

type wsRequest struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args"`
}

type wsLoginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type wsSubscribeArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
}

// ConnectMessage returns the private websocket endpoint. Both private
// channels share one endpoint; the channel selects the later subscription.
func (c *Client) ConnectMessage(_ context.Context, channel schema.FeedChannel) (string, error) {
	switch channel {
	case schema.FeedChannelOrders, schema.FeedChannelBalancePosition:
		return c.privateWSURL, nil
	default:
		return "", errs.New(string(schema.VenueOKX), errs.CodeInvalid,
			errs.WithMessage("unsupported feed channel "+string(channel)))
	}
}

// LoginMessage builds the signed login request for the private endpoint.
func (c *Client) LoginMessage() (string, error) {
	if strings.TrimSpace(c.creds.APIKey) == "" {
		return "", errs.New(string(schema.VenueOKX), errs.CodeAuth,
			errs.WithMessage("credentials required for private websocket login"))
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	request := wsRequest{
		Op: "login",
		Args: []interface{}{wsLoginArg{
			APIKey:     c.creds.APIKey,
			Passphrase: c.creds.Passphrase,
			Timestamp:  timestamp,
			Sign:       c.sign(timestamp + "GET" + loginSignPath),
		}},
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", errs.New(string(schema.VenueOKX), errs.CodeInvalid,
			errs.WithMessage("encode login request"), errs.WithCause(err))
	}
	return string(payload), nil
}

// SubscribeMessage builds the subscription request for the channel.
func (c *Client) SubscribeMessage(channel schema.FeedChannel) (string, error) {
	var arg wsSubscribeArg
	switch channel {
	case schema.FeedChannelOrders:
		arg = wsSubscribeArg{Channel: "orders", InstType: "SWAP"}
	case schema.FeedChannelBalancePosition:
		arg = wsSubscribeArg{Channel: "balance_and_position"}
	default:
		return "", errs.New(string(schema.VenueOKX), errs.CodeInvalid,
			errs.WithMessage("unsupported feed channel "+string(channel)))
	}
	payload, err := json.Marshal(wsRequest{Op: "subscribe", Args: []interface{}{arg}})
	if err != nil {
		return "", errs.New(string(schema.VenueOKX), errs.CodeInvalid,
			errs.WithMessage("encode subscribe request"), errs.WithCause(err))
	}
	return string(payload), nil
}

type wsEnvelope struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   wsSubscribeArg  `json:"arg"`
	Data  json.RawMessage `json:"data"`
}

type wsOrderRecord struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
}

type wsBalPosRecord struct {
	PosData []struct {
		InstID string `json:"instId"`
		Pos    string `json:"pos"`
		AvgPx  string `json:"avgPx"`
	} `json:"posData"`
}

// DecodeFrame turns one private-feed frame into a typed event. Acks, errors
// and keepalives yield a nil event.
func DecodeFrame(frame []byte) (*schema.Event, error) {
	trimmed := strings.TrimSpace(string(frame))
	if trimmed == "pong" || trimmed == "" {
		return nil, nil
	}

	var envelope wsEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, errs.New(string(schema.VenueOKX), errs.CodeVenueData,
			errs.WithMessage("decode websocket frame"), errs.WithCause(err))
	}

	switch envelope.Event {
	case "error":
		return nil, errs.New(string(schema.VenueOKX), errs.CodeVenue,
			errs.WithRawCode(envelope.Code),
			errs.WithRawMessage(envelope.Msg),
			errs.WithMessage("websocket error frame"))
	case "login", "subscribe", "unsubscribe", "channel-conn-count":
		return nil, nil
	}
	if len(envelope.Data) == 0 {
		return nil, nil
	}

	switch envelope.Arg.Channel {
	case "orders":
		return decodeOrdersFrame(envelope.Data)
	case "balance_and_position":
		return decodeBalPosFrame(envelope.Data)
	default:
		return nil, nil
	}
}

func decodeOrdersFrame(data json.RawMessage) (*schema.Event, error) {
	var records []wsOrderRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errs.New(string(schema.VenueOKX), errs.CodeVenueData,
			errs.WithMessage("decode orders frame"), errs.WithCause(err))
	}

	updates := make([]schema.OrderUpdate, 0, len(records))
	for _, record := range records {
		filled, _ := parseFloat(record.AccFillSz)
		avg, _ := parseFloat(record.AvgPx)
		updates = append(updates, schema.OrderUpdate{
			Symbol:     record.InstID,
			Venue:      schema.VenueOKX,
			OrderID:    record.OrdID,
			Status:     record.State,
			FilledSize: filled,
			AvgPrice:   avg,
		})
	}
	if len(updates) == 0 {
		return nil, nil
	}
	return &schema.Event{Type: schema.EventTypeOrders, Orders: updates}, nil
}

func decodeBalPosFrame(data json.RawMessage) (*schema.Event, error) {
	var records []wsBalPosRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errs.New(string(schema.VenueOKX), errs.CodeVenueData,
			errs.WithMessage("decode balance_and_position frame"), errs.WithCause(err))
	}

	updates := make([]schema.BalancePositionUpdate, 0, len(records))
	for _, record := range records {
		update := schema.BalancePositionUpdate{Venue: schema.VenueOKX}
		for _, pos := range record.PosData {
			size, err := parseFloat(pos.Pos)
			if err != nil {
				continue
			}
			avg, _ := parseFloat(pos.AvgPx)
			update.Positions = append(update.Positions, schema.PositionUpdate{
				Symbol:   pos.InstID,
				Size:     size,
				AvgPrice: avg,
			})
		}
		updates = append(updates, update)
	}
	if len(updates) == 0 {
		return nil, nil
	}
	return &schema.Event{Type: schema.EventTypeBalancesPositions, BalPos: updates}, nil
}
