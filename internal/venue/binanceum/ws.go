package binanceum

import (
	"context"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

// ConnectMessage provisions a listen key and returns the user-data stream
// endpoint. Every private channel rides the same stream.
func (c *Client) ConnectMessage(ctx context.Context, channel schema.FeedChannel) (string, error) {
	switch channel {
	case schema.FeedChannelOrders, schema.FeedChannelBalancePosition:
	default:
		return "", errs.New(string(schema.VenueBinanceUM), errs.CodeInvalid,
			errs.WithMessage("unsupported feed channel "+string(channel)))
	}
	key, err := c.CreateListenKey(ctx)
	if err != nil {
		return "", err
	}
	return c.wsBaseURL + "/ws/" + key, nil
}

// LoginMessage is unsupported: the listen key in the stream URL already
// authenticates the connection.
func (c *Client) LoginMessage() (string, error) {
	return "", errs.New(string(schema.VenueBinanceUM), errs.CodeInvalid,
		errs.WithMessage("user-data stream does not take a login message"))
}

// SubscribeMessage is unsupported: the user-data stream pushes all private
// events without a subscription request.
func (c *Client) SubscribeMessage(schema.FeedChannel) (string, error) {
	return "", errs.New(string(schema.VenueBinanceUM), errs.CodeInvalid,
		errs.WithMessage("user-data stream does not take a subscribe message"))
}

type wsEnvelope struct {
	EventType string          `json:"e"`
	Order     *wsOrderPayload `json:"o"`
	Account   *wsAccountData  `json:"a"`
}

type wsOrderPayload struct {
	Symbol       string `json:"s"`
	OrderID      int64  `json:"i"`
	Status       string `json:"X"`
	FilledAmount string `json:"z"`
	AvgPrice     string `json:"ap"`
}

type wsAccountData struct {
	Positions []struct {
		Symbol      string `json:"s"`
		PositionAmt string `json:"pa"`
		EntryPrice  string `json:"ep"`
	} `json:"P"`
}

// DecodeFrame turns one user-data stream frame into a typed event. Frames
// other than order and account updates yield a nil event.
func DecodeFrame(frame []byte) (*schema.Event, error) {
	var envelope wsEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, errs.New(string(schema.VenueBinanceUM), errs.CodeVenueData,
			errs.WithMessage("decode websocket frame"), errs.WithCause(err))
	}

	switch envelope.EventType {
	case "ORDER_TRADE_UPDATE":
		return decodeOrderFrame(envelope.Order)
	case "ACCOUNT_UPDATE":
		return decodeAccountFrame(envelope.Account)
	default:
		return nil, nil
	}
}

func decodeOrderFrame(payload *wsOrderPayload) (*schema.Event, error) {
	if payload == nil {
		return nil, errs.New(string(schema.VenueBinanceUM), errs.CodeVenueData,
			errs.WithMessage("order update frame without order payload"))
	}
	filled, _ := parseFloat(payload.FilledAmount)
	avg, _ := parseFloat(payload.AvgPrice)
	return &schema.Event{
		Type: schema.EventTypeOrders,
		Orders: []schema.OrderUpdate{{
			Symbol:     payload.Symbol,
			Venue:      schema.VenueBinanceUM,
			OrderID:    strconv.FormatInt(payload.OrderID, 10),
			Status:     payload.Status,
			FilledSize: filled,
			AvgPrice:   avg,
		}},
	}, nil
}

func decodeAccountFrame(payload *wsAccountData) (*schema.Event, error) {
	if payload == nil {
		return nil, errs.New(string(schema.VenueBinanceUM), errs.CodeVenueData,
			errs.WithMessage("account update frame without account payload"))
	}
	update := schema.BalancePositionUpdate{Venue: schema.VenueBinanceUM}
	for _, pos := range payload.Positions {
		size, err := parseFloat(pos.PositionAmt)
		if err != nil {
			continue
		}
		avg, _ := parseFloat(pos.EntryPrice)
		update.Positions = append(update.Positions, schema.PositionUpdate{
			Symbol:   pos.Symbol,
			Size:     size,
			AvgPrice: avg,
		})
	}
	return &schema.Event{
		Type:   schema.EventTypeBalancesPositions,
		BalPos: []schema.BalancePositionUpdate{update},
	}, nil
}
