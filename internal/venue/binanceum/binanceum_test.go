package binanceum

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue"
)

func newTestClient(t *testing.T, restBase string) *Client {
	t.Helper()
	client, err := New(Options{
		RESTBaseURL: restBase,
		WSBaseURL:   "wss://stream.test",
		Credentials: venue.Credentials{APIKey: "key", APISecret: "secret"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestClientCapabilities(t *testing.T) {
	client := newTestClient(t, "")
	if client.Name() != schema.VenueBinanceUM {
		t.Fatalf("Name = %s", client.Name())
	}
	if client.RequiresLogin() {
		t.Fatal("user-data stream must not require an in-band login")
	}
	if client.MinOrderNotional() != minOrderNotionalUSDT {
		t.Fatalf("MinOrderNotional = %v, want %v", client.MinOrderNotional(), minOrderNotionalUSDT)
	}
}

func TestConnectMessageProvisionsListenKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != listenKeyPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing API key header")
		}
		_, _ = w.Write([]byte(`{"listenKey": "abcdef123456"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	url, err := client.ConnectMessage(context.Background(), schema.FeedChannelOrders)
	if err != nil {
		t.Fatalf("ConnectMessage: %v", err)
	}
	if want := "wss://stream.test/ws/abcdef123456"; url != want {
		t.Fatalf("ConnectMessage = %q, want %q", url, want)
	}
}

func TestKeepAliveListenKeyExtendsLease(t *testing.T) {
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		if r.URL.Path != listenKeyPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing API key header")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.KeepAliveListenKey(context.Background()); err != nil {
		t.Fatalf("KeepAliveListenKey: %v", err)
	}
	if method != http.MethodPut {
		t.Fatalf("keepalive used %s, want PUT", method)
	}
}

func TestLoginAndSubscribeUnsupported(t *testing.T) {
	client := newTestClient(t, "")
	if _, err := client.LoginMessage(); err == nil {
		t.Fatal("LoginMessage must fail")
	}
	if _, err := client.SubscribeMessage(schema.FeedChannelOrders); err == nil {
		t.Fatal("SubscribeMessage must fail")
	}
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	var capturedQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != orderPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		capturedQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.PlaceOrder(context.Background(), schema.OrderRequest{
		ClientOrderID: "cid-1",
		Symbol:        "BTCUSDT",
		Side:          schema.TradeSideBuy,
		Type:          schema.OrderTypeMarket,
		Size:          "0.5",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://x?"+capturedQuery, nil)
	query := req.URL.Query()
	if query.Get("symbol") != "BTCUSDT" || query.Get("side") != "BUY" || query.Get("quantity") != "0.5" {
		t.Fatalf("unexpected order query %q", capturedQuery)
	}
	if query.Get("timestamp") == "" || query.Get("signature") == "" {
		t.Fatalf("order query must carry timestamp and signature: %q", capturedQuery)
	}
}

func TestPlaceOrderVenueError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": -1013, "msg": "Filter failure: LOT_SIZE"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.PlaceOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   schema.TradeSideSell,
		Type:   schema.OrderTypeMarket,
		Size:   "0.001",
	})
	if err == nil {
		t.Fatal("expected venue error")
	}
}

func TestBuildInstrument(t *testing.T) {
	record := symbolRecord{
		Symbol:       "BTCUSDT",
		ContractType: "PERPETUAL",
		Status:       "TRADING",
		BaseAsset:    "BTC",
		QuoteAsset:   "USDT",
		Filters: []filterRecord{
			{FilterType: "LOT_SIZE", StepSize: "0.001", MinQty: "0.001", MaxQty: "1000"},
			{FilterType: "MARKET_LOT_SIZE", MinQty: "0.001", MaxQty: "120"},
			{FilterType: "PRICE_FILTER"},
		},
	}
	inst, err := buildInstrument(record)
	if err != nil {
		t.Fatalf("buildInstrument: %v", err)
	}
	if inst.LotSize != 0.001 || inst.MaxOrderSize() != 120 {
		t.Fatalf("unexpected instrument %+v", inst)
	}
	if inst.ContractValue != nil {
		t.Fatal("base-denominated symbol must not carry a contract value")
	}

	record.Filters = record.Filters[:1]
	if _, err := buildInstrument(record); err == nil {
		t.Fatal("expected error without market lot size filter")
	}
}

func TestDecodeFrameOrderUpdate(t *testing.T) {
	frame := []byte(`{
		"e": "ORDER_TRADE_UPDATE",
		"o": {"s": "BTCUSDT", "i": 8886774, "X": "FILLED", "z": "0.5", "ap": "60000.1"}
	}`)
	evt, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if evt == nil || evt.Type != schema.EventTypeOrders || len(evt.Orders) != 1 {
		t.Fatalf("unexpected event %+v", evt)
	}
	update := evt.Orders[0]
	if update.OrderID != "8886774" || update.Status != "FILLED" || update.FilledSize != 0.5 {
		t.Fatalf("unexpected update %+v", update)
	}
}

func TestDecodeFrameAccountUpdate(t *testing.T) {
	frame := []byte(`{
		"e": "ACCOUNT_UPDATE",
		"a": {"P": [{"s": "ETHUSDT", "pa": "-2", "ep": "3000"}]}
	}`)
	evt, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if evt == nil || evt.Type != schema.EventTypeBalancesPositions || len(evt.BalPos) != 1 {
		t.Fatalf("unexpected event %+v", evt)
	}
	positions := evt.BalPos[0].Positions
	if len(positions) != 1 || positions[0].Size != -2 || positions[0].AvgPrice != 3000 {
		t.Fatalf("unexpected positions %+v", positions)
	}
}

func TestDecodeFrameIgnoresOtherEvents(t *testing.T) {
	evt, err := DecodeFrame([]byte(`{"e": "listenKeyExpired"}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if evt != nil {
		t.Fatalf("DecodeFrame = %+v, want nil", evt)
	}
}
