// Package binanceum implements the Binance USD-M futures venue adapter.
package binanceum

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue"
)

const (
	defaultRESTBaseURL = "https://fapi.binance.com"
	defaultWSBaseURL   = "wss://fstream.binance.com"
	defaultHTTPTimeout = 10 * time.Second

	// Well under the USD-M futures request weight limits.
	restRequestsPerSecond = 10
	restBurst             = 20

	// Exchange-enforced floor on market order notional, in USDT.
	minOrderNotionalUSDT = 6.0
)

// Options configures a Client. Zero values fall back to production
// endpoints and a default HTTP client.
type Options struct {
	RESTBaseURL string
	WSBaseURL   string
	Credentials venue.Credentials
	HTTPClient  *http.Client
}

// Client talks to Binance USD-M futures over REST and provisions the
// user-data websocket stream.
type Client struct {
	restBaseURL string
	wsBaseURL   string
	creds       venue.Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// New constructs a Client from the options.
func New(opts Options) (*Client, error) {
	restBase := strings.TrimRight(opts.RESTBaseURL, "/")
	if restBase == "" {
		restBase = defaultRESTBaseURL
	}
	wsBase := strings.TrimRight(opts.WSBaseURL, "/")
	if wsBase == "" {
		wsBase = defaultWSBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		restBaseURL: restBase,
		wsBaseURL:   wsBase,
		creds:       opts.Credentials,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(restRequestsPerSecond), restBurst),
	}, nil
}

// Name reports the venue identifier.
func (c *Client) Name() schema.Venue { return schema.VenueBinanceUM }

// RequiresLogin reports whether the private feed needs an in-band login.
// Binance authenticates the user-data stream through the listen key baked
// into the connection URL, so no login round-trip happens on the socket.
func (c *Client) RequiresLogin() bool { return false }

// MinOrderNotional reports the exchange floor on market order notional.
func (c *Client) MinOrderNotional() float64 { return minOrderNotionalUSDT }

var _ venue.Client = (*Client)(nil)
