// Package okx implements the OKX perpetual-swap venue client: signed REST
// access, private feed handshake payloads, and inbound frame decoding.
package okx

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue"
)

const (
	defaultRESTBaseURL  = "https://www.okx.com"
	defaultPrivateWSURL = "wss://ws.okx.com:8443/ws/v5/private"
	defaultHTTPTimeout  = 10 * time.Second

	// OKX allows bursts but throttles sustained private REST traffic.
	restRequestsPerSecond = 10
	restBurst             = 20
)

// Options configures an OKX client.
type Options struct {
	RESTBaseURL  string
	PrivateWSURL string
	Credentials  venue.Credentials
	HTTPClient   *http.Client
}

// Client is the OKX implementation of the venue client surface.
type Client struct {
	restBaseURL  string
	privateWSURL string
	creds        venue.Credentials
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// New constructs an OKX client.
func New(opts Options) *Client {
	if opts.RESTBaseURL == "" {
		opts.RESTBaseURL = defaultRESTBaseURL
	}
	if opts.PrivateWSURL == "" {
		opts.PrivateWSURL = defaultPrivateWSURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		restBaseURL:  opts.RESTBaseURL,
		privateWSURL: opts.PrivateWSURL,
		creds:        opts.Credentials,
		httpClient:   opts.HTTPClient,
		limiter:      rate.NewLimiter(rate.Limit(restRequestsPerSecond), restBurst),
	}
}

// Name identifies the venue.
func (c *Client) Name() schema.Venue { return schema.VenueOKX }

// RequiresLogin reports that OKX private feeds need an explicit login step.
func (c *Client) RequiresLogin() bool { return true }

// MinOrderNotional reports that OKX enforces no per-order notional floor.
func (c *Client) MinOrderNotional() float64 { return 0 }

var _ venue.Client = (*Client)(nil)
