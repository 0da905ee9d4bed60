// Package catalog holds the per-process instrument metadata loaded from each
// venue's REST metadata endpoint at startup.
package catalog

import (
	"context"
	"fmt"
	"log"

	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue"
)

// Key identifies the trading rules for one instrument on one venue.
type Key struct {
	Symbol string
	Venue  schema.Venue
}

// Catalog maps instrument keys to trading rules. It is populated once during
// startup and treated as immutable afterwards; configuration hot reload does
// not refresh it.
type Catalog struct {
	instruments map[Key]schema.Instrument
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{instruments: make(map[Key]schema.Instrument)}
}

// Load fetches perpetual instrument metadata from every supplied client and
// indexes it by (symbol, venue). A venue whose fetch fails aborts the load:
// reconciliation cannot size orders without its rules.
func (c *Catalog) Load(ctx context.Context, logger *log.Logger, clients ...venue.Client) error {
	for _, client := range clients {
		instruments, err := client.Instruments(ctx, schema.InstrumentTypePerpetual)
		if err != nil {
			return fmt.Errorf("load instruments for %s: %w", client.Name(), err)
		}
		inserted := 0
		for _, inst := range instruments {
			if err := inst.Validate(); err != nil {
				continue
			}
			c.instruments[Key{Symbol: inst.Symbol, Venue: inst.Venue}] = inst
			inserted++
		}
		if logger != nil {
			logger.Printf("instrument catalog loaded: venue=%s instruments=%d", client.Name(), inserted)
		}
	}
	return nil
}

// Insert stores the instrument under its (symbol, venue) key.
func (c *Catalog) Insert(inst schema.Instrument) {
	c.instruments[Key{Symbol: inst.Symbol, Venue: inst.Venue}] = inst
}

// Lookup returns the trading rules for the instrument on the venue.
func (c *Catalog) Lookup(symbol string, v schema.Venue) (schema.Instrument, bool) {
	inst, ok := c.instruments[Key{Symbol: symbol, Venue: v}]
	return inst, ok
}

// Len reports the number of catalogued instruments.
func (c *Catalog) Len() int {
	return len(c.instruments)
}
