package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceDecimals is the fixed-point precision of all USD prices: one dollar is
// 10_000_000 units.
const PriceDecimals = 7

// PriceScale is 10^PriceDecimals.
var PriceScale = big.NewInt(10_000_000)

// PriceQuote captures the USD price for an asset along with the timestamp
// reported by the upstream feed and the feed identifier.
type PriceQuote struct {
	PriceUSD  *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.PriceUSD != nil {
		clone.PriceUSD = new(big.Int).Set(q.PriceUSD)
	}
	return clone
}

// PriceOracle resolves the current USD price for the provided asset code.
type PriceOracle interface {
	Price(asset string) (PriceQuote, error)
}

// ErrNoFreshQuote indicates that the aggregator could not retrieve a quote
// within the configured freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// Aggregator consults a list of registered oracles in priority order until a
// fresh quote is obtained. Freshness is the aggregator's responsibility; the
// collateral custodian consumes whatever quote the aggregator yields.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	oracles  map[string]PriceOracle
	maxAge   time.Duration
}

// NewAggregator constructs a new aggregator with the provided priority and
// freshness window. A zero maxAge disables staleness filtering.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		oracles:  make(map[string]PriceOracle),
		maxAge:   maxAge,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces an oracle under the supplied identifier.
// Identifiers are stored in lowercase so lookups remain consistent regardless
// of configuration casing.
func (a *Aggregator) Register(name string, oracle PriceOracle) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oracles[trimmed] = oracle
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Price fetches a quote from the configured oracles respecting the priority
// ordering. The aggregator enforces the freshness window and returns a copy
// of the upstream value.
func (a *Aggregator) Price(asset string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	a.mu.RUnlock()

	code := normaliseAsset(asset)
	if code == "" {
		return PriceQuote{}, fmt.Errorf("oracle: asset code required")
	}

	var lastErr error
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	for _, name := range priority {
		a.mu.RLock()
		oracle := a.oracles[strings.ToLower(name)]
		a.mu.RUnlock()
		if oracle == nil {
			continue
		}
		quote, err := oracle.Price(code)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.PriceUSD == nil || quote.PriceUSD.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle %s returned invalid price", name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		return result, nil
	}

	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return PriceQuote{}, lastErr
}

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote)}
}

// Set stores the provided fixed-point USD price for the asset.
func (m *ManualOracle) Set(asset string, priceUSD *big.Int, ts time.Time) {
	if m == nil || priceUSD == nil {
		return
	}
	code := normaliseAsset(asset)
	if code == "" {
		return
	}
	m.mu.Lock()
	m.quotes[code] = PriceQuote{
		PriceUSD:  new(big.Int).Set(priceUSD),
		Timestamp: ts,
		Source:    "manual",
	}
	m.mu.Unlock()
}

// Price retrieves the stored quote for the asset.
func (m *ManualOracle) Price(asset string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	code := normaliseAsset(asset)
	m.mu.RLock()
	stored, ok := m.quotes[code]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("manual oracle: quote for %s not found", code)
	}
	return stored.Clone(), nil
}

func normaliseAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
