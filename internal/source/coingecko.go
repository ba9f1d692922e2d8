package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/price-tracker/internal/model"
)

const (
	defaultCoinGeckoBase = "https://api.coingecko.com/api/v3"
	simplePricePath      = "/simple/price"
	apiKeyHeader         = "x-cg-demo-api-key"
)

// CoinGeckoOptions parameterise the CoinGecko client.
type CoinGeckoOptions struct {
	BaseURL    string
	APIKey     string
	CoinID     string
	VsCurrency string
	Timeout    time.Duration
	UserAgent  string
}

// CoinGecko polls the CoinGecko simple price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewCoinGecko constructs a CoinGecko source.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if opts.CoinID == "" {
		opts.CoinID = "bitcoin"
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultCoinGeckoBase
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// simplePriceResponse maps coin id to currency to price, e.g.
// {"bitcoin":{"usd":67187.33}}.
type simplePriceResponse map[string]map[string]decimal.Decimal

// Fetch retrieves the current price, stamped with the local fetch time.
func (c *CoinGecko) Fetch(ctx context.Context) (model.Sample, error) {
	stamp := c.now()

	q := url.Values{}
	q.Set("ids", c.opts.CoinID)
	q.Set("vs_currencies", c.opts.VsCurrency)
	endpoint := c.baseURL + simplePricePath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Sample{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if c.opts.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Sample{}, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Sample{}, fmt.Errorf("read coingecko response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Sample{}, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload simplePriceResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Sample{}, fmt.Errorf("decode coingecko response: %w", err)
	}

	price, ok := payload[c.opts.CoinID][c.opts.VsCurrency]
	if !ok {
		return model.Sample{}, fmt.Errorf("%w: %s/%s", ErrNoPrice, c.opts.CoinID, c.opts.VsCurrency)
	}
	if !price.IsPositive() {
		return model.Sample{}, fmt.Errorf("%w: non-positive price %s", ErrNoPrice, price)
	}

	c.logger.Debug().Str("price", price.String()).Msg("fetched price")
	return model.Sample{Price: price.InexactFloat64(), Timestamp: stamp.Unix()}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
