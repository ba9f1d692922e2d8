package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoinGecko(t *testing.T, handler http.HandlerFunc) *CoinGecko {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewCoinGecko(CoinGeckoOptions{
		BaseURL:    srv.URL,
		APIKey:     "demo-key",
		CoinID:     "bitcoin",
		VsCurrency: "usd",
		Timeout:    time.Second,
		UserAgent:  "test",
	}, zerolog.Nop())
	c.now = func() time.Time { return time.Unix(1_760_000_000, 500) }
	return c
}

func TestCoinGeckoFetch_Success(t *testing.T) {
	c := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		assert.Equal(t, "test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":67187.33}}`))
	})

	s, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 67187.33, s.Price)
	assert.Equal(t, int64(1_760_000_000), s.Timestamp)
}

func TestCoinGeckoFetch_HTTPError(t *testing.T) {
	c := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status":{"error_code":429}}`))
	})

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCoinGeckoFetch_MissingCoin(t *testing.T) {
	c := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3000}}`))
	})

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestCoinGeckoFetch_ZeroPrice(t *testing.T) {
	c := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":0}}`))
	})

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestCoinGeckoFetch_BadJSON(t *testing.T) {
	c := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>nope</html>`))
	})

	_, err := c.Fetch(context.Background())
	assert.Error(t, err)
}

func TestGenerator_WalkStaysPositive(t *testing.T) {
	g := NewGenerator(100, 0.05, 42)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		s, err := g.Fetch(ctx)
		require.NoError(t, err)
		assert.Greater(t, s.Price, 0.0)
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	a, b := NewGenerator(100, 0.01, 9), NewGenerator(100, 0.01, 9)
	for i := 0; i < 10; i++ {
		sa, _ := a.Fetch(context.Background())
		sb, _ := b.Fetch(context.Background())
		assert.Equal(t, sa.Price, sb.Price)
	}
}

func TestGenerator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGenerator(100, 0.01, 1).Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
