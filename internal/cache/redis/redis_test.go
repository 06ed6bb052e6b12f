package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestNamespace(t *testing.T) {
	assert.Equal(t, "perpbot", namespace(""))
	assert.Equal(t, "perpbot", namespace("  "))
	assert.Equal(t, "desk1", namespace(":desk1:"))
}

func TestClientKey(t *testing.T) {
	c := &Client{ns: namespace("staging")}
	assert.Equal(t, "staging:lock:trade:7", c.Key("lock", "trade:7"))
	assert.Equal(t, "staging:market:index:3", c.Key("market", "index", "3"))
}

func TestMetadataCacheKeys(t *testing.T) {
	mc := NewMetadataCache(&Client{ns: defaultNamespace}, 0)
	assert.Equal(t, DefaultMetadataTTL, mc.ttl)
	assert.Equal(t, "perpbot:market:BTC-USD", mc.symbolKey("BTC-USD"))
	assert.Equal(t, "perpbot:market:index:12", mc.indexKey(12))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(&Client{ns: defaultNamespace}, 0, 0)
	assert.Equal(t, 1, rl.limit)
	assert.Equal(t, time.Second, rl.window)
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

func TestParsePriceHash(t *testing.T) {
	ts := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	price, got, err := parsePriceHash("BTC", map[string]string{
		"price": "64250.5",
		"ts":    "1775001600000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, 64250.5, price)
	assert.True(t, ts.Equal(got))

	_, _, err = parsePriceHash("BTC", map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parsePriceHash("BTC", map[string]string{"price": "x", "ts": "1"})
	assert.Error(t, err)
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}
