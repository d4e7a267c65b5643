package influx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

func TestPriceQuery(t *testing.T) {
	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	to := from.Add(4 * time.Hour)

	q := priceQuery("market", "prices", "btcusdt", from, to)

	assert.Contains(t, q, `from(bucket: "market")`)
	assert.Contains(t, q, "range(start: 2024-03-01T12:00:00Z, stop: 2024-03-01T16:00:00.000000001Z)")
	assert.Contains(t, q, `r._measurement == "prices"`)
	assert.Contains(t, q, `r.symbol == "BTCUSDT"`)
	assert.True(t, strings.HasSuffix(q, `sort(columns: ["_time"])`))
}

func TestPriceQuery_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	from := time.Date(2024, 3, 1, 13, 0, 0, 0, loc)

	q := priceQuery("b", "m", "ETHUSDT", from, from.Add(time.Minute))
	assert.Contains(t, q, "start: 2024-03-01T12:00:00Z")
}

func TestNewPriceStore_RequiresURLAndBucket(t *testing.T) {
	_, err := NewPriceStore(context.Background(), Config{Bucket: "b"})
	assert.Error(t, err)

	_, err = NewPriceStore(context.Background(), Config{URL: "http://localhost:8086"})
	assert.Error(t, err)
}

func TestToPoint_UpperCasesSymbol(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pt := toPoint("prices", domain.PricePoint{Symbol: "btcusdt", Timestamp: ts, Price: 64000, OpenInterest: 1.5e9})

	assert.Equal(t, "prices", pt.Name())
	assert.Equal(t, ts, pt.Time())
	tags := pt.TagList()
	require.Len(t, tags, 1)
	assert.Equal(t, "symbol", tags[0].Key)
	// Mismo valor que filtra priceQuery
	assert.Contains(t, priceQuery("b", "prices", "btcusdt", ts, ts), `r.symbol == "`+tags[0].Value+`"`)
	assert.Equal(t, "BTCUSDT", tags[0].Value)
	assert.Len(t, pt.FieldList(), 2)
}
