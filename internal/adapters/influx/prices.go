package influx

// prices.go — fuente de precios sobre InfluxDB 2.x.
//
// Layout esperado: measurement con tag `symbol` y campos `price` y
// (opcional) `open_interest`. Un punto por timestamp.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/alejandrodnm/oibacktest/internal/domain"
)

const defaultMeasurement = "prices"

// Config configura la conexión a InfluxDB.
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// PriceStore implementa ports.PriceSource leyendo de InfluxDB.
type PriceStore struct {
	client      influxdb2.Client
	queryAPI    api.QueryAPI
	writeAPI    api.WriteAPIBlocking
	bucket      string
	measurement string
}

// NewPriceStore conecta a InfluxDB y verifica que el servidor responde.
func NewPriceStore(ctx context.Context, cfg Config) (*PriceStore, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx.NewPriceStore: url and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx.NewPriceStore: health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx.NewPriceStore: server not healthy")
	}

	m := cfg.Measurement
	if m == "" {
		m = defaultMeasurement
	}
	return &PriceStore{
		client:      client,
		queryAPI:    client.QueryAPI(cfg.Org),
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:      cfg.Bucket,
		measurement: m,
	}, nil
}

// Close libera el cliente HTTP.
func (s *PriceStore) Close() {
	s.client.Close()
}

// PriceRange devuelve los puntos de symbol en [from, to], ordenados ascendente.
func (s *PriceStore) PriceRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	result, err := s.queryAPI.Query(ctx, priceQuery(s.bucket, s.measurement, symbol, from, to))
	if err != nil {
		return nil, fmt.Errorf("influx.PriceRange %s: query: %w", symbol, err)
	}
	defer result.Close()

	var points []domain.PricePoint
	for result.Next() {
		record := result.Record()
		price, ok := record.ValueByKey("price").(float64)
		if !ok {
			continue
		}
		oi, _ := record.ValueByKey("open_interest").(float64)
		points = append(points, domain.PricePoint{
			Symbol:       symbol,
			Timestamp:    record.Time().UTC(),
			Price:        price,
			OpenInterest: oi,
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influx.PriceRange %s: read: %w", symbol, result.Err())
	}

	slog.Debug("influx: price range", "symbol", symbol, "points", len(points))
	return points, nil
}

// SavePrices escribe los puntos de forma síncrona.
func (s *PriceStore) SavePrices(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		batch = append(batch, toPoint(s.measurement, p))
	}
	if err := s.writeAPI.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("influx.SavePrices: %w", err)
	}
	return nil
}

// toPoint normaliza el tag symbol igual que priceQuery, para que lo
// escrito se pueda volver a leer.
func toPoint(measurement string, p domain.PricePoint) *write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{"symbol": strings.ToUpper(p.Symbol)},
		map[string]interface{}{
			"price":         p.Price,
			"open_interest": p.OpenInterest,
		},
		p.Timestamp,
	)
}

// priceQuery arma el Flux para un rango cerrado. range() es semiabierto,
// así que stop se corre un nanosegundo.
func priceQuery(bucket, measurement, symbol string, from, to time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
	|> range(start: %s, stop: %s)
	|> filter(fn: (r) => r._measurement == %q)
	|> filter(fn: (r) => r.symbol == %q)
	|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
	|> sort(columns: ["_time"])`,
		bucket,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Add(time.Nanosecond).Format(time.RFC3339Nano),
		measurement,
		strings.ToUpper(symbol),
	)
}
