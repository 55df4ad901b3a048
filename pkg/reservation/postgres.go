package reservation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultWarehouseQuery reads the live reservation log from the staging
// schema, skipping soft-deleted rows.
const DefaultWarehouseQuery = `
	SELECT reserve_date, vehicle_count, is_fixed_customer
	FROM stg.reserve_log
	WHERE is_deleted = false
	ORDER BY reserve_date
`

// PostgresSource loads the raw reservation log from the warehouse. Column
// names of the query result become the table header, so the same column
// specs resolve them.
type PostgresSource struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgresSource connects and pings the warehouse.
func NewPostgresSource(ctx context.Context, dsn, query string) (*PostgresSource, error) {
	if query == "" {
		query = DefaultWarehouseQuery
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("warehouse ping: %w", err)
	}
	return &PostgresSource{pool: pool, query: query}, nil
}

// Load runs the query and returns its rows as a raw table.
func (s *PostgresSource) Load(ctx context.Context) (*Table, error) {
	rows, err := s.pool.Query(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query reservation log: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	t := &Table{Header: make([]string, len(fields)), Encoding: "postgres", Source: "warehouse"}
	for i, fd := range fields {
		t.Header[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}
	return t, nil
}

func (s *PostgresSource) Close() {
	s.pool.Close()
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format("2006-01-02")
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return ""
		}
		return strconv.FormatFloat(f.Float64, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
