package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/harunnryd/toko/pkg/errorsx"
	"github.com/harunnryd/toko/pkg/resilience"
	"github.com/harunnryd/toko/pkg/store/migrations"
)

// Product is one row of the catalog. Rows are created only by seeding,
// mutated only by UpdateStock, never deleted.
type Product struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int64   `json:"stock"`
}

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store is a single-handle SQLite product store. The process is the only
// writer, so one open connection is enough and keeps access trivially safe.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "toko.db"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("open store %s: %w", cfg.Path, err), errorsx.ReasonStoreOpen)
	}
	db.SetMaxOpenConns(1)

	policy := resilience.NewRetryPolicy(2, 200*time.Millisecond)
	if err := policy.Do(func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, errorsx.Wrap(fmt.Errorf("ping store %s: %w", cfg.Path, err), errorsx.ReasonStoreOpen)
	}
	return &Store{db: db}, nil
}

// Migrate brings the schema up to date. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errorsx.Wrap(fmt.Errorf("set dialect: %w", err), errorsx.ReasonStoreOpen)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return errorsx.Wrap(fmt.Errorf("run migrations: %w", err), errorsx.ReasonStoreOpen)
	}
	return nil
}

var seedProducts = []Product{
	{Name: "iPhone 15", Price: 25990, Stock: 5},
	{Name: "MacBook Air M3", Price: 34990, Stock: 2},
	{Name: "PlayStation 5", Price: 11990, Stock: 10},
	{Name: "Xbox Series X", Price: 11990, Stock: 1},
	{Name: "AirPods Pro", Price: 6990, Stock: 25},
}

// Seed inserts the demo catalog when the table is empty and reports how many
// rows it wrote. A non-empty table is left untouched.
func (s *Store) Seed(ctx context.Context) (int, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for _, p := range seedProducts {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO products (name, price, stock) VALUES (?, ?, ?)`,
			p.Name, p.Price, p.Stock,
		); err != nil {
			return 0, errorsx.Wrap(fmt.Errorf("seed product %s: %w", p.Name, err), errorsx.ReasonStoreExec)
		}
	}
	return len(seedProducts), nil
}

// Count returns the number of products in the store.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, errorsx.Wrap(fmt.Errorf("count products: %w", err), errorsx.ReasonStoreQuery)
	}
	return count, nil
}

// FindProducts returns products whose name contains the query, matched
// case-insensitively. Wildcard characters in the query match literally.
// Zero matches is an empty result, not an error.
func (s *Store) FindProducts(ctx context.Context, name string) ([]Product, error) {
	pattern := "%" + escapeLike(name) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price, stock FROM products WHERE name LIKE ? ESCAPE '\'`,
		pattern,
	)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("find products %q: %w", name, err), errorsx.ReasonStoreQuery)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// ListLowStock returns products with stock below the threshold, lowest first.
func (s *Store) ListLowStock(ctx context.Context, threshold int64) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price, stock FROM products WHERE stock < ? ORDER BY stock ASC`,
		threshold,
	)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("list low stock below %d: %w", threshold, err), errorsx.ReasonStoreQuery)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// UpdateStock applies a signed delta to a product's stock and returns the
// updated row. An unknown id is a no-op: both return values are nil. The
// delta is unchecked, so stock can go negative.
func (s *Store) UpdateStock(ctx context.Context, id, delta int64) (*Product, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock + ? WHERE id = ?`,
		delta, id,
	)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("update stock id=%d: %w", id, err), errorsx.ReasonStoreExec)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("update stock id=%d: %w", id, err), errorsx.ReasonStoreExec)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.byID(ctx, id)
}

func (s *Store) byID(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, price, stock FROM products WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("load product id=%d: %w", id, err), errorsx.ReasonStoreQuery)
	}
	return &p, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("scan product: %w", err), errorsx.ReasonStoreQuery)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("iterate products: %w", err), errorsx.ReasonStoreQuery)
	}
	return products, nil
}

func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	v = strings.ReplaceAll(v, `_`, `\_`)
	return v
}
