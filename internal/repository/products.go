package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
	"github.com/joseph-ayodele/menu-allergens/internal/core/upsert"
)

const productsTable = "products"

// Product is a stored record.
type Product struct {
	ID          string
	Name        string
	Brand       string
	StoreRegion string
	Fields      map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductStore is the SQL-backed record store.
type ProductStore struct {
	db  *DB
	now func() time.Time
	log *slog.Logger
}

var _ upsert.Store = (*ProductStore)(nil)

func NewProductStore(db *DB, log *slog.Logger) *ProductStore {
	if log == nil {
		log = slog.Default()
	}
	return &ProductStore{db: db, now: time.Now, log: log}
}

func (s *ProductStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.db.Dialect)
}

// Find matches name and brand, and the region when one is given.
func (s *ProductStore) Find(ctx context.Context, id upsert.Identity) (string, bool, error) {
	preds := []*entsql.Predicate{entsql.EQ("name", id.Name), entsql.EQ("brand", id.Brand)}
	if id.Region != "" {
		preds = append(preds, entsql.EQ("store_region", id.Region))
	}
	query, args := s.builder().
		Select("id").
		From(s.builder().Table(productsTable)).
		Where(entsql.And(preds...)).
		OrderBy("created_at").
		Limit(1).
		Query()

	rows, err := s.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return "", false, fmt.Errorf("find product: %w", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var rid string
	if err := rows.Scan(&rid); err != nil {
		return "", false, fmt.Errorf("scan product id: %w", err)
	}
	return rid, true, nil
}

// Insert stores a new product and returns its generated id.
func (s *ProductStore) Insert(ctx context.Context, rec *normalize.Record) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	id := upsert.IdentityOf(rec)
	rid := uuid.NewString()
	now := formatTime(s.now())
	createdAt := now
	if v, ok := rec.Get(normalize.FieldCreatedAt); ok && v != "" {
		createdAt = v
	}

	query, args := s.builder().
		Insert(productsTable).
		Columns("id", "name", "brand", "store_region", "payload", "created_at", "updated_at").
		Values(rid, id.Name, id.Brand, id.Region, string(payload), createdAt, now).
		Query()
	if _, err := s.db.SQL.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert product: %w", err)
	}
	s.log.Debug("product inserted", "id", rid, "name", id.Name)
	return rid, nil
}

// Patch overwrites the fields of an existing product.
func (s *ProductStore) Patch(ctx context.Context, recordID string, rec *normalize.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	id := upsert.IdentityOf(rec)
	query, args := s.builder().
		Update(productsTable).
		Set("name", id.Name).
		Set("brand", id.Brand).
		Set("store_region", id.Region).
		Set("payload", string(payload)).
		Set("updated_at", formatTime(s.now())).
		Where(entsql.EQ("id", recordID)).
		Query()
	res, err := s.db.SQL.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("patch product %s: %w", recordID, common.ErrNotFound)
	}
	return nil
}

// Get loads one product by id.
func (s *ProductStore) Get(ctx context.Context, recordID string) (*Product, error) {
	query, args := s.builder().
		Select("id", "name", "brand", "store_region", "payload", "created_at", "updated_at").
		From(s.builder().Table(productsTable)).
		Where(entsql.EQ("id", recordID)).
		Query()
	rows, err := s.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("product %s: %w", recordID, common.ErrNotFound)
	}
	var (
		p                 Product
		payload, cAt, uAt string
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.StoreRegion, &payload, &cAt, &uAt); err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &p.Fields); err != nil {
		return nil, fmt.Errorf("decode product payload: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = parseTime(cAt), parseTime(uAt)
	return &p, nil
}

// Count returns the number of stored products.
func (s *ProductStore) Count(ctx context.Context) (int, error) {
	return count(ctx, s.db, productsTable)
}

func count(ctx context.Context, db *DB, table string) (int, error) {
	b := entsql.Dialect(db.Dialect)
	query, args := b.Select(entsql.Count("*")).From(b.Table(table)).Query()
	var n int
	if err := db.SQL.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
