package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agenthands/droneguard/internal/core/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	hash TEXT NOT NULL,
	data TEXT NOT NULL,
	image BLOB
);
CREATE INDEX IF NOT EXISTS idx_items_hash ON items(hash);
`

// SQLiteStore persists items as JSON rows; seq keeps insertion order.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers, so Update is a plain transaction.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(ctx context.Context, item model.InspectionItem, image []byte) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, hash, data, image) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		item.ID, item.Hash, string(data), image)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

// AddUnique runs lookup and insert in one transaction; with a single
// connection no other writer can interleave.
func (s *SQLiteStore) AddUnique(ctx context.Context, item model.InspectionItem, image []byte) (model.InspectionItem, bool, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return model.InspectionItem{}, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.InspectionItem{}, false, err
	}
	defer tx.Rollback()

	existing, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT data FROM items WHERE hash = ? ORDER BY seq LIMIT 1`, item.Hash))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.InspectionItem{}, false, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (id, hash, data, image) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		item.ID, item.Hash, string(data), image)
	if err != nil {
		return model.InspectionItem{}, false, fmt.Errorf("insert item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.InspectionItem{}, false, ErrExists
	}
	if err := tx.Commit(); err != nil {
		return model.InspectionItem{}, false, err
	}
	return item, true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.InspectionItem, error) {
	return scanItem(s.db.QueryRowContext(ctx, `SELECT data FROM items WHERE id = ?`, id))
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.InspectionItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM items ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.InspectionItem{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var item model.InspectionItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*model.InspectionItem) error) (model.InspectionItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.InspectionItem{}, err
	}
	defer tx.Rollback()

	cur, err := scanItem(tx.QueryRowContext(ctx, `SELECT data FROM items WHERE id = ?`, id))
	if err != nil {
		return model.InspectionItem{}, err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur, err
	}
	next.ID = id

	data, err := json.Marshal(next)
	if err != nil {
		return cur, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE items SET data = ?, hash = ? WHERE id = ?`, string(data), next.Hash, id); err != nil {
		return cur, fmt.Errorf("update item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return cur, err
	}
	return next, nil
}

func (s *SQLiteStore) Image(ctx context.Context, id string) ([]byte, error) {
	var image []byte
	err := s.db.QueryRowContext(ctx, `SELECT image FROM items WHERE id = ?`, id).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && image == nil) {
		return nil, ErrNotFound
	}
	return image, err
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (model.InspectionItem, error) {
	return scanItem(s.db.QueryRowContext(ctx,
		`SELECT data FROM items WHERE hash = ? ORDER BY seq LIMIT 1`, hash))
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items`)
	return err
}

func scanItem(row *sql.Row) (model.InspectionItem, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.InspectionItem{}, ErrNotFound
		}
		return model.InspectionItem{}, err
	}
	var item model.InspectionItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return model.InspectionItem{}, fmt.Errorf("decode item: %w", err)
	}
	return item, nil
}
