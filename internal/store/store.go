// Package store is the embedded sqlite repository behind the WFS layers,
// their features and the symbology rules.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const ddl = `
CREATE TABLE IF NOT EXISTS layers (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT    NOT NULL UNIQUE,
    title            TEXT    NOT NULL DEFAULT '',
    description      TEXT    NOT NULL DEFAULT '',
    geometry_type    TEXT    NOT NULL DEFAULT '',
    srid             INTEGER NOT NULL DEFAULT 4326,
    bbox_minx        REAL,
    bbox_miny        REAL,
    bbox_maxx        REAL,
    bbox_maxy        REAL,
    feature_count    INTEGER NOT NULL DEFAULT 0,
    attribute_schema TEXT    NOT NULL DEFAULT '{}',
    created_at       TEXT    NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT    NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS features (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    layer_id   INTEGER NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
    fid        TEXT    NOT NULL,
    geometry   BLOB,
    properties TEXT    NOT NULL DEFAULT '{}',
    bbox_minx  REAL,
    bbox_miny  REAL,
    bbox_maxx  REAL,
    bbox_maxy  REAL,
    UNIQUE(layer_id, fid)
);

CREATE INDEX IF NOT EXISTS idx_features_layer
    ON features(layer_id);
CREATE INDEX IF NOT EXISTS idx_features_bbox
    ON features(layer_id, bbox_minx, bbox_miny, bbox_maxx, bbox_maxy);

CREATE TABLE IF NOT EXISTS symbology_rules (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    layer_id        INTEGER NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
    rule_order      INTEGER NOT NULL DEFAULT 0,
    label           TEXT    NOT NULL DEFAULT '',
    filter_field    TEXT,
    filter_operator TEXT    NOT NULL DEFAULT 'eq',
    filter_value    TEXT,
    fill_color      TEXT    NOT NULL DEFAULT '#3388ff',
    fill_opacity    REAL    NOT NULL DEFAULT 0.6,
    stroke_color    TEXT    NOT NULL DEFAULT '#ffffff',
    stroke_width    REAL    NOT NULL DEFAULT 1.5,
    point_radius    REAL    NOT NULL DEFAULT 6.0,
    is_default      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_rules_layer
    ON symbology_rules(layer_id, rule_order);
`

type DB struct {
	*sqlx.DB
}

// Open opens (creating if needed) the sqlite database with write-ahead
// logging and foreign-key enforcement, so layer deletion cascades.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", url.PathEscape(path))
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &DB{DB: db}, nil
}

// Migrate creates the three tables and their indexes if missing.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, ddl)
	return err
}

// isUniqueViolation reports whether err is a sqlite unique-constraint error.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}
