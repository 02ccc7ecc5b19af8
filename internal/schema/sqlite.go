package schema

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tables (
	owner TEXT NOT NULL,
	name  TEXT NOT NULL,
	PRIMARY KEY (owner, name)
);

CREATE TABLE IF NOT EXISTS columns (
	owner       TEXT NOT NULL,
	table_name  TEXT NOT NULL,
	name        TEXT NOT NULL,
	primary_key INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner, table_name, name),
	FOREIGN KEY (owner, table_name) REFERENCES tables(owner, name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tables_name ON tables(name);
`

// SQLiteStore keeps schema metadata in a SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the schema database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create schema dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open schema db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema db: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// AddColumns declares columns in one transaction.
func (s *SQLiteStore) AddColumns(ctx context.Context, cols []Column) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, c := range cols {
		owner, table, col := strings.ToUpper(c.Table.Owner), strings.ToUpper(c.Table.Name), strings.ToUpper(c.Name)
		if table == "" || col == "" {
			return fmt.Errorf("column %q: table and column name are required", c.Table.FullName()+"."+c.Name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tables (owner, name) VALUES (?, ?)`, owner, table); err != nil {
			return fmt.Errorf("insert table %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO columns (owner, table_name, name, primary_key) VALUES (?, ?, ?, ?)
			 ON CONFLICT (owner, table_name, name) DO UPDATE SET primary_key = excluded.primary_key`,
			owner, table, col, boolInt(c.PrimaryKey)); err != nil {
			return fmt.Errorf("insert column %s.%s: %w", table, col, err)
		}
	}
	return tx.Commit()
}

// FindTable looks up a table. An empty owner matches any owner; the
// lexically first owner wins.
func (s *SQLiteStore) FindTable(ctx context.Context, owner, name string) (TableRef, bool, error) {
	owner, name = strings.ToUpper(owner), strings.ToUpper(name)

	var row *sql.Row
	if owner == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT owner, name FROM tables WHERE name = ? ORDER BY owner LIMIT 1`, name)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT owner, name FROM tables WHERE owner = ? AND name = ?`, owner, name)
	}

	var ref TableRef
	if err := row.Scan(&ref.Owner, &ref.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TableRef{}, false, nil
		}
		return TableRef{}, false, fmt.Errorf("find table %s: %w", name, err)
	}
	return ref, true, nil
}

// IsPrimaryKey reports whether column is part of the primary key of table.
func (s *SQLiteStore) IsPrimaryKey(ctx context.Context, table, column string) (bool, error) {
	owner, name := SplitTableName(table)
	ref, ok, err := s.FindTable(ctx, owner, name)
	if err != nil || !ok {
		return false, err
	}

	var pk bool
	err = s.db.QueryRowContext(ctx,
		`SELECT primary_key FROM columns WHERE owner = ? AND table_name = ? AND name = ?`,
		ref.Owner, ref.Name, strings.ToUpper(column)).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("primary key %s.%s: %w", ref.FullName(), column, err)
	}
	return pk, nil
}

// Tables lists all declared tables ordered by owner and name.
func (s *SQLiteStore) Tables(ctx context.Context) ([]TableRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner, name FROM tables ORDER BY owner, name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []TableRef
	for rows.Next() {
		var t TableRef
		if err := rows.Scan(&t.Owner, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Columns lists the declared columns of a table. It returns
// ErrTableNotFound for an undeclared table.
func (s *SQLiteStore) Columns(ctx context.Context, t TableRef) ([]Column, error) {
	if _, ok, err := s.FindTable(ctx, t.Owner, t.Name); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%s: %w", t.FullName(), ErrTableNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, primary_key FROM columns WHERE owner = ? AND table_name = ? ORDER BY name`,
		strings.ToUpper(t.Owner), strings.ToUpper(t.Name))
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		c := Column{Table: t}
		if err := rows.Scan(&c.Name, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReadCSV parses schema rows of the form OWNER,TABLE_NAME,COLUMN_NAME,IS_PK.
// A header row is skipped. IS_PK accepts Y/N, 1/0 and true/false.
func ReadCSV(r io.Reader) ([]Column, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var cols []Column
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "OWNER") {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 fields, got %d", line, len(rec))
		}

		c := Column{
			Table: TableRef{Owner: strings.TrimSpace(rec[0]), Name: strings.TrimSpace(rec[1])},
			Name:  strings.TrimSpace(rec[2]),
		}
		if len(rec) > 3 {
			c.PrimaryKey = parseFlag(rec[3])
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// ImportCSV reads a CSV file and declares its columns.
func (s *SQLiteStore) ImportCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cols, err := ReadCSV(f)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.AddColumns(ctx, cols); err != nil {
		return 0, err
	}
	return len(cols), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseFlag(v string) bool {
	v = strings.TrimSpace(v)
	switch strings.ToUpper(v) {
	case "Y", "YES", "P", "PK":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}
