package sheet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thermoclinics/clinicsync/libs/db"
)

// PGStore persists tables in Postgres as a header array plus ordered row
// arrays, preserving the flat header+rows model of the sheet contract.
type PGStore struct {
	pool *db.Pool
}

func NewPGStore(pool *db.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema creates the backing tables. Safe to call on every start.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sheet_tables (
			name    text PRIMARY KEY,
			headers text[] NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sheet_rows (
			table_name text   NOT NULL REFERENCES sheet_tables(name) ON DELETE CASCADE,
			pos        bigint NOT NULL,
			cells      text[] NOT NULL,
			PRIMARY KEY (table_name, pos)
		);
	`)
	return err
}

func (s *PGStore) EnsureTable(ctx context.Context, table string, headers []string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sheet_tables (name, headers)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, table, headers)
	return err
}

func (s *PGStore) ReadAll(ctx context.Context, table string) ([]string, []Row, error) {
	var headers []string
	err := s.pool.QueryRow(ctx, `SELECT headers FROM sheet_tables WHERE name = $1`, table).Scan(&headers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT cells FROM sheet_rows WHERE table_name = $1 ORDER BY pos ASC
	`, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var cells []string
		if err := rows.Scan(&cells); err != nil {
			return nil, nil, err
		}
		out = append(out, Row(cells))
	}
	if rows.Err() != nil {
		return nil, nil, rows.Err()
	}
	return headers, out, nil
}

func (s *PGStore) AppendRows(ctx context.Context, table string, rws []Row) error {
	if len(rws) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	last, err := s.lockedLastRow(ctx, tx, table)
	if err != nil {
		return err
	}
	for i, r := range rws {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sheet_rows (table_name, pos, cells) VALUES ($1, $2, $3)
		`, table, last+1+i, []string(r)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) WriteRow(ctx context.Context, table string, pos int, row Row) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sheet_rows SET cells = $3 WHERE table_name = $1 AND pos = $2
	`, table, pos, []string(row))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, table, pos)
	}
	return nil
}

func (s *PGStore) WriteRange(ctx context.Context, table string, start int, rws []Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, r := range rws {
		tag, err := tx.Exec(ctx, `
			UPDATE sheet_rows SET cells = $3 WHERE table_name = $1 AND pos = $2
		`, table, start+i, []string(r))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, table, start+i)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) SetCell(ctx context.Context, table string, pos int, column, value string) error {
	var headers []string
	err := s.pool.QueryRow(ctx, `SELECT headers FROM sheet_tables WHERE name = $1`, table).Scan(&headers)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return err
	}
	col, ok := Headers(headers).Col(column)
	if !ok {
		return fmt.Errorf("sheet: column %q not found in %s", column, table)
	}

	// Pad the array up to the column first; short rows are legal.
	tag, err := s.pool.Exec(ctx, `
		UPDATE sheet_rows
		SET cells = cells
			|| array_fill(''::text, ARRAY[GREATEST($4 - cardinality(cells), 0)])
		WHERE table_name = $1 AND pos = $2
	`, table, pos, col+1)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, table, pos)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE sheet_rows SET cells[$4] = $3 WHERE table_name = $1 AND pos = $2
	`, table, pos, value, col+1)
	return err
}

func (s *PGStore) DeleteRow(ctx context.Context, table string, pos int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		DELETE FROM sheet_rows WHERE table_name = $1 AND pos = $2
	`, table, pos)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, table, pos)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE sheet_rows SET pos = pos - 1 WHERE table_name = $1 AND pos > $2
	`, table, pos); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ClearAndRewrite(ctx context.Context, table string, rws []Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM sheet_rows WHERE table_name = $1`, table); err != nil {
		return err
	}
	for i, r := range rws {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sheet_rows (table_name, pos, cells) VALUES ($1, $2, $3)
		`, table, i+1, []string(r)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) LastRow(ctx context.Context, table string) (int, error) {
	var last int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(pos), 0) FROM sheet_rows WHERE table_name = $1
	`, table).Scan(&last)
	return last, err
}

func (s *PGStore) lockedLastRow(ctx context.Context, tx pgx.Tx, table string) (int, error) {
	// Lock the table registry row so concurrent appends serialize.
	var name string
	err := tx.QueryRow(ctx, `SELECT name FROM sheet_tables WHERE name = $1 FOR UPDATE`, table).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return 0, err
	}
	var last int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(pos), 0) FROM sheet_rows WHERE table_name = $1
	`, table).Scan(&last)
	return last, err
}

var _ Store = (*PGStore)(nil)
