package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	name       TEXT PRIMARY KEY,
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps workflows in the workflows table, one row per name.
type PostgresStore struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the workflows table if
// it does not exist.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create workflows table: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.db.Close() }

// Save inserts or replaces the named workflow.
func (s *PostgresStore) Save(ctx context.Context, name string, g *workflow.Graph) error {
	if err := checkName(name); err != nil {
		return err
	}
	definition, err := workflow.Marshal(g)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflows (name, definition, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET definition = EXCLUDED.definition,
		    updated_at = now()
	`, name, definition)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Load fetches the named workflow.
func (s *PostgresStore) Load(ctx context.Context, name string) (*workflow.Graph, error) {
	var definition []byte
	err := s.db.QueryRow(ctx, `
		SELECT definition
		FROM workflows
		WHERE name = $1
	`, name).Scan(&definition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	g, err := workflow.Unmarshal(definition)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return g, nil
}

// List returns all workflow names, sorted.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return names, nil
}

// Delete removes the named workflow.
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", name, ErrNotFound)
	}
	return nil
}
