package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the six tables if they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	// tanpa argumen -> simple protocol, multi statement ok
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
