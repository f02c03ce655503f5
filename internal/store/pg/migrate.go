package pg

import (
	"context"
	"fmt"
	"sort"

	migrations "github.com/avoinelab/ssobridge/migrations/postgres"
)

// Migrate applies the embedded migrations in filename order. Statements
// are idempotent (IF NOT EXISTS), so re-running on boot is safe.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("pg: read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("pg: read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("pg: apply migration %s: %w", name, err)
		}
	}
	return nil
}
