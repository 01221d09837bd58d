package repo

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"rsvpdesk/migrations"
)

func (r *repository) MigrateUp(ctx context.Context) error {
	return r.migrate(ctx, "*.up.sql", false)
}

func (r *repository) MigrateDown(ctx context.Context) error {
	return r.migrate(ctx, "*.down.sql", true)
}

func (r *repository) migrate(ctx context.Context, pattern string, reverse bool) error {
	files, err := fs.Glob(migrations.FS, path.Join(r.driver, pattern))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	for _, file := range files {
		sqlBytes, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Str("driver", r.driver).Int("files", len(files)).Msgf("Migrations %s applied", pattern)
	return nil
}
