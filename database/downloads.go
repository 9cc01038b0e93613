package database

import (
	"context"
	"fmt"
)

// IncrementDownload atomically bumps today's download counter for a
// version without blocking the download redirect on a read-modify-write.
func IncrementDownload(ctx context.Context, q Querier, versionID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO version_downloads (version_id, date, downloads)
		VALUES ($1, current_date, 1)
		ON CONFLICT (version_id, date) DO UPDATE SET downloads = version_downloads.downloads + 1`,
		versionID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("increment download: %w", err))
	}
	return nil
}
