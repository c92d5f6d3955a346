package repositories

import (
	"context"
	"time"

	"gitlab.com/lmn-dev/lmn/models"
)

// LaunchRetention is how long launch records are kept.
const LaunchRetention = 30 * time.Hour

// LaunchRepository stores one record per dispatched job.
type LaunchRepository interface {
	GenericRepository[models.LaunchRecord]

	// ByJobIDs returns the most recent record for each scheduler job id found.
	ByJobIDs(ctx context.Context, ids []string) (map[string]models.LaunchRecord, error)

	// Prune deletes records launched before t and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
