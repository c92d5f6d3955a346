package repositories_gorm

import (
	"context"
	"time"

	"gorm.io/gorm"

	"gitlab.com/lmn-dev/lmn/db/repositories"
	"gitlab.com/lmn-dev/lmn/models"
)

// LaunchRepositoryGORM keeps launch records in SQL.
type LaunchRepositoryGORM struct {
	*GenericRepositoryGORM[models.LaunchRecord]
	db *gorm.DB
}

var _ repositories.LaunchRepository = (*LaunchRepositoryGORM)(nil)

func NewLaunchRepository(db *gorm.DB) *LaunchRepositoryGORM {
	return &LaunchRepositoryGORM{
		GenericRepositoryGORM: NewGenericRepository[models.LaunchRecord](db),
		db:                    db,
	}
}

func (repo *LaunchRepositoryGORM) ByJobIDs(ctx context.Context, ids []string) (map[string]models.LaunchRecord, error) {
	out := make(map[string]models.LaunchRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := repo.GetQuery()
	query.Conditions = append(query.Conditions, repositories.IN("JobID", ids))
	query.SortBy = "LaunchedAt"
	records, err := repo.FindAll(ctx, query)
	if err != nil {
		return nil, err
	}
	// ascending order, so the latest record for an id wins
	for _, r := range records {
		out[r.JobID] = r
	}
	return out, nil
}

func (repo *LaunchRepositoryGORM) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := repo.db.WithContext(ctx).Unscoped().Where("launched_at < ?", before).Delete(&models.LaunchRecord{})
	return res.RowsAffected, handleDBError(res.Error)
}
