package xerosync

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

// gorm-backed stores. Each store is scoped to one business except the token
// store, which takes the business id per call so the session manager and the
// engine can share it.

type gormTokenStore struct {
	db *gorm.DB
}

func (s *gormTokenStore) Get(ctx context.Context, businessID string) (*models.XeroConnection, error) {
	var conn models.XeroConnection
	err := s.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *gormTokenStore) Save(ctx context.Context, conn *models.XeroConnection) error {
	return s.db.WithContext(ctx).Save(conn).Error
}

func (s *gormTokenStore) TouchSync(ctx context.Context, businessID string, at time.Time, success bool) error {
	fields := map[string]interface{}{"last_sync_at": at}
	if success {
		fields["last_success_sync_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.XeroConnection{}).
		Where("business_id = ?", businessID).
		Updates(fields).Error
}

type gormStateStore struct {
	db         *gorm.DB
	businessID string
}

func (s *gormStateStore) Get(ctx context.Context, entityType, entityID string) (*models.SyncState, error) {
	var state models.SyncState
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND entity_type = ? AND entity_id = ?", s.businessID, entityType, entityID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *gormStateStore) Save(ctx context.Context, state *models.SyncState) error {
	return s.db.WithContext(ctx).Save(state).Error
}

type gormConflictStore struct {
	db         *gorm.DB
	businessID string
}

func (s *gormConflictStore) Get(ctx context.Context, id uint) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND id = ?", s.businessID, id).
		First(&conflict).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

func (s *gormConflictStore) FindPending(ctx context.Context, entityType, entityID string) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND entity_type = ? AND entity_id = ? AND status = ?",
			s.businessID, entityType, entityID, models.ConflictStatusPending).
		First(&conflict).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

func (s *gormConflictStore) Create(ctx context.Context, conflict *models.SyncConflict) error {
	return s.db.WithContext(ctx).Create(conflict).Error
}

func (s *gormConflictStore) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.SyncConflict{}).
		Where("business_id = ? AND id = ?", s.businessID, id).
		Updates(fields).Error
}

func (s *gormConflictStore) ListPending(ctx context.Context, limit int) ([]models.SyncConflict, error) {
	q := s.db.WithContext(ctx).
		Where("business_id = ? AND status = ?", s.businessID, models.ConflictStatusPending).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var conflicts []models.SyncConflict
	err := q.Find(&conflicts).Error
	return conflicts, err
}

func (s *gormConflictStore) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SyncConflict{}).
		Where("business_id = ? AND status = ?", s.businessID, models.ConflictStatusPending).
		Count(&count).Error
	return count, err
}

type gormLogStore struct {
	db         *gorm.DB
	businessID string
}

func (s *gormLogStore) Create(ctx context.Context, entry *models.SyncLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *gormLogStore) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.SyncLogEntry{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// HasRunning reports whether an IN_PROGRESS run for the entity started after
// the cutoff. Stale IN_PROGRESS rows (crashed runs past the run ceiling) do
// not block new runs.
func (s *gormLogStore) HasRunning(ctx context.Context, entity string, since time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SyncLogEntry{}).
		Where("business_id = ? AND entity = ? AND status = ? AND timestamp > ?",
			s.businessID, entity, models.SyncLogStatusInProgress, since).
		Count(&count).Error
	return count > 0, err
}

func (s *gormLogStore) filtered(ctx context.Context, f DashboardFilters) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.SyncLogEntry{}).
		Where("business_id = ?", s.businessID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Entity != "" {
		q = q.Where("entity = ?", f.Entity)
	}
	if f.Direction != "" {
		q = q.Where("direction = ?", f.Direction)
	}
	if f.DateFrom != nil {
		q = q.Where("timestamp >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("timestamp < ?", f.DateTo.AddDate(0, 0, 1))
	}
	if f.Search != "" {
		q = q.Where("message LIKE ?", "%"+f.Search+"%")
	}
	return q
}

func (s *gormLogStore) List(ctx context.Context, f DashboardFilters) ([]models.SyncLogEntry, int64, error) {
	var total int64
	if err := s.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page <= 0 {
		page = 1
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	var entries []models.SyncLogEntry
	err := s.filtered(ctx, f).
		Order("timestamp DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	return entries, total, err
}

func (s *gormLogStore) Summary(ctx context.Context, f DashboardFilters) (*DashboardSummary, error) {
	type row struct {
		Status           string
		Runs             int64
		RecordsProcessed int64
		RecordsFailed    int64
	}
	var rows []row
	err := s.filtered(ctx, f).
		Select("status, COUNT(*) AS runs, SUM(records_processed) AS records_processed, SUM(records_failed) AS records_failed").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summary := &DashboardSummary{}
	for _, r := range rows {
		summary.TotalRuns += r.Runs
		summary.RecordsProcessed += r.RecordsProcessed
		summary.RecordsFailed += r.RecordsFailed
		switch r.Status {
		case models.SyncLogStatusSuccess:
			summary.SuccessCount = r.Runs
		case models.SyncLogStatusWarning:
			summary.WarningCount = r.Runs
		case models.SyncLogStatusError:
			summary.ErrorCount = r.Runs
		case models.SyncLogStatusInProgress:
			summary.InProgressCount = r.Runs
		}
	}
	return summary, nil
}

func (s *gormLogStore) EntityBreakdown(ctx context.Context, f DashboardFilters) ([]EntityBreakdownRow, error) {
	var rows []EntityBreakdownRow
	err := s.filtered(ctx, f).
		Select("entity, COUNT(*) AS runs, SUM(records_processed) AS records_processed, SUM(records_failed) AS records_failed").
		Group("entity").
		Order("entity").
		Scan(&rows).Error
	return rows, err
}

func (s *gormLogStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]models.SyncLogEntry, error) {
	var entries []models.SyncLogEntry
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND timestamp < ?", s.businessID, cutoff).
		Find(&entries).Error
	return entries, err
}

func (s *gormLogStore) Delete(ctx context.Context, ids []uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("business_id = ? AND id IN ?", s.businessID, ids).
		Delete(&models.SyncLogEntry{})
	return res.RowsAffected, res.Error
}
