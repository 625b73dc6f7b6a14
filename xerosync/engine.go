package xerosync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

// PullHandler is implemented once per entity type. FetchPage returns the
// remote page in ledger order; Upsert must be idempotent by remote id;
// Snapshot returns the canonical JSON of the local counterpart (ok=false when
// absent); PushLocal writes the local version back to the ledger.
type PullHandler interface {
	Entity() EntityType
	FetchPage(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]Record, error)
	Validate(rec Record) error
	Upsert(ctx context.Context, rec Record) error
	Snapshot(ctx context.Context, remoteID string) (json.RawMessage, bool, error)
	PushLocal(ctx context.Context, remoteID string) error
}

type sessionSource interface {
	FreshConnection(ctx context.Context) (*models.XeroConnection, error)
}

// connectionToucher stamps the connection's last-sync timestamps. Kept apart
// from TokenStore so the session manager remains the only token writer.
type connectionToucher interface {
	TouchSync(ctx context.Context, businessID string, at time.Time, success bool) error
}

// StateStore tracks per-entity sync states.
type StateStore interface {
	Get(ctx context.Context, entityType, entityID string) (*models.SyncState, error)
	Save(ctx context.Context, state *models.SyncState) error
}

// ConflictStore tracks divergences awaiting resolution.
type ConflictStore interface {
	Get(ctx context.Context, id uint) (*models.SyncConflict, error)
	FindPending(ctx context.Context, entityType, entityID string) (*models.SyncConflict, error)
	Create(ctx context.Context, conflict *models.SyncConflict) error
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
	ListPending(ctx context.Context, limit int) ([]models.SyncConflict, error)
	CountPending(ctx context.Context) (int64, error)
}

// LogStore is the append-only audit trail plus its read-side queries.
type LogStore interface {
	Create(ctx context.Context, entry *models.SyncLogEntry) error
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
	HasRunning(ctx context.Context, entity string, since time.Time) (bool, error)
	List(ctx context.Context, f DashboardFilters) ([]models.SyncLogEntry, int64, error)
	Summary(ctx context.Context, f DashboardFilters) (*DashboardSummary, error)
	EntityBreakdown(ctx context.Context, f DashboardFilters) ([]EntityBreakdownRow, error)
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]models.SyncLogEntry, error)
	Delete(ctx context.Context, ids []uint) (int64, error)
}

// Service coordinates pulls, conflict resolution, logging and the dashboard
// for one business.
type Service struct {
	businessID string
	sessions   sessionSource
	tokens     connectionToucher
	states     StateStore
	conflicts  ConflictStore
	logs       LogStore
	newHandler func(conn *models.XeroConnection, entity EntityType) (PullHandler, error)
	locker     *redislock.Client
	cache      cache
	mailer     Mailer
	sleep      func(time.Duration)
	now        func() time.Time
	pageDelay  time.Duration
	logger     *logrus.Logger
}

func NewService(businessID string) *Service {
	db := config.GetDB()
	tokens := &gormTokenStore{db: db}
	return &Service{
		businessID: businessID,
		sessions:   NewSessionManager(businessID, tokens),
		tokens:     tokens,
		states:     &gormStateStore{db: db, businessID: businessID},
		conflicts:  &gormConflictStore{db: db, businessID: businessID},
		logs:       &gormLogStore{db: db, businessID: businessID},
		newHandler: defaultHandlerFactory(db, businessID),
		locker:     config.GetRedisLock(),
		cache:      newDashboardCache(),
		mailer:     smtpMailer{},
		sleep:      time.Sleep,
		now:        time.Now,
		pageDelay:  defaultPageDelay,
		logger:     config.GetLogger(),
	}
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Pull fetches remote records for one entity type page by page since the
// watermark and upserts them into local storage. Re-running with the same or
// overlapping data is safe: existing unchanged records are skipped, never
// duplicated.
func (s *Service) Pull(ctx context.Context, entity EntityType, opts PullOptions) (*PullResult, error) {
	opts = opts.withDefaults()

	tracer := otel.Tracer("xerosync")
	ctx, span := tracer.Start(ctx, "xerosync.pull", trace.WithAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("business_id", s.businessID),
	))
	defer span.End()

	// Per-entity-type mutual exclusion: two runs for the same entity type
	// must not overlap (duplicate-conflict races). Different entity types may
	// run concurrently.
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, s.runLockKey(entity), opts.Timeout, nil)
		if err == redislock.ErrNotObtained {
			return nil, ErrSyncInProgress
		}
		if err == nil {
			defer lock.Release(context.Background())
		}
	}
	if opts.LogID == 0 {
		running, err := s.logs.HasRunning(ctx, string(entity), s.now().Add(-opts.Timeout))
		if err != nil {
			return nil, err
		}
		if running {
			return nil, ErrSyncInProgress
		}
	}

	logID := opts.LogID
	if logID == 0 {
		entry := &models.SyncLogEntry{
			BusinessId:  s.businessID,
			Timestamp:   s.now(),
			UserId:      opts.UserID,
			Direction:   models.SyncDirectionPull,
			Entity:      string(entity),
			Status:      models.SyncLogStatusInProgress,
			TriggeredBy: opts.TriggeredBy,
		}
		if err := s.logs.Create(ctx, entry); err != nil {
			return nil, err
		}
		logID = entry.ID
	}

	conn, err := s.sessions.FreshConnection(ctx)
	if err != nil {
		s.finalizeLog(ctx, logID, models.SyncLogStatusError, &PullResult{}, 0, runFailureMessage(err))
		return nil, err
	}
	handler, err := s.newHandler(conn, entity)
	if err != nil {
		s.finalizeLog(ctx, logID, models.SyncLogStatusError, &PullResult{}, 0, err.Error())
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := s.now()
	result := &PullResult{LogID: logID}
	timedOut := false
	aborted := ""

	for page := 1; page <= opts.MaxPages; page++ {
		if runCtx.Err() != nil {
			timedOut = true
			break
		}
		if page > 1 && s.pageDelay > 0 {
			s.sleep(s.pageDelay)
		}

		records, err := handler.FetchPage(runCtx, opts.ModifiedSince, page, opts.PageSize)
		if err != nil {
			if runCtx.Err() != nil {
				timedOut = true
				break
			}
			s.addError(result, fmt.Sprintf("page %d: %v", page, err))
			if opts.StopOnError {
				aborted = fmt.Sprintf("halted on page %d: %v", page, err)
				break
			}
			// Skip this page and keep going. The failure is already in the
			// report; a rerun picks the records up again.
			result.Pages++
			continue
		}
		result.Pages++

		for _, rec := range records {
			result.Processed++
			outcome, recErr := s.processRecord(runCtx, handler, entity, rec, logID)
			switch outcome {
			case recordSucceeded:
				result.Succeeded++
			case recordSkipped:
				result.Skipped++
			case recordFailed:
				result.Failed++
				if recErr != nil {
					s.addError(result, fmt.Sprintf("%s %s: %v", entity, rec.ID, recErr))
				}
				if opts.StopOnError {
					aborted = fmt.Sprintf("halted on record %s: %v", rec.ID, recErr)
				}
			}
			if aborted != "" {
				break
			}
		}
		if aborted != "" {
			break
		}

		if page%logUpdateEveryPage == 0 {
			s.updateLogProgress(ctx, logID, result)
		}

		if len(records) < opts.PageSize {
			break
		}
	}

	result.Duration = s.now().Sub(start)

	status := models.SyncLogStatusSuccess
	message := fmt.Sprintf("%s pull completed", entity)
	switch {
	case aborted != "":
		status = models.SyncLogStatusError
		message = aborted
	case timedOut:
		status = models.SyncLogStatusWarning
		message = fmt.Sprintf("%s pull timed out after %s; partial counts recorded", entity, opts.Timeout)
	case result.Failed > 0:
		status = models.SyncLogStatusWarning
		message = fmt.Sprintf("%s pull completed with %d failed record(s)", entity, result.Failed)
	}
	result.Success = status == models.SyncLogStatusSuccess

	s.finalizeLog(ctx, logID, status, result, result.Duration, message)
	_ = s.tokens.TouchSync(ctx, s.businessID, s.now(), result.Success)

	s.logger.WithFields(logrus.Fields{
		"module":    "xerosync",
		"entity":    entity,
		"status":    status,
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"pages":     result.Pages,
		"duration":  result.Duration.String(),
	}).Info("sync run finished")

	return result, nil
}

type recordOutcome int

const (
	recordSucceeded recordOutcome = iota
	recordSkipped
	recordFailed
)

func (s *Service) processRecord(ctx context.Context, handler PullHandler, entity EntityType, rec Record, logID uint) (recordOutcome, error) {
	if err := handler.Validate(rec); err != nil {
		return recordFailed, err
	}

	remoteHash := hashPayload(rec.Payload)
	state, err := s.states.Get(ctx, string(entity), rec.ID)
	if err != nil {
		return recordFailed, err
	}

	if state == nil {
		// First sighting: create the local counterpart.
		if err := handler.Upsert(ctx, rec); err != nil {
			return recordFailed, err
		}
		localHash, err := s.localHash(ctx, handler, rec.ID)
		if err != nil {
			return recordFailed, err
		}
		state = &models.SyncState{
			BusinessId:        s.businessID,
			EntityType:        string(entity),
			EntityId:          rec.ID,
			LocalVersionHash:  localHash,
			RemoteVersionHash: remoteHash,
			Status:            models.SyncStateSynced,
		}
		if err := s.states.Save(ctx, state); err != nil {
			return recordFailed, err
		}
		return recordSucceeded, nil
	}

	if state.RemoteVersionHash == remoteHash {
		// Nothing changed remotely since the last run (or the divergence is
		// already captured as a pending conflict).
		return recordSkipped, nil
	}

	localPayload, found, err := handler.Snapshot(ctx, rec.ID)
	if err != nil {
		return recordFailed, err
	}
	currentLocalHash := ""
	if found {
		currentLocalHash = hashPayload(localPayload)
	}

	if !found || currentLocalHash == state.LocalVersionHash {
		// Remote-only change: apply it.
		if err := handler.Upsert(ctx, rec); err != nil {
			return recordFailed, err
		}
		localHash, err := s.localHash(ctx, handler, rec.ID)
		if err != nil {
			return recordFailed, err
		}
		state.LocalVersionHash = localHash
		state.RemoteVersionHash = remoteHash
		state.Status = models.SyncStateSynced
		if err := s.states.Save(ctx, state); err != nil {
			return recordFailed, err
		}
		return recordSucceeded, nil
	}

	// Both sides changed since the last sync: a genuine conflict.
	pending, err := s.conflicts.FindPending(ctx, string(entity), rec.ID)
	if err != nil {
		return recordFailed, err
	}
	if pending != nil {
		return recordSkipped, nil
	}

	conflict := &models.SyncConflict{
		BusinessId:     s.businessID,
		EntityType:     string(entity),
		EntityId:       rec.ID,
		EntityName:     rec.Name,
		LocalDataJSON:  localPayload,
		RemoteDataJSON: rec.Payload,
		Status:         models.ConflictStatusPending,
		SyncLogId:      logID,
	}
	if err := s.conflicts.Create(ctx, conflict); err != nil {
		return recordFailed, err
	}

	state.RemoteVersionHash = remoteHash
	state.Status = models.SyncStateConflict
	if err := s.states.Save(ctx, state); err != nil {
		return recordFailed, err
	}
	return recordFailed, fmt.Errorf("local and remote versions diverged, conflict recorded")
}

func (s *Service) localHash(ctx context.Context, handler PullHandler, remoteID string) (string, error) {
	payload, found, err := handler.Snapshot(ctx, remoteID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return hashPayload(payload), nil
}

func (s *Service) addError(result *PullResult, msg string) {
	if len(result.Errors) < errorReportLimit {
		result.Errors = append(result.Errors, msg)
	}
}

func (s *Service) updateLogProgress(ctx context.Context, logID uint, result *PullResult) {
	err := s.logs.Update(ctx, logID, map[string]interface{}{
		"records_processed": result.Processed,
		"records_succeeded": result.Succeeded,
		"records_skipped":   result.Skipped,
		"records_failed":    result.Failed,
		"pages":             result.Pages,
	})
	if err != nil {
		config.LogError(s.logger, "xerosync", "updateLogProgress", fmt.Sprint(logID), nil, err)
	}
}

func (s *Service) finalizeLog(ctx context.Context, logID uint, status string, result *PullResult, duration time.Duration, message string) {
	details, _ := json.Marshal(map[string]interface{}{"errors": result.Errors})
	err := s.logs.Update(ctx, logID, map[string]interface{}{
		"status":            status,
		"records_processed": result.Processed,
		"records_succeeded": result.Succeeded,
		"records_skipped":   result.Skipped,
		"records_failed":    result.Failed,
		"pages":             result.Pages,
		"message":           message,
		"details_json":      details,
		"duration_ms":       duration.Milliseconds(),
	})
	if err != nil {
		config.LogError(s.logger, "xerosync", "finalizeLog", fmt.Sprint(logID), nil, err)
	}
}

func (s *Service) runLockKey(entity EntityType) string {
	return "XeroSyncRun:" + s.businessID + ":" + string(entity)
}

// PurgeLogs removes log entries older than the day threshold. ERROR entries
// are always retained regardless of age.
func (s *Service) PurgeLogs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = 90
	}
	cutoff := s.now().AddDate(0, 0, -olderThanDays)

	entries, err := s.logs.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	ids := make([]uint, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == models.SyncLogStatusError {
			continue
		}
		ids = append(ids, entry.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.logs.Delete(ctx, ids)
}

func runFailureMessage(err error) string {
	var refreshErr *TokenRefreshError
	var exchangeErr *AuthExchangeError
	if errors.As(err, &refreshErr) || errors.As(err, &exchangeErr) || errors.Is(err, ErrNotConnected) {
		return "reconnect to the accounting provider: " + err.Error()
	}
	return err.Error()
}
