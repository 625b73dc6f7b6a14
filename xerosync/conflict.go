package xerosync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

// ResolveConflict applies a resolution to a PENDING conflict and re-synchronizes
// the entity's state. Resolving twice is rejected: only PENDING conflicts are
// looked up, so a resolved conflict behaves as not found.
func (s *Service) ResolveConflict(ctx context.Context, conflictID uint, req ResolveConflictRequest, resolvedBy int) error {
	switch req.Resolution {
	case models.ResolutionUseLocal, models.ResolutionUseRemote, models.ResolutionManual:
	default:
		return ErrInvalidResolution
	}

	conflict, err := s.conflicts.Get(ctx, conflictID)
	if err != nil {
		return err
	}
	if conflict == nil || conflict.Status != models.ConflictStatusPending {
		return ErrConflictNotFound
	}

	entity := EntityType(conflict.EntityType)
	conn, err := s.sessions.FreshConnection(ctx)
	if err != nil {
		return err
	}
	handler, err := s.newHandler(conn, entity)
	if err != nil {
		return err
	}

	switch req.Resolution {
	case models.ResolutionUseLocal:
		// Push the local version back to the ledger; local storage is
		// already the version the user chose.
		if err := handler.PushLocal(ctx, conflict.EntityId); err != nil {
			return err
		}
	case models.ResolutionUseRemote:
		rec := Record{ID: conflict.EntityId, Name: conflict.EntityName, Payload: conflict.RemoteDataJSON}
		if err := handler.Upsert(ctx, rec); err != nil {
			return err
		}
	case models.ResolutionManual:
		if len(req.ManualData) == 0 || !json.Valid(req.ManualData) {
			return &ValidationError{Reason: "manual resolution requires a valid merged payload"}
		}
		rec := Record{ID: conflict.EntityId, Name: conflict.EntityName, Payload: req.ManualData}
		if err := handler.Validate(rec); err != nil {
			return err
		}
		if err := handler.Upsert(ctx, rec); err != nil {
			return err
		}
		if err := handler.PushLocal(ctx, conflict.EntityId); err != nil {
			return err
		}
	}

	now := s.now()
	err = s.conflicts.Update(ctx, conflict.ID, map[string]interface{}{
		"status":      models.ConflictStatusResolved,
		"resolution":  req.Resolution,
		"resolved_by": resolvedBy,
		"resolved_at": now,
	})
	if err != nil {
		return err
	}

	// Re-anchor the sync state on the resolved content so the next pull sees
	// the entity as SYNCED rather than re-detecting the same divergence.
	state, err := s.states.Get(ctx, conflict.EntityType, conflict.EntityId)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.SyncState{
			BusinessId: s.businessID,
			EntityType: conflict.EntityType,
			EntityId:   conflict.EntityId,
		}
	}
	localHash, err := s.localHash(ctx, handler, conflict.EntityId)
	if err != nil {
		return err
	}
	state.LocalVersionHash = localHash
	switch req.Resolution {
	case models.ResolutionUseRemote:
		state.RemoteVersionHash = hashPayload(conflict.RemoteDataJSON)
	default:
		// use_local and manual pushed local content to the ledger; the next
		// pull confirms the remote hash.
		state.RemoteVersionHash = localHash
	}
	state.Status = models.SyncStateSynced
	if err := s.states.Save(ctx, state); err != nil {
		return err
	}

	entry := &models.SyncLogEntry{
		BusinessId:       s.businessID,
		Timestamp:        now,
		UserId:           resolvedBy,
		Direction:        resolutionDirection(req.Resolution),
		Entity:           conflict.EntityType,
		Status:           models.SyncLogStatusSuccess,
		RecordsProcessed: 1,
		RecordsSucceeded: 1,
		Message:          fmt.Sprintf("conflict on %s %s resolved with %s", conflict.EntityType, conflict.EntityId, req.Resolution),
		TriggeredBy:      models.SyncTriggeredManual,
	}
	return s.logs.Create(ctx, entry)
}

// PendingConflicts lists unresolved conflicts, newest first.
func (s *Service) PendingConflicts(ctx context.Context, limit int) ([]ConflictResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	conflicts, err := s.conflicts.ListPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ConflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, ConflictResponse{
			ID:         c.ID,
			EntityType: c.EntityType,
			EntityId:   c.EntityId,
			EntityName: c.EntityName,
			LocalData:  c.LocalDataJSON,
			RemoteData: c.RemoteDataJSON,
			Status:     c.Status,
			CreatedAt:  c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}

func resolutionDirection(resolution string) string {
	if resolution == models.ResolutionUseRemote {
		return models.SyncDirectionPull
	}
	return models.SyncDirectionPush
}
