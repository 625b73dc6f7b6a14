package models

import "time"

const (
	IntegrationProviderXero = "xero"
)

const (
	IntegrationStatusConnected    = "connected"
	IntegrationStatusDisconnected = "disconnected"
	IntegrationStatusError        = "error"
)

// Sync directions.
const (
	SyncDirectionPull = "PULL"
	SyncDirectionPush = "PUSH"
	SyncDirectionBoth = "BOTH"
)

// Sync log statuses.
const (
	SyncLogStatusInProgress = "IN_PROGRESS"
	SyncLogStatusSuccess    = "SUCCESS"
	SyncLogStatusWarning    = "WARNING"
	SyncLogStatusError      = "ERROR"
)

// Per-entity sync states.
const (
	SyncStateSynced   = "SYNCED"
	SyncStatePending  = "PENDING"
	SyncStateConflict = "CONFLICT"
)

// Conflict statuses and resolution tokens.
const (
	ConflictStatusPending  = "PENDING"
	ConflictStatusResolved = "RESOLVED"

	ResolutionUseLocal  = "use_local"
	ResolutionUseRemote = "use_remote"
	ResolutionManual    = "manual"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredSchedule = "schedule"
	SyncTriggeredSystem   = "system"
)

// XeroConnection holds the OAuth token set and tenant identity for one
// business. One active row per business; only the session manager's refresh
// path mutates the token fields.
type XeroConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	BusinessId        string     `gorm:"uniqueIndex;not null" json:"business_id"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AccessToken       string     `gorm:"type:text" json:"-"`
	RefreshToken      string     `gorm:"type:text" json:"-"`
	TenantId          string     `gorm:"size:64" json:"tenant_id"`
	TenantName        string     `gorm:"size:255" json:"tenant_name"`
	ExpiresAt         time.Time  `json:"expires_at"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncState tracks the last-known local and remote content hash for one
// business entity, keyed by entity type + remote id.
type SyncState struct {
	ID                uint      `gorm:"primary_key" json:"id"`
	BusinessId        string    `gorm:"uniqueIndex:idx_sync_state,priority:1;not null" json:"business_id"`
	EntityType        string    `gorm:"uniqueIndex:idx_sync_state,priority:2;size:20;not null" json:"entity_type"`
	EntityId          string    `gorm:"uniqueIndex:idx_sync_state,priority:3;size:64;not null" json:"entity_id"`
	LocalVersionHash  string    `gorm:"size:64" json:"local_version_hash"`
	RemoteVersionHash string    `gorm:"size:64" json:"remote_version_hash"`
	Status            string    `gorm:"size:20;not null" json:"status"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncLogEntry is the append-only audit record of one sync run. Created
// IN_PROGRESS, updated in place while the run progresses, finalized at
// completion. Only the retention purge removes rows, and never ERROR rows.
type SyncLogEntry struct {
	ID               uint      `gorm:"primary_key" json:"id"`
	BusinessId       string    `gorm:"index;not null" json:"business_id"`
	Timestamp        time.Time `gorm:"index;not null" json:"timestamp"`
	UserId           int       `json:"user_id"`
	Direction        string    `gorm:"size:10;not null" json:"direction"`
	Entity           string    `gorm:"size:30;not null" json:"entity"`
	Status           string    `gorm:"size:20;not null" json:"status"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsSucceeded int       `json:"records_succeeded"`
	RecordsSkipped   int       `json:"records_skipped"`
	RecordsFailed    int       `json:"records_failed"`
	Pages            int       `json:"pages"`
	Message          string    `gorm:"size:500" json:"message"`
	DetailsJSON      []byte    `gorm:"type:json" json:"details"`
	DurationMs       int64     `json:"duration_ms"`
	TriggeredBy      string    `gorm:"size:20" json:"triggered_by"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncConflict captures a divergence between the local and remote version of
// one entity. At most one PENDING conflict exists per entity key.
type SyncConflict struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	BusinessId     string     `gorm:"index:idx_sync_conflict;not null" json:"business_id"`
	EntityType     string     `gorm:"index:idx_sync_conflict;size:20;not null" json:"entity_type"`
	EntityId       string     `gorm:"index:idx_sync_conflict;size:64;not null" json:"entity_id"`
	EntityName     string     `gorm:"size:255" json:"entity_name"`
	LocalDataJSON  []byte     `gorm:"type:json" json:"local_data"`
	RemoteDataJSON []byte     `gorm:"type:json" json:"remote_data"`
	Status         string     `gorm:"size:20;not null" json:"status"`
	Resolution     string     `gorm:"size:20" json:"resolution"`
	ResolvedBy     int        `json:"resolved_by"`
	SyncLogId      uint       `gorm:"index" json:"sync_log_id"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`
}
