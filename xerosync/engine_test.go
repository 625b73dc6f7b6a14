package xerosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

type fakeSessions struct {
	err error
}

func (f *fakeSessions) FreshConnection(ctx context.Context) (*models.XeroConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.XeroConnection{
		BusinessId:  "biz-1",
		Status:      models.IntegrationStatusConnected,
		AccessToken: "token",
		TenantId:    "tenant-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

type fakeToucher struct {
	calls int
}

func (f *fakeToucher) TouchSync(ctx context.Context, businessID string, at time.Time, success bool) error {
	f.calls++
	return nil
}

type fakeStateStore struct {
	states map[string]models.SyncState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]models.SyncState)}
}

func stateKey(entityType, entityID string) string { return entityType + "|" + entityID }

func (f *fakeStateStore) Get(ctx context.Context, entityType, entityID string) (*models.SyncState, error) {
	state, ok := f.states[stateKey(entityType, entityID)]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (f *fakeStateStore) Save(ctx context.Context, state *models.SyncState) error {
	if state.ID == 0 {
		state.ID = uint(len(f.states) + 1)
	}
	f.states[stateKey(state.EntityType, state.EntityId)] = *state
	return nil
}

type fakeConflictStore struct {
	conflicts []models.SyncConflict
	nextID    uint
}

func (f *fakeConflictStore) Get(ctx context.Context, id uint) (*models.SyncConflict, error) {
	for i := range f.conflicts {
		if f.conflicts[i].ID == id {
			copied := f.conflicts[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeConflictStore) FindPending(ctx context.Context, entityType, entityID string) (*models.SyncConflict, error) {
	for i := range f.conflicts {
		c := f.conflicts[i]
		if c.EntityType == entityType && c.EntityId == entityID && c.Status == models.ConflictStatusPending {
			copied := c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeConflictStore) Create(ctx context.Context, conflict *models.SyncConflict) error {
	f.nextID++
	conflict.ID = f.nextID
	conflict.CreatedAt = time.Now()
	f.conflicts = append(f.conflicts, *conflict)
	return nil
}

func (f *fakeConflictStore) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	for i := range f.conflicts {
		if f.conflicts[i].ID != id {
			continue
		}
		if v, ok := fields["status"].(string); ok {
			f.conflicts[i].Status = v
		}
		if v, ok := fields["resolution"].(string); ok {
			f.conflicts[i].Resolution = v
		}
		if v, ok := fields["resolved_by"].(int); ok {
			f.conflicts[i].ResolvedBy = v
		}
		if v, ok := fields["resolved_at"].(time.Time); ok {
			f.conflicts[i].ResolvedAt = &v
		}
		return nil
	}
	return fmt.Errorf("conflict %d not found", id)
}

func (f *fakeConflictStore) ListPending(ctx context.Context, limit int) ([]models.SyncConflict, error) {
	var out []models.SyncConflict
	for _, c := range f.conflicts {
		if c.Status == models.ConflictStatusPending {
			out = append(out, c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeConflictStore) CountPending(ctx context.Context) (int64, error) {
	var count int64
	for _, c := range f.conflicts {
		if c.Status == models.ConflictStatusPending {
			count++
		}
	}
	return count, nil
}

type fakeLogStore struct {
	entries      []models.SyncLogEntry
	nextID       uint
	summaryCalls int
	lastFilters  DashboardFilters
}

func (f *fakeLogStore) Create(ctx context.Context, entry *models.SyncLogEntry) error {
	f.nextID++
	entry.ID = f.nextID
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLogStore) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	for i := range f.entries {
		if f.entries[i].ID != id {
			continue
		}
		entry := &f.entries[i]
		if v, ok := fields["status"].(string); ok {
			entry.Status = v
		}
		if v, ok := fields["records_processed"].(int); ok {
			entry.RecordsProcessed = v
		}
		if v, ok := fields["records_succeeded"].(int); ok {
			entry.RecordsSucceeded = v
		}
		if v, ok := fields["records_skipped"].(int); ok {
			entry.RecordsSkipped = v
		}
		if v, ok := fields["records_failed"].(int); ok {
			entry.RecordsFailed = v
		}
		if v, ok := fields["pages"].(int); ok {
			entry.Pages = v
		}
		if v, ok := fields["message"].(string); ok {
			entry.Message = v
		}
		if v, ok := fields["duration_ms"].(int64); ok {
			entry.DurationMs = v
		}
		return nil
	}
	return fmt.Errorf("log %d not found", id)
}

func (f *fakeLogStore) HasRunning(ctx context.Context, entity string, since time.Time) (bool, error) {
	for _, entry := range f.entries {
		if entry.Entity == entity && entry.Status == models.SyncLogStatusInProgress && entry.Timestamp.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLogStore) List(ctx context.Context, filters DashboardFilters) ([]models.SyncLogEntry, int64, error) {
	return f.entries, int64(len(f.entries)), nil
}

func (f *fakeLogStore) Summary(ctx context.Context, filters DashboardFilters) (*DashboardSummary, error) {
	f.summaryCalls++
	f.lastFilters = filters
	summary := &DashboardSummary{}
	for _, entry := range f.entries {
		summary.TotalRuns++
		summary.RecordsProcessed += int64(entry.RecordsProcessed)
		summary.RecordsFailed += int64(entry.RecordsFailed)
		switch entry.Status {
		case models.SyncLogStatusSuccess:
			summary.SuccessCount++
		case models.SyncLogStatusWarning:
			summary.WarningCount++
		case models.SyncLogStatusError:
			summary.ErrorCount++
		case models.SyncLogStatusInProgress:
			summary.InProgressCount++
		}
	}
	return summary, nil
}

func (f *fakeLogStore) EntityBreakdown(ctx context.Context, filters DashboardFilters) ([]EntityBreakdownRow, error) {
	return nil, nil
}

func (f *fakeLogStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]models.SyncLogEntry, error) {
	var out []models.SyncLogEntry
	for _, entry := range f.entries {
		if entry.Timestamp.Before(cutoff) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeLogStore) Delete(ctx context.Context, ids []uint) (int64, error) {
	keep := f.entries[:0]
	var removed int64
	for _, entry := range f.entries {
		matched := false
		for _, id := range ids {
			if entry.ID == id {
				matched = true
				break
			}
		}
		if matched {
			removed++
		} else {
			keep = append(keep, entry)
		}
	}
	f.entries = keep
	return removed, nil
}

// fakeHandler serves scripted pages and keeps an in-memory local store.
type fakeHandler struct {
	entity    EntityType
	pages     [][]Record
	fetchErrs map[int]error
	invalid   map[string]bool
	local     map[string]json.RawMessage
	pushed    []string
	upserts   int
}

func newFakeHandler(pages [][]Record) *fakeHandler {
	return &fakeHandler{
		entity:    EntityContact,
		pages:     pages,
		fetchErrs: make(map[int]error),
		invalid:   make(map[string]bool),
		local:     make(map[string]json.RawMessage),
	}
}

func (h *fakeHandler) Entity() EntityType { return h.entity }

func (h *fakeHandler) FetchPage(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]Record, error) {
	if err := h.fetchErrs[page]; err != nil {
		return nil, err
	}
	if page > len(h.pages) {
		return nil, nil
	}
	return h.pages[page-1], nil
}

func (h *fakeHandler) Validate(rec Record) error {
	if h.invalid[rec.ID] {
		return &ValidationError{Reason: "scripted validation failure"}
	}
	return nil
}

func (h *fakeHandler) Upsert(ctx context.Context, rec Record) error {
	h.upserts++
	h.local[rec.ID] = append(json.RawMessage(nil), rec.Payload...)
	return nil
}

func (h *fakeHandler) Snapshot(ctx context.Context, remoteID string) (json.RawMessage, bool, error) {
	payload, ok := h.local[remoteID]
	if !ok {
		return nil, false, nil
	}
	return payload, true, nil
}

func (h *fakeHandler) PushLocal(ctx context.Context, remoteID string) error {
	h.pushed = append(h.pushed, remoteID)
	return nil
}

func newTestService(handler PullHandler) (*Service, *fakeStateStore, *fakeConflictStore, *fakeLogStore) {
	states := newFakeStateStore()
	conflicts := &fakeConflictStore{}
	logs := &fakeLogStore{}
	svc := &Service{
		businessID: "biz-1",
		sessions:   &fakeSessions{},
		tokens:     &fakeToucher{},
		states:     states,
		conflicts:  conflicts,
		logs:       logs,
		newHandler: func(conn *models.XeroConnection, entity EntityType) (PullHandler, error) {
			return handler, nil
		},
		cache:     newMemoryCache(),
		sleep:     func(time.Duration) {},
		now:       time.Now,
		pageDelay: 0,
		logger:    config.GetLogger(),
	}
	return svc, states, conflicts, logs
}

func contactRecord(id, name string) Record {
	payload, _ := json.Marshal(XeroContact{ContactID: id, Name: name, ContactStatus: "ACTIVE"})
	return Record{ID: id, Name: name, Payload: payload}
}

func TestPullIsIdempotent(t *testing.T) {
	pages := [][]Record{{contactRecord("c-1", "Alpha"), contactRecord("c-2", "Beta")}}
	handler := newFakeHandler(pages)
	svc, states, conflicts, _ := newTestService(handler)

	first, err := svc.Pull(context.Background(), EntityContact, PullOptions{})
	if err != nil {
		t.Fatalf("first pull failed: %v", err)
	}
	if first.Succeeded != 2 || first.Failed != 0 {
		t.Fatalf("first pull: got succeeded=%d failed=%d, want 2/0", first.Succeeded, first.Failed)
	}
	if len(states.states) != 2 {
		t.Fatalf("expected 2 sync states, got %d", len(states.states))
	}

	second, err := svc.Pull(context.Background(), EntityContact, PullOptions{})
	if err != nil {
		t.Fatalf("second pull failed: %v", err)
	}
	if second.Skipped != 2 || second.Succeeded != 0 {
		t.Fatalf("second pull: got skipped=%d succeeded=%d, want 2/0", second.Skipped, second.Succeeded)
	}
	if handler.upserts != 2 {
		t.Fatalf("rerun must not upsert unchanged records, got %d upserts", handler.upserts)
	}
	if len(conflicts.conflicts) != 0 {
		t.Fatalf("no conflicts expected, got %d", len(conflicts.conflicts))
	}
}

func TestPullPaginationTerminatesOnShortPage(t *testing.T) {
	pages := [][]Record{
		{contactRecord("c-1", "A"), contactRecord("c-2", "B")},
		{contactRecord("c-3", "C"), contactRecord("c-4", "D")},
		{contactRecord("c-5", "E")},
	}
	handler := newFakeHandler(pages)
	svc, _, _, _ := newTestService(handler)

	result, err := svc.Pull(context.Background(), EntityContact, PullOptions{PageSize: 2})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result.Pages != 3 {
		t.Fatalf("expected 3 pages, got %d", result.Pages)
	}
	if result.Processed != 5 {
		t.Fatalf("expected 5 records, got %d", result.Processed)
	}
}

func TestPullHonorsMaxPages(t *testing.T) {
	pages := [][]Record{
		{contactRecord("c-1", "A"), contactRecord("c-2", "B")},
		{contactRecord("c-3", "C"), contactRecord("c-4", "D")},
		{contactRecord("c-5", "E"), contactRecord("c-6", "F")},
	}
	handler := newFakeHandler(pages)
	svc, _, _, _ := newTestService(handler)

	result, err := svc.Pull(context.Background(), EntityContact, PullOptions{PageSize: 2, MaxPages: 2})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", result.Pages)
	}
	if result.Processed != 4 {
		t.Fatalf("expected 4 records, got %d", result.Processed)
	}
}

func TestPullValidationIsolation(t *testing.T) {
	pages := [][]Record{{
		contactRecord("c-1", "A"),
		contactRecord("c-bad", "broken"),
		contactRecord("c-3", "C"),
	}}
	handler := newFakeHandler(pages)
	handler.invalid["c-bad"] = true
	svc, _, _, logs := newTestService(handler)

	result, err := svc.Pull(context.Background(), EntityContact, PullOptions{})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("got succeeded=%d failed=%d, want 2/1", result.Succeeded, result.Failed)
	}
	if result.Success {
		t.Fatal("a run with failed records must not report success")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 reported error, got %d", len(result.Errors))
	}
	final := logs.entries[len(logs.entries)-1]
	if final.Status != models.SyncLogStatusWarning {
		t.Fatalf("expected WARNING log status, got %s", final.Status)
	}
}

func TestPullDetectsConflictWithoutDuplicates(t *testing.T) {
	pages := [][]Record{{contactRecord("c-1", "Alpha")}}
	handler := newFakeHandler(pages)
	svc, states, conflicts, _ := newTestService(handler)

	if _, err := svc.Pull(context.Background(), EntityContact, PullOptions{}); err != nil {
		t.Fatalf("initial pull failed: %v", err)
	}

	// Both sides change between runs.
	handler.local["c-1"] = json.RawMessage(`{"ContactID":"c-1","Name":"Alpha (edited locally)"}`)
	handler.pages = [][]Record{{contactRecord("c-1", "Alpha Renamed Remotely")}}

	result, err := svc.Pull(context.Background(), EntityContact, PullOptions{})
	if err != nil {
		t.Fatalf("conflicting pull failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("divergence must count as failed, got failed=%d", result.Failed)
	}
	if len(conflicts.conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts.conflicts))
	}
	state := states.states[stateKey("CONTACT", "c-1")]
	if state.Status != models.SyncStateConflict {
		t.Fatalf("expected CONFLICT state, got %s", state.Status)
	}
	if string(handler.local["c-1"]) != `{"ContactID":"c-1","Name":"Alpha (edited locally)"}` {
		t.Fatal("local data must not be overwritten while the conflict is pending")
	}

	// Re-running with the same remote data must not create a second conflict.
	rerun, err := svc.Pull(context.Background(), EntityContact, PullOptions{})
	if err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if rerun.Skipped != 1 {
		t.Fatalf("pending conflict should skip the record, got skipped=%d", rerun.Skipped)
	}
	if len(conflicts.conflicts) != 1 {
		t.Fatalf("rerun duplicated the conflict: got %d", len(conflicts.conflicts))
	}
}

func TestPullStopOnErrorHaltsRun(t *testing.T) {
	pages := [][]Record{
		{contactRecord("c-1", "A"), contactRecord("c-2", "B")},
		{contactRecord("c-3", "C"), contactRecord("c-4", "D")},
	}
	handler := newFakeHandler(pages)
	handler.invalid["c-2"] = true
	svc, _, _, logs := newTestService(handler)

	result, err := svc.Pull(context.Background(), EntityContact, PullOptions{PageSize: 2, StopOnError: true})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("run should halt after the failing record, processed=%d", result.Processed)
	}
	final := logs.entries[len(logs.entries)-1]
	if final.Status != models.SyncLogStatusError {
		t.Fatalf("expected ERROR log status, got %s", final.Status)
	}
}

func TestPullRejectsOverlappingRun(t *testing.T) {
	handler := newFakeHandler(nil)
	svc, _, _, logs := newTestService(handler)

	logs.entries = append(logs.entries, models.SyncLogEntry{
		ID:        99,
		Entity:    string(EntityContact),
		Status:    models.SyncLogStatusInProgress,
		Timestamp: time.Now(),
	})
	logs.nextID = 99

	if _, err := svc.Pull(context.Background(), EntityContact, PullOptions{}); err != ErrSyncInProgress {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestPurgeRetainsErrorEntries(t *testing.T) {
	handler := newFakeHandler(nil)
	svc, _, _, logs := newTestService(handler)

	old := time.Now().AddDate(0, 0, -120)
	logs.entries = []models.SyncLogEntry{
		{ID: 1, Status: models.SyncLogStatusSuccess, Timestamp: old},
		{ID: 2, Status: models.SyncLogStatusError, Timestamp: old},
		{ID: 3, Status: models.SyncLogStatusWarning, Timestamp: old},
		{ID: 4, Status: models.SyncLogStatusSuccess, Timestamp: time.Now()},
	}
	logs.nextID = 4

	removed, err := svc.PurgeLogs(context.Background(), 90)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed entries, got %d", removed)
	}
	for _, entry := range logs.entries {
		if entry.ID == 2 {
			return
		}
	}
	t.Fatal("ERROR entry was purged; it must be retained regardless of age")
}

func TestDashboardCachesResponses(t *testing.T) {
	handler := newFakeHandler(nil)
	svc, _, _, logs := newTestService(handler)
	logs.entries = []models.SyncLogEntry{
		{ID: 1, Status: models.SyncLogStatusSuccess, Timestamp: time.Now(), RecordsProcessed: 10},
	}

	filters := DashboardFilters{SummaryOnly: true}
	first, err := svc.Dashboard(context.Background(), filters)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if first.Summary.TotalRuns != 1 {
		t.Fatalf("expected 1 run, got %d", first.Summary.TotalRuns)
	}

	logs.entries = append(logs.entries, models.SyncLogEntry{ID: 2, Status: models.SyncLogStatusSuccess, Timestamp: time.Now()})
	second, err := svc.Dashboard(context.Background(), filters)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if second.Summary.TotalRuns != 1 {
		t.Fatal("cached response expected within the TTL")
	}
	if logs.summaryCalls != 1 {
		t.Fatalf("summary recomputed despite warm cache: %d calls", logs.summaryCalls)
	}

	// Different filters must never share a cache entry.
	other, err := svc.Dashboard(context.Background(), DashboardFilters{SummaryOnly: true, Status: models.SyncLogStatusError})
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if logs.summaryCalls != 2 {
		t.Fatal("distinct filter set should miss the cache")
	}
	_ = other

	svc.InvalidateDashboard()
	if _, err := svc.Dashboard(context.Background(), filters); err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if logs.summaryCalls != 3 {
		t.Fatal("invalidation should force a recompute")
	}
}

func TestDashboardErrorsViewFiltersByStatus(t *testing.T) {
	handler := newFakeHandler(nil)
	svc, _, _, logs := newTestService(handler)
	logs.entries = []models.SyncLogEntry{
		{ID: 1, Status: models.SyncLogStatusSuccess, Timestamp: time.Now()},
		{ID: 2, Status: models.SyncLogStatusError, Timestamp: time.Now()},
	}

	if _, err := svc.Dashboard(context.Background(), DashboardFilters{View: ViewErrors}); err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if logs.lastFilters.Status != models.SyncLogStatusError {
		t.Fatalf("errors view must query with status=ERROR, got %q", logs.lastFilters.Status)
	}

	// An explicit status filter wins over the view shorthand.
	if _, err := svc.Dashboard(context.Background(), DashboardFilters{View: ViewErrors, Status: models.SyncLogStatusWarning}); err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if logs.lastFilters.Status != models.SyncLogStatusWarning {
		t.Fatalf("explicit status filter was overridden, got %q", logs.lastFilters.Status)
	}
}

func TestDashboardConflictsViewListsPendingConflicts(t *testing.T) {
	handler := newFakeHandler(nil)
	svc, _, conflicts, logs := newTestService(handler)
	logs.entries = []models.SyncLogEntry{
		{ID: 1, Status: models.SyncLogStatusSuccess, Timestamp: time.Now()},
	}
	if err := conflicts.Create(context.Background(), &models.SyncConflict{
		BusinessId:     "biz-1",
		EntityType:     string(EntityContact),
		EntityId:       "c-1",
		EntityName:     "Alpha",
		LocalDataJSON:  []byte(`{"Name":"Alpha (local)"}`),
		RemoteDataJSON: []byte(`{"Name":"Alpha (remote)"}`),
		Status:         models.ConflictStatusPending,
	}); err != nil {
		t.Fatalf("seed conflict failed: %v", err)
	}

	resp, err := svc.Dashboard(context.Background(), DashboardFilters{View: ViewConflicts})
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if len(resp.Conflicts) != 1 || resp.Conflicts[0].EntityId != "c-1" {
		t.Fatalf("expected the pending conflict in the response, got %+v", resp.Conflicts)
	}
	if resp.Logs != nil {
		t.Fatal("conflicts view must not include the log listing")
	}
	if resp.Summary == nil || resp.Summary.PendingConflicts != 1 {
		t.Fatalf("summary should count the pending conflict, got %+v", resp.Summary)
	}
}

func TestDashboardRejectsUnknownView(t *testing.T) {
	handler := newFakeHandler(nil)
	svc, _, _, _ := newTestService(handler)

	_, err := svc.Dashboard(context.Background(), DashboardFilters{View: "latest"})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected a validation error for an unknown view, got %v", err)
	}
}

func TestQueueSyncRejectsOverlappingRun(t *testing.T) {
	handler := newFakeHandler(nil)
	svc, _, _, logs := newTestService(handler)

	logs.entries = append(logs.entries, models.SyncLogEntry{
		ID:        7,
		Entity:    string(EntityContact),
		Status:    models.SyncLogStatusInProgress,
		Timestamp: time.Now(),
	})
	logs.nextID = 7

	if _, err := svc.QueueSync(context.Background(), EntityContact, PullOptions{}); err != ErrSyncInProgress {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("rejected queue attempt must not create a log entry, got %d entries", len(logs.entries))
	}
}

// slowFetchHandler serves its first page normally, then blocks until the run
// context expires.
type slowFetchHandler struct {
	*fakeHandler
}

func (h *slowFetchHandler) FetchPage(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]Record, error) {
	if page > 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return h.fakeHandler.FetchPage(ctx, modifiedSince, page, pageSize)
}

func TestPullTimeoutRecordsPartialCounts(t *testing.T) {
	handler := &slowFetchHandler{fakeHandler: newFakeHandler([][]Record{
		{contactRecord("c-1", "A"), contactRecord("c-2", "B")},
	})}
	svc, _, _, logs := newTestService(handler)

	result, err := svc.Pull(context.Background(), EntityContact, PullOptions{
		PageSize: 2,
		Timeout:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result.Success {
		t.Fatal("a timed-out run must not report success")
	}
	if result.Processed != 2 || result.Succeeded != 2 {
		t.Fatalf("counts from completed pages must survive the timeout, got processed=%d succeeded=%d", result.Processed, result.Succeeded)
	}
	final := logs.entries[len(logs.entries)-1]
	if final.Status != models.SyncLogStatusWarning {
		t.Fatalf("expected WARNING log status after timeout, got %s", final.Status)
	}
	if final.RecordsProcessed != 2 {
		t.Fatalf("final log must carry the accumulated counts, got %d", final.RecordsProcessed)
	}
}
