package xerosync

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType selects the remote ledger entity a pull operates on.
type EntityType string

const (
	EntityContact EntityType = "CONTACT"
	EntityPayment EntityType = "PAYMENT"
	EntityInvoice EntityType = "INVOICE"
)

// EntityInvoiceRequest tags log entries produced by the pull-only-mode
// request flow, which never writes to the ledger.
const EntityInvoiceRequest = "INVOICE_REQUEST"

func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case EntityContact, EntityPayment, EntityInvoice:
		return EntityType(s), true
	}
	return "", false
}

// Record is the normalized envelope a PullHandler produces for one remote
// record. Payload is the canonical JSON used for content hashing and upserts.
type Record struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// Remote ledger DTOs. Field names follow the ledger's wire casing so the
// payload round-trips unchanged.

type XeroPhone struct {
	PhoneType   string `json:"PhoneType,omitempty"`
	PhoneNumber string `json:"PhoneNumber,omitempty"`
}

type XeroContact struct {
	ContactID      string      `json:"ContactID"`
	Name           string      `json:"Name"`
	EmailAddress   string      `json:"EmailAddress,omitempty"`
	ContactStatus  string      `json:"ContactStatus,omitempty"`
	Phones         []XeroPhone `json:"Phones,omitempty"`
	UpdatedDateUTC string      `json:"UpdatedDateUTC,omitempty"`
}

type XeroContactRef struct {
	ContactID string `json:"ContactID,omitempty"`
	Name      string `json:"Name,omitempty"`
}

type XeroInvoice struct {
	InvoiceID      string          `json:"InvoiceID"`
	InvoiceNumber  string          `json:"InvoiceNumber,omitempty"`
	Type           string          `json:"Type,omitempty"`
	Status         string          `json:"Status,omitempty"`
	Contact        *XeroContactRef `json:"Contact,omitempty"`
	DateString     string          `json:"DateString,omitempty"`
	Total          decimal.Decimal `json:"Total"`
	AmountDue      decimal.Decimal `json:"AmountDue"`
	UpdatedDateUTC string          `json:"UpdatedDateUTC,omitempty"`
}

type XeroPaymentTarget struct {
	InvoiceID     string `json:"InvoiceID,omitempty"`
	CreditNoteID  string `json:"CreditNoteID,omitempty"`
	OverpaymentID string `json:"OverpaymentID,omitempty"`
	PrepaymentID  string `json:"PrepaymentID,omitempty"`
	Number        string `json:"Number,omitempty"`
}

type XeroPayment struct {
	PaymentID      string             `json:"PaymentID"`
	Status         string             `json:"Status,omitempty"`
	Amount         decimal.Decimal    `json:"Amount"`
	Date           string             `json:"Date,omitempty"`
	Reference      string             `json:"Reference,omitempty"`
	Invoice        *XeroPaymentTarget `json:"Invoice,omitempty"`
	CreditNote     *XeroPaymentTarget `json:"CreditNote,omitempty"`
	Overpayment    *XeroPaymentTarget `json:"Overpayment,omitempty"`
	Prepayment     *XeroPaymentTarget `json:"Prepayment,omitempty"`
	UpdatedDateUTC string             `json:"UpdatedDateUTC,omitempty"`
}

// PullOptions controls one pull run.
type PullOptions struct {
	ModifiedSince *time.Time     `json:"modifiedSince"`
	PageSize      int            `json:"pageSize"`
	MaxPages      int            `json:"maxPages"`
	StopOnError   bool           `json:"stopOnError"`
	Timeout       time.Duration  `json:"-"`
	TriggeredBy   string         `json:"triggeredBy"`
	UserID        int            `json:"userId"`
	LogID         uint           `json:"logId"`
}

const (
	defaultPageSize    = 100
	defaultMaxPages    = 100
	defaultPageDelay   = 200 * time.Millisecond
	defaultRunCeiling  = 5 * time.Minute
	errorReportLimit   = 100
	logUpdateEveryPage = 5
)

func (o PullOptions) withDefaults() PullOptions {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultRunCeiling
	}
	return o
}

// PullResult is the aggregate outcome of one pull run.
type PullResult struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Pages     int           `json:"pages"`
	Duration  time.Duration `json:"-"`
	Errors    []string      `json:"errors"`
	LogID     uint          `json:"logId"`
}

// Dashboard view tokens.
const (
	ViewAll       = "all"
	ViewSummary   = "summary"
	ViewErrors    = "errors"
	ViewConflicts = "conflicts"
)

// DashboardFilters keys a dashboard query; the full set also keys the cache.
type DashboardFilters struct {
	Page        int        `form:"page" json:"page"`
	Limit       int        `form:"limit" json:"limit"`
	Status      string     `form:"status" json:"status"`
	Entity      string     `form:"entity" json:"entity"`
	Direction   string     `form:"direction" json:"direction"`
	DateFrom    *time.Time `form:"dateFrom" json:"dateFrom" time_format:"2006-01-02"`
	DateTo      *time.Time `form:"dateTo" json:"dateTo" time_format:"2006-01-02"`
	Search      string     `form:"search" json:"search"`
	View        string     `form:"view" json:"view"`
	SummaryOnly bool       `form:"summaryOnly" json:"summaryOnly"`
}

type DashboardSummary struct {
	TotalRuns        int64 `json:"totalRuns"`
	SuccessCount     int64 `json:"successCount"`
	WarningCount     int64 `json:"warningCount"`
	ErrorCount       int64 `json:"errorCount"`
	InProgressCount  int64 `json:"inProgressCount"`
	RecordsProcessed int64 `json:"recordsProcessed"`
	RecordsFailed    int64 `json:"recordsFailed"`
	PendingConflicts int64 `json:"pendingConflicts"`
}

type EntityBreakdownRow struct {
	Entity           string `json:"entity"`
	Runs             int64  `json:"runs"`
	RecordsProcessed int64  `json:"recordsProcessed"`
	RecordsFailed    int64  `json:"recordsFailed"`
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type DashboardResponse struct {
	Summary         *DashboardSummary    `json:"summary"`
	EntityBreakdown []EntityBreakdownRow `json:"entityBreakdown"`
	Logs            []LogEntryResponse   `json:"logs"`
	Conflicts       []ConflictResponse   `json:"conflicts"`
	Pagination      *Pagination          `json:"pagination,omitempty"`
}

type LogEntryResponse struct {
	ID               uint    `json:"id"`
	Timestamp        string  `json:"timestamp"`
	Direction        string  `json:"direction"`
	Entity           string  `json:"entity"`
	Status           string  `json:"status"`
	RecordsProcessed int     `json:"recordsProcessed"`
	RecordsSucceeded int     `json:"recordsSucceeded"`
	RecordsSkipped   int     `json:"recordsSkipped"`
	RecordsFailed    int     `json:"recordsFailed"`
	Message          string  `json:"message"`
	DurationMs       int64   `json:"durationMs"`
	TriggeredBy      string  `json:"triggeredBy"`
}

type ConflictResponse struct {
	ID         uint            `json:"id"`
	EntityType string          `json:"entityType"`
	EntityId   string          `json:"entityId"`
	EntityName string          `json:"entityName"`
	LocalData  json.RawMessage `json:"localData"`
	RemoteData json.RawMessage `json:"remoteData"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"createdAt"`
}

// TriggerSyncRequest is the body of the manual sync endpoint.
type TriggerSyncRequest struct {
	Entities      []string   `json:"entities"`
	ModifiedSince *time.Time `json:"modifiedSince"`
	PageSize      int        `json:"pageSize"`
	MaxPages      int        `json:"maxPages"`
	StopOnError   bool       `json:"stopOnError"`
	Async         bool       `json:"async"`
}

// ResolveConflictRequest is the body of the conflict resolution endpoint.
type ResolveConflictRequest struct {
	Resolution string          `json:"resolution"`
	ManualData json.RawMessage `json:"manualData"`
}

// InvoiceRequestInput asks a human operator to create an invoice in the
// remote ledger (pull-only mode: the integration never writes invoices).
type InvoiceRequestInput struct {
	CustomerName  string          `json:"customerName" binding:"required"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Description   string          `json:"description"`
	DueDate       *time.Time      `json:"dueDate"`
}

type InvoiceRequestResult struct {
	Success        bool     `json:"success"`
	NotifiedAdmins int      `json:"notifiedAdmins"`
	NextSteps      []string `json:"nextSteps"`
	LogID          uint     `json:"logId"`
}

// SyncPubSubPayload is the queued-run message for the worker endpoint.
type SyncPubSubPayload struct {
	BusinessId string          `json:"business_id"`
	Entity     string          `json:"entity"`
	LogId      uint            `json:"log_id"`
	Options    PullOptions     `json:"options"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
