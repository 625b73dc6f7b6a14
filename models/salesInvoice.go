package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SalesInvoiceStatus string

const (
	SalesInvoiceStatusDraft     SalesInvoiceStatus = "Draft"
	SalesInvoiceStatusConfirmed SalesInvoiceStatus = "Confirmed"
	SalesInvoiceStatusPaid      SalesInvoiceStatus = "Paid"
	SalesInvoiceStatusVoid      SalesInvoiceStatus = "Void"
)

type SalesInvoice struct {
	ID              int                `gorm:"primary_key" json:"id"`
	BusinessId      string             `gorm:"index;not null" json:"business_id"`
	InvoiceNumber   string             `gorm:"size:64" json:"invoice_number"`
	ReferenceNumber string             `gorm:"size:64" json:"reference_number"`
	CustomerId      int                `gorm:"index" json:"customer_id"`
	CustomerName    string             `gorm:"size:255" json:"customer_name"`
	InvoiceDate     time.Time          `json:"invoice_date"`
	Total           decimal.Decimal    `gorm:"type:decimal(20,4)" json:"total"`
	AmountDue       decimal.Decimal    `gorm:"type:decimal(20,4)" json:"amount_due"`
	CurrentStatus   SalesInvoiceStatus `gorm:"size:20" json:"current_status"`
	Notes           string             `gorm:"type:text" json:"notes"`
	XeroInvoiceId   string             `gorm:"index;size:64" json:"xero_invoice_id"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
