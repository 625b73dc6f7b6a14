package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Target document kinds a remote payment can settle.
const (
	PaymentTargetInvoice     = "INVOICE"
	PaymentTargetCreditNote  = "CREDIT_NOTE"
	PaymentTargetOverpayment = "OVERPAYMENT"
	PaymentTargetPrepayment  = "PREPAYMENT"
)

type CustomerPayment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	PaymentDate   time.Time       `json:"payment_date"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Reference     string          `gorm:"size:128" json:"reference"`
	TargetType    string          `gorm:"size:20" json:"target_type"`
	TargetXeroId  string          `gorm:"size:64" json:"target_xero_id"`
	XeroPaymentId string          `gorm:"index;size:64" json:"xero_payment_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
