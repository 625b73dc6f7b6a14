package xerosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/utils"
)

func defaultHandlerFactory(db *gorm.DB, businessID string) func(conn *models.XeroConnection, entity EntityType) (PullHandler, error) {
	return func(conn *models.XeroConnection, entity EntityType) (PullHandler, error) {
		client, err := NewClient(conn.AccessToken, conn.TenantId)
		if err != nil {
			return nil, err
		}
		switch entity {
		case EntityContact:
			return &contactHandler{db: db, businessID: businessID, client: client}, nil
		case EntityPayment:
			return &paymentHandler{db: db, businessID: businessID, client: client}, nil
		case EntityInvoice:
			return &invoiceHandler{db: db, businessID: businessID, client: client}, nil
		}
		return nil, fmt.Errorf("unsupported entity type %q", entity)
	}
}

// ---- contacts ----

type contactHandler struct {
	db         *gorm.DB
	businessID string
	client     *Client
}

func (h *contactHandler) Entity() EntityType { return EntityContact }

func (h *contactHandler) FetchPage(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]Record, error) {
	contacts, err := h.client.ListContacts(ctx, modifiedSince, page, pageSize)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(contacts))
	for _, contact := range contacts {
		payload, err := json.Marshal(contact)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{ID: contact.ContactID, Name: contact.Name, Payload: payload})
	}
	return records, nil
}

func (h *contactHandler) Validate(rec Record) error {
	var contact XeroContact
	if err := json.Unmarshal(rec.Payload, &contact); err != nil {
		return &ValidationError{Reason: "malformed contact payload"}
	}
	if strings.TrimSpace(contact.ContactID) == "" {
		return &ValidationError{Reason: "contact is missing its remote id"}
	}
	if strings.TrimSpace(contact.Name) == "" {
		return &ValidationError{Reason: "contact is missing a name"}
	}
	return nil
}

func (h *contactHandler) Upsert(ctx context.Context, rec Record) error {
	var contact XeroContact
	if err := json.Unmarshal(rec.Payload, &contact); err != nil {
		return err
	}

	customer, err := h.find(ctx, contact.ContactID)
	if err != nil {
		return err
	}
	if customer == nil {
		customer = &models.Customer{
			BusinessId:    h.businessID,
			XeroContactId: contact.ContactID,
		}
	}

	customer.Name = contact.Name
	customer.Email = contact.EmailAddress
	customer.Phone = ""
	customer.Mobile = ""
	for _, phone := range contact.Phones {
		switch phone.PhoneType {
		case "MOBILE":
			customer.Mobile = phone.PhoneNumber
		case "DEFAULT", "":
			customer.Phone = phone.PhoneNumber
		}
	}
	active := contact.ContactStatus != "ARCHIVED"
	customer.IsActive = &active

	return h.db.WithContext(ctx).Save(customer).Error
}

func (h *contactHandler) Snapshot(ctx context.Context, remoteID string) (json.RawMessage, bool, error) {
	customer, err := h.find(ctx, remoteID)
	if err != nil {
		return nil, false, err
	}
	if customer == nil {
		return nil, false, nil
	}
	payload, err := json.Marshal(contactFromCustomer(customer))
	return payload, true, err
}

func (h *contactHandler) PushLocal(ctx context.Context, remoteID string) error {
	customer, err := h.find(ctx, remoteID)
	if err != nil {
		return err
	}
	if customer == nil {
		return errLocalMissing("customer", remoteID)
	}
	return h.client.UpdateContact(ctx, contactFromCustomer(customer))
}

func (h *contactHandler) find(ctx context.Context, remoteID string) (*models.Customer, error) {
	var customer models.Customer
	err := h.db.WithContext(ctx).
		Where("business_id = ? AND xero_contact_id = ?", h.businessID, remoteID).
		First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func contactFromCustomer(customer *models.Customer) XeroContact {
	status := "ACTIVE"
	if customer.IsActive != nil && !*customer.IsActive {
		status = "ARCHIVED"
	}
	var phones []XeroPhone
	if customer.Phone != "" {
		phones = append(phones, XeroPhone{PhoneType: "DEFAULT", PhoneNumber: customer.Phone})
	}
	if customer.Mobile != "" {
		phones = append(phones, XeroPhone{PhoneType: "MOBILE", PhoneNumber: customer.Mobile})
	}
	return XeroContact{
		ContactID:     customer.XeroContactId,
		Name:          customer.Name,
		EmailAddress:  customer.Email,
		ContactStatus: status,
		Phones:        phones,
	}
}

// ---- invoices ----

type invoiceHandler struct {
	db         *gorm.DB
	businessID string
	client     *Client
}

func (h *invoiceHandler) Entity() EntityType { return EntityInvoice }

func (h *invoiceHandler) FetchPage(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]Record, error) {
	invoices, err := h.client.ListInvoices(ctx, modifiedSince, page, pageSize)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(invoices))
	for _, invoice := range invoices {
		payload, err := json.Marshal(invoice)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{ID: invoice.InvoiceID, Name: invoice.InvoiceNumber, Payload: payload})
	}
	return records, nil
}

func (h *invoiceHandler) Validate(rec Record) error {
	var invoice XeroInvoice
	if err := json.Unmarshal(rec.Payload, &invoice); err != nil {
		return &ValidationError{Reason: "malformed invoice payload"}
	}
	if strings.TrimSpace(invoice.InvoiceID) == "" {
		return &ValidationError{Reason: "invoice is missing its remote id"}
	}
	if invoice.Status == "DELETED" {
		return &ValidationError{Reason: "invoice was deleted remotely"}
	}
	if invoice.Total.IsNegative() {
		return &ValidationError{Reason: "invoice total is negative"}
	}
	return nil
}

func (h *invoiceHandler) Upsert(ctx context.Context, rec Record) error {
	var remote XeroInvoice
	if err := json.Unmarshal(rec.Payload, &remote); err != nil {
		return err
	}

	invoice, err := h.find(ctx, remote.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		invoice = &models.SalesInvoice{
			BusinessId:    h.businessID,
			XeroInvoiceId: remote.InvoiceID,
		}
	}

	invoice.InvoiceNumber = remote.InvoiceNumber
	invoice.Total = remote.Total
	invoice.AmountDue = remote.AmountDue
	invoice.CurrentStatus = localInvoiceStatus(remote.Status)
	if remote.DateString != "" {
		if parsed, err := time.Parse("2006-01-02T15:04:05", remote.DateString); err == nil {
			invoice.InvoiceDate = parsed
		}
	}
	if remote.Contact != nil {
		invoice.CustomerName = remote.Contact.Name
		if remote.Contact.ContactID != "" {
			var customer models.Customer
			err := h.db.WithContext(ctx).
				Where("business_id = ? AND xero_contact_id = ?", h.businessID, remote.Contact.ContactID).
				First(&customer).Error
			if err == nil {
				invoice.CustomerId = customer.ID
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
	}

	return h.db.WithContext(ctx).Save(invoice).Error
}

func (h *invoiceHandler) Snapshot(ctx context.Context, remoteID string) (json.RawMessage, bool, error) {
	invoice, err := h.find(ctx, remoteID)
	if err != nil {
		return nil, false, err
	}
	if invoice == nil {
		return nil, false, nil
	}
	payload, err := json.Marshal(invoiceFromLocal(invoice))
	return payload, true, err
}

func (h *invoiceHandler) PushLocal(ctx context.Context, remoteID string) error {
	invoice, err := h.find(ctx, remoteID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return errLocalMissing("sales invoice", remoteID)
	}
	return h.client.UpdateInvoice(ctx, invoiceFromLocal(invoice))
}

func (h *invoiceHandler) find(ctx context.Context, remoteID string) (*models.SalesInvoice, error) {
	var invoice models.SalesInvoice
	err := h.db.WithContext(ctx).
		Where("business_id = ? AND xero_invoice_id = ?", h.businessID, remoteID).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func localInvoiceStatus(remote string) models.SalesInvoiceStatus {
	switch remote {
	case "DRAFT", "SUBMITTED":
		return models.SalesInvoiceStatusDraft
	case "AUTHORISED":
		return models.SalesInvoiceStatusConfirmed
	case "PAID":
		return models.SalesInvoiceStatusPaid
	case "VOIDED", "DELETED":
		return models.SalesInvoiceStatusVoid
	}
	return models.SalesInvoiceStatusDraft
}

func remoteInvoiceStatus(local models.SalesInvoiceStatus) string {
	switch local {
	case models.SalesInvoiceStatusConfirmed:
		return "AUTHORISED"
	case models.SalesInvoiceStatusPaid:
		return "PAID"
	case models.SalesInvoiceStatusVoid:
		return "VOIDED"
	}
	return "DRAFT"
}

func invoiceFromLocal(invoice *models.SalesInvoice) XeroInvoice {
	inv := XeroInvoice{
		InvoiceID:     invoice.XeroInvoiceId,
		InvoiceNumber: invoice.InvoiceNumber,
		Type:          "ACCREC",
		Status:        remoteInvoiceStatus(invoice.CurrentStatus),
		Total:         invoice.Total,
		AmountDue:     invoice.AmountDue,
	}
	if !invoice.InvoiceDate.IsZero() {
		inv.DateString = invoice.InvoiceDate.Format("2006-01-02T15:04:05")
	}
	if invoice.CustomerName != "" {
		inv.Contact = &XeroContactRef{Name: invoice.CustomerName}
	}
	return inv
}

// ---- payments ----

type paymentHandler struct {
	db         *gorm.DB
	businessID string
	client     *Client
}

func (h *paymentHandler) Entity() EntityType { return EntityPayment }

func (h *paymentHandler) FetchPage(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]Record, error) {
	payments, err := h.client.ListPayments(ctx, modifiedSince, page, pageSize)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(payments))
	for _, payment := range payments {
		payload, err := json.Marshal(payment)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{ID: payment.PaymentID, Name: payment.Reference, Payload: payload})
	}
	return records, nil
}

// Validate enforces the single-target rule: a payment settles exactly one
// document (invoice, credit note, overpayment or prepayment).
func (h *paymentHandler) Validate(rec Record) error {
	var payment XeroPayment
	if err := json.Unmarshal(rec.Payload, &payment); err != nil {
		return &ValidationError{Reason: "malformed payment payload"}
	}
	if strings.TrimSpace(payment.PaymentID) == "" {
		return &ValidationError{Reason: "payment is missing its remote id"}
	}
	if payment.Status == "DELETED" {
		return &ValidationError{Reason: "payment was deleted remotely"}
	}
	if payment.Amount.IsNegative() {
		return &ValidationError{Reason: "payment amount is negative"}
	}
	targetType, targetID := paymentTarget(payment)
	if targetType == "" || targetID == "" {
		return &ValidationError{Reason: "payment does not reference exactly one target document"}
	}
	return nil
}

func (h *paymentHandler) Upsert(ctx context.Context, rec Record) error {
	var remote XeroPayment
	if err := json.Unmarshal(rec.Payload, &remote); err != nil {
		return err
	}

	payment, err := h.find(ctx, remote.PaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		payment = &models.CustomerPayment{
			BusinessId:    h.businessID,
			XeroPaymentId: remote.PaymentID,
		}
	}

	payment.Amount = remote.Amount
	payment.Reference = remote.Reference
	payment.TargetType, payment.TargetXeroId = paymentTarget(remote)
	if remote.Date != "" {
		if parsed, err := time.Parse("2006-01-02", remote.Date); err == nil {
			payment.PaymentDate = parsed
		}
	}

	if err := h.db.WithContext(ctx).Save(payment).Error; err != nil {
		return err
	}
	return h.settleInvoice(ctx, payment, remote)
}

// settleInvoice keeps the linked invoice's amount due in step with the
// applied payment, mirroring how the ledger itself allocates payments.
func (h *paymentHandler) settleInvoice(ctx context.Context, payment *models.CustomerPayment, remote XeroPayment) error {
	if payment.TargetType != models.PaymentTargetInvoice {
		return nil
	}
	var invoice models.SalesInvoice
	err := h.db.WithContext(ctx).
		Where("business_id = ? AND xero_invoice_id = ?", h.businessID, payment.TargetXeroId).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	due := invoice.Total.Sub(h.totalApplied(ctx, payment.TargetXeroId))
	if due.IsNegative() {
		due = decimal.Zero
	}
	fields := map[string]interface{}{"amount_due": due}
	if due.IsZero() && invoice.CurrentStatus == models.SalesInvoiceStatusConfirmed {
		fields["current_status"] = models.SalesInvoiceStatusPaid
	}
	return h.db.WithContext(ctx).Model(&models.SalesInvoice{}).
		Where("id = ?", invoice.ID).
		Updates(fields).Error
}

func (h *paymentHandler) totalApplied(ctx context.Context, invoiceXeroID string) decimal.Decimal {
	var payments []models.CustomerPayment
	h.db.WithContext(ctx).
		Where("business_id = ? AND target_type = ? AND target_xero_id = ?",
			h.businessID, models.PaymentTargetInvoice, invoiceXeroID).
		Find(&payments)
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

func (h *paymentHandler) Snapshot(ctx context.Context, remoteID string) (json.RawMessage, bool, error) {
	payment, err := h.find(ctx, remoteID)
	if err != nil {
		return nil, false, err
	}
	if payment == nil {
		return nil, false, nil
	}
	payload, err := json.Marshal(paymentFromLocal(payment))
	return payload, true, err
}

func (h *paymentHandler) PushLocal(ctx context.Context, remoteID string) error {
	payment, err := h.find(ctx, remoteID)
	if err != nil {
		return err
	}
	if payment == nil {
		return errLocalMissing("customer payment", remoteID)
	}
	return h.client.UpdatePayment(ctx, paymentFromLocal(payment))
}

func (h *paymentHandler) find(ctx context.Context, remoteID string) (*models.CustomerPayment, error) {
	var payment models.CustomerPayment
	err := h.db.WithContext(ctx).
		Where("business_id = ? AND xero_payment_id = ?", h.businessID, remoteID).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// paymentTarget returns the single target document a payment settles, or
// empty strings when zero or more than one is referenced.
func paymentTarget(payment XeroPayment) (string, string) {
	type candidate struct {
		kind string
		id   string
	}
	var found []candidate
	if payment.Invoice != nil && payment.Invoice.InvoiceID != "" {
		found = append(found, candidate{models.PaymentTargetInvoice, payment.Invoice.InvoiceID})
	}
	if payment.CreditNote != nil && payment.CreditNote.CreditNoteID != "" {
		found = append(found, candidate{models.PaymentTargetCreditNote, payment.CreditNote.CreditNoteID})
	}
	if payment.Overpayment != nil && payment.Overpayment.OverpaymentID != "" {
		found = append(found, candidate{models.PaymentTargetOverpayment, payment.Overpayment.OverpaymentID})
	}
	if payment.Prepayment != nil && payment.Prepayment.PrepaymentID != "" {
		found = append(found, candidate{models.PaymentTargetPrepayment, payment.Prepayment.PrepaymentID})
	}
	if len(found) != 1 {
		return "", ""
	}
	return found[0].kind, found[0].id
}

func paymentFromLocal(payment *models.CustomerPayment) XeroPayment {
	out := XeroPayment{
		PaymentID: payment.XeroPaymentId,
		Status:    "AUTHORISED",
		Amount:    payment.Amount,
		Reference: payment.Reference,
	}
	if !payment.PaymentDate.IsZero() {
		out.Date = payment.PaymentDate.Format("2006-01-02")
	}
	target := &XeroPaymentTarget{}
	switch payment.TargetType {
	case models.PaymentTargetInvoice:
		target.InvoiceID = payment.TargetXeroId
		out.Invoice = target
	case models.PaymentTargetCreditNote:
		target.CreditNoteID = payment.TargetXeroId
		out.CreditNote = target
	case models.PaymentTargetOverpayment:
		target.OverpaymentID = payment.TargetXeroId
		out.Overpayment = target
	case models.PaymentTargetPrepayment:
		target.PrepaymentID = payment.TargetXeroId
		out.Prepayment = target
	}
	return out
}

func errLocalMissing(kind, remoteID string) error {
	return fmt.Errorf("%s with remote id %s does not exist locally: %w", kind, remoteID, utils.ErrorRecordNotFound)
}

