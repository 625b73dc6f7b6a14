package xerosync

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

// Mailer sends operator notifications. Failures are reported per recipient
// but never fail the request itself.
type Mailer interface {
	Send(to, subject, body string) error
}

type smtpMailer struct{}

func (smtpMailer) Send(to, subject, body string) error {
	host := strings.TrimSpace(os.Getenv("SMTP_HOST"))
	if host == "" {
		return fmt.Errorf("SMTP_HOST is not set")
	}
	port := 587
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && p > 0 {
		port = p
	}
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = os.Getenv("SMTP_USERNAME")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(host, port, os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"))
	return d.DialAndSend(m)
}

// RequestInvoice records a request for a human operator to create an invoice
// in the remote ledger. The integration runs in pull-only mode for invoices,
// so nothing is written to the ledger here: admins get a task, an in-app
// notification and an email, and the request is audit-logged.
func (s *Service) RequestInvoice(ctx context.Context, input InvoiceRequestInput, requestedBy int) (*InvoiceRequestResult, error) {
	db := config.GetDB()

	admins, err := models.GetAdminUsers(ctx, s.businessID)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Create invoice in Xero for %s", input.CustomerName)
	description := invoiceRequestDescription(input)

	notified := 0
	var mailErrors []string
	for _, admin := range admins {
		task := &models.Task{
			BusinessId:       s.businessID,
			Title:            title,
			Description:      description,
			AssignedToUserId: admin.ID,
			CreatedByUserId:  requestedBy,
			Status:           models.TaskStatusOpen,
			DueDate:          input.DueDate,
		}
		if err := db.WithContext(ctx).Create(task).Error; err != nil {
			return nil, err
		}
		notification := &models.Notification{
			BusinessId: s.businessID,
			UserId:     admin.ID,
			Title:      title,
			Body:       description,
		}
		if err := db.WithContext(ctx).Create(notification).Error; err != nil {
			return nil, err
		}
		if admin.Email != nil && *admin.Email != "" {
			if err := s.mailer.Send(*admin.Email, title, description); err != nil {
				mailErrors = append(mailErrors, fmt.Sprintf("%s: %v", *admin.Email, err))
				config.LogError(s.logger, "xerosync", "RequestInvoice", *admin.Email, nil, err)
			}
		}
		notified++
	}

	status := models.SyncLogStatusSuccess
	message := fmt.Sprintf("invoice request for %s routed to %d admin(s)", input.CustomerName, notified)
	if notified == 0 {
		status = models.SyncLogStatusWarning
		message = "invoice request recorded but no active admin exists to act on it"
	} else if len(mailErrors) > 0 {
		status = models.SyncLogStatusWarning
		message = fmt.Sprintf("invoice request routed to %d admin(s); %d email(s) failed", notified, len(mailErrors))
	}

	entry := &models.SyncLogEntry{
		BusinessId:       s.businessID,
		Timestamp:        s.now(),
		UserId:           requestedBy,
		Direction:        models.SyncDirectionPush,
		Entity:           EntityInvoiceRequest,
		Status:           status,
		RecordsProcessed: 1,
		RecordsSucceeded: 1,
		Message:          message,
		TriggeredBy:      models.SyncTriggeredManual,
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		return nil, err
	}

	return &InvoiceRequestResult{
		Success:        true,
		NotifiedAdmins: notified,
		LogID:          entry.ID,
		NextSteps: []string{
			"An admin creates the invoice in the accounting provider.",
			"The next sync pulls the new invoice into local records automatically.",
		},
	}, nil
}

func invoiceRequestDescription(input InvoiceRequestInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer: %s\n", input.CustomerName)
	if !input.TotalAmount.IsZero() {
		fmt.Fprintf(&b, "Amount: %s\n", input.TotalAmount.StringFixed(2))
	}
	if input.InvoiceNumber != "" {
		fmt.Fprintf(&b, "Invoice number: %s\n", input.InvoiceNumber)
	}
	if input.DueDate != nil {
		fmt.Fprintf(&b, "Due date: %s\n", input.DueDate.Format("2006-01-02"))
	}
	if input.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", input.Description)
	}
	b.WriteString("\nCreate this invoice in Xero; the next sync will pull it in automatically.")
	return b.String()
}
