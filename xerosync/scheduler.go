package xerosync

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

// StartScheduler runs periodic pulls for every connected business. Disabled
// unless XERO_SYNC_CRON is set; stop via the returned cron's Stop.
func StartScheduler() *cron.Cron {
	schedule := strings.TrimSpace(os.Getenv("XERO_SYNC_CRON"))
	if schedule == "" {
		return nil
	}

	logger := config.GetLogger()
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		runScheduledPulls(logger)
	})
	if err != nil {
		config.LogError(logger, "xerosync", "StartScheduler", schedule, nil, err)
		return nil
	}
	c.Start()
	logger.WithFields(logrus.Fields{"module": "xerosync", "schedule": schedule}).
		Info("scheduled sync enabled")
	return c
}

func runScheduledPulls(logger *logrus.Logger) {
	db := config.GetDB()
	if db == nil {
		return
	}

	var connections []models.XeroConnection
	err := db.Where("status = ?", models.IntegrationStatusConnected).
		Find(&connections).Error
	if err != nil {
		config.LogError(logger, "xerosync", "runScheduledPulls", "", nil, err)
		return
	}

	for _, conn := range connections {
		svc := NewService(conn.BusinessId)
		since := conn.LastSuccessSyncAt

		for _, entity := range []EntityType{EntityContact, EntityInvoice, EntityPayment} {
			ctx, cancel := context.WithTimeout(context.Background(), defaultRunCeiling+time.Minute)
			_, err := svc.Pull(ctx, entity, PullOptions{
				ModifiedSince: since,
				TriggeredBy:   models.SyncTriggeredSchedule,
			})
			cancel()
			if err != nil {
				config.LogError(logger, "xerosync", "runScheduledPulls", conn.BusinessId, nil, err)
			}
		}
		svc.InvalidateDashboard()
	}
}
