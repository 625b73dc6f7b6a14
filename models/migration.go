package models

import (
	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/utils"
)

func MigrateTable() {
	db := config.GetDB()

	utils.ErrorPanic(db.AutoMigrate(
		&User{},
		&Customer{}, &SalesInvoice{}, &CustomerPayment{},
		&Task{}, &Notification{},
		&XeroConnection{}, &SyncState{}, &SyncLogEntry{}, &SyncConflict{},
	))
}
