package utils

import "errors"

// ErrorRecordNotFound is the store-boundary "no such row" sentinel. Lookups
// that miss wrap it so callers can classify with errors.Is without importing
// gorm.
var ErrorRecordNotFound = errors.New("record not found")

// ErrorPanic aborts startup on errors that leave the process unusable, such
// as a failed schema migration.
func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
