package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// SQLSTATE classes and codes worth another attempt
var transientClasses = map[pq.ErrorClass]bool{
	"08": true, // connection exception
}

var transientCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
	"53300": true, // too_many_connections
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientClasses[pqErr.Code.Class()] || transientCodes[pqErr.Code]
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
