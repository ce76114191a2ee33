package db

import "strings"

// IsUniqueViolation reports whether the provided error references a Postgres
// unique violation constraint. When constraintName is provided, the helper looks
// for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	// Postgres and sqlite (test driver) phrase the violation differently.
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(strings.ToLower(msg), "unique constraint failed")
}

// IsSerializationConflict reports whether the error is a Postgres
// serialization/deadlock failure that is safe to retry.
func IsSerializationConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "sqlstate 40001") ||
		strings.Contains(msg, "sqlstate 40p01")
}
