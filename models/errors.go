package models

import "errors"

// Every error below aborts the run. ErrCancelled is the one that does not
// count as a failure: the operator declined a confirmation gate.
var (
	// ErrConfigMissing a required configuration value is absent or invalid
	ErrConfigMissing = errors.New("configuration missing")

	// ErrFetchFailed network, HTTP status, or decoding error while paginating
	ErrFetchFailed = errors.New("fetch failed")

	// ErrMalformedRecord a page entry lacks the identifier or username
	ErrMalformedRecord = errors.New("malformed user record")

	// ErrBackupFailed the dump process exited non-zero or could not start
	ErrBackupFailed = errors.New("backup failed")

	// ErrUpdateFailed statement or transaction error during the write
	ErrUpdateFailed = errors.New("update failed")

	// ErrCancelled the operator declined a confirmation gate
	ErrCancelled = errors.New("cancelled by operator")
)
