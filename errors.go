package stowage

import "errors"

// Sentinel errors. Only ErrSerialization is ever returned to callers of
// Value methods; the malformed-data errors are reported through the
// registry logger and leave state untouched.
var (
	ErrMalformedValue  = errors.New("malformed persisted value")
	ErrMalformedExpiry = errors.New("malformed expiry marker")
	ErrSerialization   = errors.New("value not serializable")
)
