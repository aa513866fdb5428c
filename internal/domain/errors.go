package domain

// ErrorKind is the stable classification recorded on audit rows and returned
// to callers for every terminal failure.
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation_error"
	KindInsufficientFunds      ErrorKind = "insufficient_funds"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindExternalUnavailable    ErrorKind = "external_unavailable"
	KindExternalRejected       ErrorKind = "external_rejected"
	KindExhausted              ErrorKind = "exhausted"
	KindCancelled              ErrorKind = "cancelled"
)

func (k ErrorKind) String() string { return string(k) }

// Ptr returns a pointer to the kind's string form, for nullable columns.
func (k ErrorKind) Ptr() *string {
	s := string(k)
	return &s
}
