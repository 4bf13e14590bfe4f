package response

import "fmt"

// ValidationErrorKind is the stage at which a payload was rejected.
type ValidationErrorKind int

const (
	KindMalformed ValidationErrorKind = iota + 1
	KindSchemaMismatch
	KindUnknownField
	KindOutOfRange
)

func (k ValidationErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindUnknownField:
		return "unknown_field"
	case KindOutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// ValidationError rejects a whole backend reply.
type ValidationError struct {
	Kind   ValidationErrorKind
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Detail != "":
		return fmt.Sprintf("response %s: %s: %s", e.Kind, e.Field, e.Detail)
	case e.Field != "":
		return fmt.Sprintf("response %s: %s", e.Kind, e.Field)
	case e.Detail != "":
		return fmt.Sprintf("response %s: %s", e.Kind, e.Detail)
	default:
		return "response " + e.Kind.String()
	}
}
