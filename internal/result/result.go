// Package result defines the status codes passed across component boundaries.
// Infrastructure failures travel as error values; these codes describe the
// disposition of an operation (admission, dispatch, persistence, parsing).
package result

// Code is the outcome of a cross-component operation.
type Code uint8

const (
	Ok Code = iota
	Error
	Timeout
	NotFound
	AlreadyExists
	CapacityExceeded
	InvalidArgument
	ShuttingDown
	ConnectionLost
	ParseError
	PersistenceError
)

var names = [...]string{
	Ok:               "ok",
	Error:            "error",
	Timeout:          "timeout",
	NotFound:         "not_found",
	AlreadyExists:    "already_exists",
	CapacityExceeded: "capacity_exceeded",
	InvalidArgument:  "invalid_argument",
	ShuttingDown:     "shutting_down",
	ConnectionLost:   "connection_lost",
	ParseError:       "parse_error",
	PersistenceError: "persistence_error",
}

func (c Code) String() string {
	if int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// IsOk reports whether the operation succeeded.
func (c Code) IsOk() bool { return c == Ok }
