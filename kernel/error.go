package kernel

// Error describes a kernel error. Errors reported by kernel code are declared
// as package-level variables that point to an Error value so that callers can
// compare them by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
