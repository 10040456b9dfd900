package plan

// Scope classifies how far a planning error propagates: abort the whole
// invocation, abandon one sample's remaining chain, or warn and continue.
// Sibling branches already queued on the backend are never torn down.
type Scope int

const (
	// ScopeRun aborts the invocation (configuration, directory and missing
	// upstream-artifact errors).
	ScopeRun Scope = iota
	// ScopeBranch abandons the remaining steps of one sample's chain
	// (submission errors); other samples and patients proceed.
	ScopeBranch
	// ScopeWarn is logged and otherwise ignored.
	ScopeWarn
)

// Error pairs an error with its propagation scope.
type Error struct {
	Scope Scope
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }

func runErr(err error) *Error    { return &Error{Scope: ScopeRun, Err: err} }
func branchErr(err error) *Error { return &Error{Scope: ScopeBranch, Err: err} }
