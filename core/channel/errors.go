package channel

import "errors"

// Portable error kinds used across the runtime. Callers match them with
// errors.Is; most returned errors wrap one of these with context.
var (
	// ErrInvalid reports a nil channel or impl, a malformed URL, a
	// missing required field or a failed sub-init.
	ErrInvalid = errors.New("invalid argument")
	// ErrNotFound reports an unknown protocol, alias, master name,
	// post address or callback delete miss.
	ErrNotFound = errors.New("not found")
	// ErrExists reports a duplicate registration or duplicate channel
	// name in the context index.
	ErrExists = errors.New("already exists")
	// ErrAgain reports that no work is available right now (process),
	// that a post would block, or that an impl requested re-init.
	ErrAgain = errors.New("try again")
	// ErrNoEntry reports a missing module symbol or an unavailable
	// stat page.
	ErrNoEntry = errors.New("no entry")
	// ErrTimeout is only produced at poll boundaries.
	ErrTimeout = errors.New("timed out")
)
