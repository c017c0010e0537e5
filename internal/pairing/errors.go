package pairing

import "errors"

// Operation outcomes. These are ordinary results for the transport layer to
// translate into user-facing behaviour, not programming errors.
var (
	// ErrAlreadySearching is returned by Enqueue when the user already holds
	// a waiting entry.
	ErrAlreadySearching = errors.New("pairing: already searching")

	// ErrAlreadyInSession is returned by Enqueue when the user is a
	// participant in an active session.
	ErrAlreadyInSession = errors.New("pairing: already in an active session")

	// ErrNotSearching is returned by Match and FindMatch when the user does
	// not hold a waiting entry.
	ErrNotSearching = errors.New("pairing: not in the waiting pool")

	// ErrNoActiveSession is returned by operations that require the user to
	// be in an active session.
	ErrNoActiveSession = errors.New("pairing: no active session")
)
