package session

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/jamtab/internal/app/session/state"
	"github.com/osa030/jamtab/internal/domain/jam"
)

var (
	ErrAlreadyInSession = state.ErrBusy
	ErrNotInSession     = state.ErrNoSession
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidCode      = errors.New("invalid join code")
	ErrQueueTabNotFound = jam.ErrQueueTabNotFound
)

// connectionFailed marks a transport or discovery error as ErrConnectionFailed
// while keeping the original error in the chain.
func connectionFailed(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrConnectionFailed)
}
