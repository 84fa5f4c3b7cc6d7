package connect

import (
	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/jamtab/internal/app/session"
	"github.com/osa030/jamtab/internal/domain/jam"
)

// toConnectError maps session error kinds to connect codes.
func toConnectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, session.ErrInvalidCode):
		code = connect.CodeInvalidArgument
	case errors.Is(err, session.ErrAlreadyInSession), errors.Is(err, session.ErrNotInSession):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, jam.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, session.ErrConnectionFailed):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}
