package jam

import "github.com/cockroachdb/errors"

// ErrNotFound is the base kind for lookups of a missing entity
// (queue tab, member, playlist, room, past session).
var ErrNotFound = errors.New("not found")

var (
	ErrQueueTabNotFound = errors.Mark(errors.New("queue tab not found"), ErrNotFound)
	ErrMemberNotFound   = errors.Mark(errors.New("member not found"), ErrNotFound)
)
