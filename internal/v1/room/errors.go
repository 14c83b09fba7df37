package room

import (
	"errors"
	"fmt"

	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

var (
	// ErrRoomExists reports a duplicate room registration.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound reports a lookup miss.
	ErrRoomNotFound = errors.New("room not found")
)

// NotAllowedError reports a trigger for an event outside the room's
// allow-list.
type NotAllowedError struct {
	Event  string
	RoomID protocol.RoomID
}

func (e *NotAllowedError) Error() string {
	return fmt.Sprintf("Event '%s' is not allowed in room '%s'", e.Event, e.RoomID)
}

// IsNotAllowed reports whether err is a NotAllowedError.
func IsNotAllowed(err error) bool {
	var na *NotAllowedError
	return errors.As(err, &na)
}
