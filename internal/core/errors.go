package core

import "errors"

// ErrRoomClosed is returned by Room.Join when the room has been removed from
// the registry. Callers resolve the room again and retry; the error never
// reaches a client.
var ErrRoomClosed = errors.New("room closed")
