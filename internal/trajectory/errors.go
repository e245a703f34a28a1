package trajectory

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned by Accept once the engine has been closed.
// The caller must start a new engine for a new session.
var ErrSessionClosed = errors.New("session closed")

// OutOfOrderError reports an event whose timestamp precedes the last
// accepted event. The engine state is unchanged; callers may drop the
// event, buffer and reorder, or log it.
type OutOfOrderError struct {
	EventTime time.Time
	LastTime  time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order event: timestamp %s precedes last accepted %s",
		e.EventTime.Format(time.RFC3339Nano), e.LastTime.Format(time.RFC3339Nano))
}

// IsOutOfOrder reports whether err is an OutOfOrderError.
func IsOutOfOrder(err error) bool {
	var ooo *OutOfOrderError
	return errors.As(err, &ooo)
}
