package protocol

import "time"

// controlWriteTimeout bounds how long a control-frame write (ping) may block.
const controlWriteTimeout = 5 * time.Second

func deadlineNow() time.Time {
	return time.Now().Add(controlWriteTimeout)
}
