package message

import "errors"

// ErrBackChannelSettled is returned when a response is offered to a back
// channel that was already acknowledged, answered or closed.
var ErrBackChannelSettled = errors.New("message: back channel already settled")
