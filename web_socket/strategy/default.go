package strategy

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// DefaultViolationThreshold is how many unclassifiable frames in a row a
// connection tolerates.
const DefaultViolationThreshold = 3

// DefaultStrategy treats normal close codes and a closed local socket as
// orderly, and tears the connection down after a run of violations.
type DefaultStrategy struct {
	threshold   int
	consecutive int
}

func NewDefaultStrategy() *DefaultStrategy {
	return &DefaultStrategy{threshold: DefaultViolationThreshold}
}

// NewThresholdStrategy is DefaultStrategy with a custom violation threshold.
// A threshold below 1 never tears down.
func NewThresholdStrategy(threshold int) *DefaultStrategy {
	return &DefaultStrategy{threshold: threshold}
}

func (s *DefaultStrategy) OnReadError(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	return false
}

func (s *DefaultStrategy) OnViolation() bool {
	s.consecutive++
	return s.threshold > 0 && s.consecutive >= s.threshold
}

func (s *DefaultStrategy) OnFrame() {
	s.consecutive = 0
}

func (s *DefaultStrategy) Consecutive() int {
	return s.consecutive
}
