package notify

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid notify configuration")
	ErrSendFailed    = errors.New("failed to send notification email")
)
