package sms

import "context"

// Sender delivers one transactional SMS. Failures are per-recipient and
// never abort the caller's fan-out loop.
type Sender interface {
	Send(ctx context.Context, phone, text string) (messageID string, err error)
}
