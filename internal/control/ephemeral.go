package control

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ephemeralTTL is how long a self-deleting service acknowledgement stays
// visible before Control removes it, distinct from the durable
// replies commands like rules:show or download:info produce. A var, not
// a const, so tests can shrink it instead of sleeping real seconds.
var ephemeralTTL = 15 * time.Second

// notify posts a short-lived acknowledgement in reply to inv and deletes
// it after ephemeralTTL. Each notification carries its own correlation
// id (logged, never shown to the operator) so a failed send or a failed
// cleanup delete can be traced back to the command that triggered it
// without threading extra state through Dispatch's return value.
func (c *Control) notify(ctx context.Context, inv Invocation, text string) {
	correlationID := uuid.New().String()
	messageID, err := c.Transport.ReplyText(ctx, inv.ChatID, inv.MessageID, text)
	if err != nil {
		c.Logger.Warn("control: ephemeral notify failed",
			zap.String("correlation_id", correlationID), zap.String("trigger", inv.Trigger), zap.Error(err))
		return
	}
	go c.expire(inv.ChatID, messageID, correlationID)
}

// expire blocks for ephemeralTTL then deletes the service message. It
// runs detached from the request context: the acknowledgement must be
// cleaned up even if the command's own context has since been cancelled.
func (c *Control) expire(chatID int64, messageID int, correlationID string) {
	time.Sleep(ephemeralTTL)
	if err := c.Transport.DeleteMessage(context.Background(), chatID, messageID); err != nil {
		c.Logger.Warn("control: ephemeral cleanup failed",
			zap.String("correlation_id", correlationID), zap.Int("message_id", messageID), zap.Error(err))
	}
}
