package notification

import (
    "context"
    "log/slog"
)

const (
    // KindLeaseSigned is sent to the counterparty when one party signs.
    KindLeaseSigned = "lease_signed"
    // KindLeaseActivated is sent to both parties when a lease becomes active.
    KindLeaseActivated = "lease_activated"
    // KindLeaseTerminated is sent to the counterparty of a termination.
    KindLeaseTerminated = "lease_terminated"
    // KindLeaseCompleted is sent when a lease runs to its end date.
    KindLeaseCompleted = "lease_completed"
    // KindPaymentFailed is sent to the tenant when an upfront transfer fails.
    KindPaymentFailed = "lease_payment_failed"
)

// Message describes a notification payload.
type Message struct {
    Kind        string
    Destination string
    Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
    Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger; delivery
// channels (mail, push, voice) live outside this service.
type LoggerNotifier struct {
    logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
    return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
    if n == nil || n.logger == nil {
        return nil
    }
    n.logger.InfoContext(ctx, "notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
    return nil
}
