package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPaymentStatus is published whenever a payment changes status.
	KindPaymentStatus = "payment.status_changed"
	// KindReceiptRequested asks the mail service to render and send a proof of payment.
	KindReceiptRequested = "payment.receipt_requested"
)

// Message describes a notification payload.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Data        any    `json:"data,omitempty"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger. It is the fallback when
// no broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "subject", message.Subject)
	return nil
}
