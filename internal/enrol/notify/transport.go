package notify

import (
	"context"
	"log"
)

// LogTransport writes rendered messages to the process log. It stands in
// for a real mail gateway in development and single-binary deployments.
type LogTransport struct{}

// Send logs the message and never fails.
func (LogTransport) Send(_ context.Context, message Message) error {
	log.Printf("notify %s: %s", message.To, message.Subject)
	return nil
}
