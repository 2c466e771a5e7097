// Package delivery defines the outbound channels used to hand one-time
// codes to users. Implementations receive the plaintext code exactly once,
// at send time; nothing in this package persists it.
package delivery

import "context"

// Message is one code delivery request. Code is plaintext and must not
// be logged or stored by implementations.
type Message struct {
	Recipient string
	Purpose   string
	Code      string
	TTLSecs   int
}

// EmailSender delivers a challenge code over email.
type EmailSender interface {
	SendCode(ctx context.Context, msg Message) error
}

// SMSGateway delivers a challenge code over SMS.
type SMSGateway interface {
	SendCode(ctx context.Context, msg Message) error
}
