// Package mail hands verification and reset tokens to whatever delivers
// email. Delivery itself happens in the worker.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindVerification  Kind = "email_verification"
	KindPasswordReset Kind = "password_reset"
)

// Dispatcher is fire-and-forget from the caller's point of view: an error
// is reported but never undoes the token that was issued.
type Dispatcher interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// Message is the payload carried on the outbound stream.
type Message struct {
	Kind  Kind   `json:"type"`
	To    string `json:"to"`
	Token string `json:"token"`
}

func (m Message) Validate() error {
	switch m.Kind {
	case KindVerification, KindPasswordReset:
	default:
		return fmt.Errorf("unknown mail kind %q", m.Kind)
	}
	if m.To == "" || m.Token == "" {
		return errors.New("mail message requires recipient and token")
	}
	return nil
}

func (m Message) Values() map[string]any {
	return map[string]any{
		"type":  string(m.Kind),
		"to":    m.To,
		"token": m.Token,
	}
}

// Decode reads a message back from stream values.
func Decode(values map[string]interface{}) (Message, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	return msg, msg.Validate()
}
