package domain

import (
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

// ParseChannel is case-insensitive; an empty value means email.
func ParseChannel(s string) (Channel, bool) {
	if s == "" {
		return ChannelEmail, true
	}
	c := Channel(strings.ToUpper(s))
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return c, true
	}
	return "", false
}

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusPending, StatusSent, StatusFailed:
		return st, true
	}
	return "", false
}

type Notification struct {
	ID             string            `bson:"_id,omitempty"`
	UserID         int64             `bson:"user_id"`
	Recipient      string            `bson:"recipient"`
	Channel        Channel           `bson:"channel"`
	Subject        string            `bson:"subject"`
	Body           string            `bson:"body"`
	TemplateParams map[string]string `bson:"template_params,omitempty"`
	EventID        string            `bson:"event_id,omitempty"`
	Status         Status            `bson:"status"`
	FailureReason  string            `bson:"failure_reason,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
	SentAt         *time.Time        `bson:"sent_at,omitempty"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

// MarkSent and MarkFailed close a delivery attempt.
func (n *Notification) MarkSent(at time.Time) {
	n.Status = StatusSent
	n.SentAt = &at
	n.FailureReason = ""
	n.UpdatedAt = at
}

func (n *Notification) MarkFailed(reason string, at time.Time) {
	n.Status = StatusFailed
	n.FailureReason = reason
	n.UpdatedAt = at
}

type SendRequest struct {
	UserID         int64
	Recipient      string
	Channel        Channel
	Subject        string
	Body           string
	TemplateParams map[string]string
}

// EmailAddress is the mailbox used for users that have no address on file.
func EmailAddress(userID int64) string {
	return fmt.Sprintf("user%d@example.com", userID)
}
