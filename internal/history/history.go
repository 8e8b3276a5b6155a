// Package history persists conversations, code submissions and learning
// progress. Writes are append-only; reads back the progress and history
// endpoints.
package history

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("conversation store unavailable")

// Mastery moves in fixed steps per learning event and never exceeds MaxMastery.
const (
	MasteryStep = 10
	MaxMastery  = 100
)

// Limits for Conversations.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Store is the conversation store. Implementations are safe for concurrent use.
type Store interface {
	AppendConversation(ctx context.Context, rec ConversationRecord) error
	AppendCodeSubmission(ctx context.Context, sub CodeSubmission) error
	// RecordLearning raises mastery of (module, topic) by MasteryStep.
	RecordLearning(ctx context.Context, userID int64, module, topic string) error
	// Progress returns all topics for a user ordered by module, topic.
	Progress(ctx context.Context, userID int64) ([]Progress, error)
	// Conversations returns up to limit records, newest first.
	Conversations(ctx context.Context, userID int64, limit int) ([]ConversationRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClampLimit maps a requested page size into [1, MaxLimit], using
// DefaultLimit for non-positive values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func nextMastery(current int) int {
	return min(current+MasteryStep, MaxMastery)
}

// Unavailable is the store used when the database could not be opened at
// startup. Every call fails with ErrUnavailable.
type Unavailable struct {
	Cause error
}

func (u Unavailable) err() error {
	if u.Cause != nil {
		return errors.Join(ErrUnavailable, u.Cause)
	}
	return ErrUnavailable
}

func (u Unavailable) AppendConversation(context.Context, ConversationRecord) error { return u.err() }
func (u Unavailable) AppendCodeSubmission(context.Context, CodeSubmission) error { return u.err() }
func (u Unavailable) RecordLearning(context.Context, int64, string, string) error { return u.err() }
func (u Unavailable) Ping(context.Context) error { return u.err() }
func (u Unavailable) Close() error { return nil }

func (u Unavailable) Progress(context.Context, int64) ([]Progress, error) {
	return nil, u.err()
}

func (u Unavailable) Conversations(context.Context, int64, int) ([]ConversationRecord, error) {
	return nil, u.err()
}
