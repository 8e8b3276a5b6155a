package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It backs the "memory" driver and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu            sync.Mutex
	nextID        int64
	conversations []ConversationRecord
	submissions   []CodeSubmission
	progress      map[progressKey]int
}

type progressKey struct {
	userID        int64
	module, topic string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{progress: make(map[progressKey]int)}
}

func (m *MemoryStore) AppendConversation(_ context.Context, rec ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.conversations = append(m.conversations, rec)
	return nil
}

func (m *MemoryStore) AppendCodeSubmission(_ context.Context, sub CodeSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sub.ID = m.nextID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	m.submissions = append(m.submissions, sub)
	return nil
}

func (m *MemoryStore) RecordLearning(_ context.Context, userID int64, module, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := progressKey{userID: userID, module: module, topic: topic}
	m.progress[k] = nextMastery(m.progress[k])
	return nil
}

func (m *MemoryStore) Progress(_ context.Context, userID int64) ([]Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Progress{}
	for k, v := range m.progress {
		if k.userID == userID {
			out = append(out, Progress{UserID: userID, Module: k.module, Topic: k.topic, Mastery: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

func (m *MemoryStore) Conversations(_ context.Context, userID int64, limit int) ([]ConversationRecord, error) {
	limit = ClampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ConversationRecord{}
	for i := len(m.conversations) - 1; i >= 0 && len(out) < limit; i-- {
		if m.conversations[i].UserID == userID {
			out = append(out, m.conversations[i])
		}
	}
	return out, nil
}

// Submissions returns a copy of all code submissions in insertion order.
func (m *MemoryStore) Submissions() []CodeSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CodeSubmission(nil), m.submissions...)
}

// All returns a copy of all conversation records in insertion order.
func (m *MemoryStore) All() []ConversationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ConversationRecord(nil), m.conversations...)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error { return nil }
