package chat

import (
	"sort"
	"sync"
)

// Store holds the per-conversation message logs plus unread counters, keyed
// by peer id or group id so 1:1 and group chats share one API. Logs are
// append-only for the lifetime of the process; readers always get copies.
type Store struct {
	mu    sync.Mutex
	convs map[string]*conversation
}

type conversation struct {
	messages []Message
	unread   int
}

func NewStore() *Store {
	return &Store{convs: make(map[string]*conversation)}
}

func (s *Store) conv(key string) *conversation {
	c, ok := s.convs[key]
	if !ok {
		c = &conversation{}
		s.convs[key] = c
	}
	return c
}

// Append adds a locally originated message (outbound echo or system notice)
// without touching the unread counter.
func (s *Store) Append(key string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(key)
	c.messages = append(c.messages, msg)
}

// AppendInbound adds a message received from a peer and bumps the
// conversation's unread counter.
func (s *Store) AppendInbound(key string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(key)
	c.messages = append(c.messages, msg)
	c.unread++
}

// Messages returns a copy of the conversation log in append order.
func (s *Store) Messages(key string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Unread returns the unread count for one conversation.
func (s *Store) Unread(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return 0
	}
	return c.unread
}

// TotalUnread sums unread counts across all conversations.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.convs {
		total += c.unread
	}
	return total
}

// MarkRead resets the unread counter for one conversation to zero.
func (s *Store) MarkRead(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		c.unread = 0
	}
}

// Delete drops a conversation entirely. Used when a group is deleted.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, key)
}

// Keys returns the conversation keys with at least one message, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.convs))
	for k := range s.convs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
