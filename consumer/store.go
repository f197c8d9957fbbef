package consumer

import (
	"fmt"
	"sync"
)

// messageStore holds the messages received from the transport until they are acknowledged.
type messageStore struct {
	messages  map[MessageID]Message
	highWater MessageID

	mu sync.RWMutex
}

func newMessageStore() *messageStore {
	return &messageStore{messages: make(map[MessageID]Message)}
}

// Put stores msg and reports whether its id was not stored yet. A message the
// transport hands over again replaces the stored copy, so acks use its newest handle.
func (s *messageStore) Put(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.messages[msg.ID]
	s.messages[msg.ID] = msg

	if msg.ID > s.highWater {
		s.highWater = msg.ID
	}

	return !exists
}

func (s *messageStore) Get(id MessageID) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return Message{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}

	return msg, nil
}

func (s *messageStore) Remove(id MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}

	delete(s.messages, id)

	return nil
}

// Seen reports whether id was ever stored, acknowledged or not.
// It relies on ids being assigned in increasing order.
func (s *messageStore) Seen(id MessageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return id != 0 && id <= s.highWater
}

func (s *messageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}
