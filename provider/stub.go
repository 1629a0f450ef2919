package provider

import "context"

// Stub is an in-memory Provider for tests. Replies are returned in order;
// once exhausted the last reply repeats.
type Stub struct {
	Replies []string
	Err     error

	Calls [][]Message
	next  int
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) CompleteChat(_ context.Context, messages []Message, _ ...ChatOption) (string, error) {
	s.Calls = append(s.Calls, messages)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Replies) == 0 {
		return "", nil
	}
	i := s.next
	if i >= len(s.Replies) {
		i = len(s.Replies) - 1
	}
	s.next++
	return s.Replies[i], nil
}
