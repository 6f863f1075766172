package chain

import (
	"sync"

	"github.com/abitmore/steem/internal/history"
)

// State is the host's live comment table: the current content of every
// comment that exists.
type State struct {
	mu    sync.RWMutex
	items map[history.Key]history.Content
}

// NewState returns an empty table.
func NewState() *State {
	return &State{items: make(map[history.Key]history.Content)}
}

// Lookup returns the current content of (author, permlink).
func (s *State) Lookup(author, permlink string) (history.Content, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[history.Key{Author: author, Permlink: permlink}]
	return c, ok
}

// Apply mutates the table the way the host applies op. Operations other
// than comment and delete_comment leave it unchanged.
func (s *State) Apply(op Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o := op.(type) {
	case CommentOp:
		s.items[history.Key{Author: o.Author, Permlink: o.Permlink}] = history.Content{
			Title:        o.Title,
			Body:         o.Body,
			JSONMetadata: o.JSONMetadata,
		}
	case DeleteCommentOp:
		delete(s.items, history.Key{Author: o.Author, Permlink: o.Permlink})
	}
}

// Restore sets the content of key without an operation. It rebuilds the
// table from a persisted copy on restart.
func (s *State) Restore(key history.Key, c history.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = c
}

// Len returns the number of live comments.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
