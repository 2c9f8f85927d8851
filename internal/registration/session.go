package registration

import "sync"

// Session is the signed-in state of one device. The app owns it and hands it
// to the Manager; nothing in this package keeps a global copy.
type Session struct {
	mu     sync.RWMutex
	userID string
}

// NewSession returns a session, signed in as userID when it is non-empty.
func NewSession(userID string) *Session {
	return &Session{userID: userID}
}

// UserID returns the signed-in account, or "" when nobody is signed in.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) signIn(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

func (s *Session) signOut(userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.userID = ""
	}
	s.mu.Unlock()
}
