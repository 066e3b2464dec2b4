package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store keeps live upload sessions in memory with an inactivity TTL.
// Expired non-terminal sessions behave exactly like unknown ids. The
// janitor that reclaims them has an explicit start/stop contract so
// shutdown drains deterministically.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
	ttl      time.Duration
	evict    func(*UploadSession)

	janitorQuit chan struct{}
	janitorDone chan struct{}
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*UploadSession),
		ttl:      ttl,
	}
}

// OnEvict registers a callback invoked for every expired session the
// store removes, outside the store lock. The service uses it to release
// the session's buffered part objects.
func (s *Store) OnEvict(fn func(*UploadSession)) {
	s.evict = fn
}

func (s *Store) Create(sess *UploadSession) {
	now := time.Now()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// Update runs fn with the session locked. Every accepted call refreshes
// the inactivity window. Expired non-terminal sessions are dropped and
// reported as not found.
func (s *Store) Update(id string, fn func(*UploadSession) error) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := fn(sess); err != nil {
		return err
	}
	sess.ExpiresAt = time.Now().Add(s.ttl)
	return nil
}

// View runs fn with the session locked, without refreshing the TTL.
func (s *Store) View(id string, fn func(*UploadSession) error) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess)
}

func (s *Store) lookup(id string) (*UploadSession, error) {
	s.mu.Lock()

	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, &SessionNotFoundError{UploadID: id}
	}
	if time.Now().After(sess.ExpiresAt) && !sess.Status.Terminal() {
		delete(s.sessions, id)
		s.mu.Unlock()
		if s.evict != nil {
			s.evict(sess)
		}
		return nil, &SessionNotFoundError{UploadID: id}
	}

	s.mu.Unlock()
	return sess, nil
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartJanitor begins periodic reclamation of expired sessions.
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.janitorQuit = make(chan struct{})
	s.janitorDone = make(chan struct{})

	go func() {
		defer close(s.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.janitorQuit:
				return
			case <-ticker.C:
				if n := s.sweep(); n > 0 {
					log.Debug().Int("reclaimed", n).Msg("[SESSION] Expired sessions reclaimed")
				}
			}
		}
	}()
}

// StopJanitor halts the janitor and waits for it to exit.
func (s *Store) StopJanitor() {
	if s.janitorQuit == nil {
		return
	}
	close(s.janitorQuit)
	<-s.janitorDone
	s.janitorQuit = nil
}

func (s *Store) sweep() int {
	now := time.Now()

	s.mu.Lock()
	var evicted []*UploadSession
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			evicted = append(evicted, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range evicted {
		if s.evict != nil {
			s.evict(sess)
		}
	}
	return len(evicted)
}
