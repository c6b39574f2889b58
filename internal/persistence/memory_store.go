package persistence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Records do not survive restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
	shares   map[string]*ShareToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*UploadSession),
		shares:   make(map[string]*ShareToken),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) PutSession(_ context.Context, session *UploadSession, now time.Time) error {
	if err := session.Validate(); err != nil {
		return invalid(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[session.Token]; ok && existing.ExpiresAt.After(now) {
		return conflict(KindUploadSession, session.Token)
	}
	s.sessions[session.Token] = session.Clone()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, token string, now time.Time) (*UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || !session.ExpiresAt.After(now) {
		return nil, notFound(KindUploadSession)
	}
	return session.Clone(), nil
}

func (s *MemoryStore) IncrementRetry(_ context.Context, token string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || !session.ExpiresAt.After(now) {
		return 0, notFound(KindUploadSession)
	}
	session.RetryCount++
	return session.RetryCount, nil
}

func (s *MemoryStore) MarkSessionFailed(_ context.Context, token string, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || !session.ExpiresAt.After(now) {
		return notFound(KindUploadSession)
	}
	session.Failure = reason
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemoryStore) DeleteExpiredSession(_ context.Context, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || session.ExpiresAt.After(now) {
		return false, nil
	}
	delete(s.sessions, token)
	return true, nil
}

func (s *MemoryStore) ScanExpiredSessions(_ context.Context, now time.Time, limit int) ([]*UploadSession, error) {
	s.mu.Lock()
	ret := make([]*UploadSession, 0)
	for _, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			ret = append(ret, session.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ExpiresAt.Before(ret[j].ExpiresAt)
	})
	if limit = normalizeLimit(limit); len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}

func (s *MemoryStore) PutShare(_ context.Context, share *ShareToken, now time.Time) error {
	if err := share.Validate(); err != nil {
		return invalid(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.shares[share.Token]; ok && existing.ExpiresAt.After(now) {
		return conflict(KindShareToken, share.Token)
	}
	s.shares[share.Token] = share.Clone()
	return nil
}

func (s *MemoryStore) GetShare(_ context.Context, token string, now time.Time) (*ShareToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	share, ok := s.shares[token]
	if !ok || !share.ExpiresAt.After(now) {
		return nil, notFound(KindShareToken)
	}
	return share.Clone(), nil
}

func (s *MemoryStore) DeleteShare(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shares, token)
	return nil
}

func (s *MemoryStore) DeleteExpiredShare(_ context.Context, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	share, ok := s.shares[token]
	if !ok || share.ExpiresAt.After(now) {
		return false, nil
	}
	delete(s.shares, token)
	return true, nil
}

func (s *MemoryStore) ScanExpiredShares(_ context.Context, now time.Time, limit int) ([]*ShareToken, error) {
	s.mu.Lock()
	ret := make([]*ShareToken, 0)
	for _, share := range s.shares {
		if !share.ExpiresAt.After(now) {
			ret = append(ret, share.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ExpiresAt.Before(ret[j].ExpiresAt)
	})
	if limit = normalizeLimit(limit); len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}
