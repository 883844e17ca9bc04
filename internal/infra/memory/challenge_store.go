package memory

import (
	"context"
	"fmt"
	"sync"

	"factcheck-challenge-service/internal/app"
	"factcheck-challenge-service/internal/domain"
)

const maxIDAttempts = 5

// ChallengeStore is an in-memory implementation of app.ChallengeStore.
// Each challenge has its own lock, so admissions to different challenges
// never contend.
type ChallengeStore struct {
	invalidator app.CacheInvalidator
	newID       func() (string, error)

	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	mu           sync.Mutex
	challenge    domain.Challenge
	participants map[string]*domain.Participant
	order        []string
}

func NewChallengeStore(invalidator app.CacheInvalidator) *ChallengeStore {
	return NewChallengeStoreWithIDs(invalidator, domain.NewChallengeID)
}

// NewChallengeStoreWithIDs is test-only for forcing id collisions.
func NewChallengeStoreWithIDs(invalidator app.CacheInvalidator, newID func() (string, error)) *ChallengeStore {
	if invalidator == nil {
		invalidator = app.NopInvalidator{}
	}
	return &ChallengeStore{
		invalidator: invalidator,
		newID:       newID,
		records:     make(map[string]*record),
	}
}

func (s *ChallengeStore) Create(_ context.Context, c domain.Challenge) (domain.Challenge, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return domain.Challenge{}, fmt.Errorf("%w: generate id: %v", domain.ErrPersistence, err)
		}

		s.mu.Lock()
		if _, exists := s.records[id]; exists {
			s.mu.Unlock()
			continue
		}
		c.ID = id
		c.ParticipantCount = 0
		s.records[id] = &record{
			challenge:    cloneChallenge(c),
			participants: make(map[string]*domain.Participant),
		}
		s.mu.Unlock()
		return cloneChallenge(c), nil
	}
	return domain.Challenge{}, fmt.Errorf("%w: %w after %d attempts", domain.ErrPersistence, domain.ErrDuplicateID, maxIDAttempts)
}

func (s *ChallengeStore) Get(_ context.Context, id string) (domain.Challenge, error) {
	rec, err := s.record(id)
	if err != nil {
		return domain.Challenge{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneChallenge(rec.challenge), nil
}

func (s *ChallengeStore) ApplyUpdate(ctx context.Context, id string, u domain.ChallengeUpdate) (domain.Challenge, error) {
	rec, err := s.record(id)
	if err != nil {
		return domain.Challenge{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	updated := cloneChallenge(rec.challenge)
	if err := updated.Apply(u); err != nil {
		return domain.Challenge{}, err
	}
	if err := s.invalidate(ctx, id); err != nil {
		return domain.Challenge{}, err
	}
	updated.Revision++
	rec.challenge = updated
	return cloneChallenge(updated), nil
}

// AddParticipant checks state, identity and capacity and inserts p under the
// record lock. The views are invalidated under the same lock before the
// insert, so a failed invalidation leaves the record untouched and a refill
// cannot read the record until the insert is done.
func (s *ChallengeStore) AddParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	rec, err := s.record(p.ChallengeID)
	if err != nil {
		return domain.Participant{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	c := rec.challenge
	switch {
	case c.State() == domain.StateDraft || c.State() == domain.StateFinished:
		return domain.Participant{}, domain.ErrForbidden
	case rec.participants[p.Wallet] != nil:
		return domain.Participant{}, domain.ErrAlreadyJoined
	case c.ParticipantCount >= c.Capacity:
		return domain.Participant{}, domain.ErrCapacityReached
	}
	if err := s.invalidate(ctx, p.ChallengeID); err != nil {
		return domain.Participant{}, err
	}
	p.Score, p.Reward, p.SubmittedAt = nil, nil, nil
	stored := p
	rec.participants[p.Wallet] = &stored
	rec.order = append(rec.order, p.Wallet)
	rec.challenge.ParticipantCount++
	rec.challenge.Revision++
	return p, nil
}

func (s *ChallengeStore) RecordResult(ctx context.Context, challengeID, wallet string, r domain.Result) (domain.Participant, error) {
	rec, err := s.record(challengeID)
	if err != nil {
		return domain.Participant{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.challenge.IsFinished {
		return domain.Participant{}, domain.ErrForbidden
	}
	p, ok := rec.participants[wallet]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if p.Submitted() {
		return domain.Participant{}, domain.ErrAlreadySubmitted
	}
	if err := s.invalidate(ctx, challengeID); err != nil {
		return domain.Participant{}, err
	}
	score, reward, at := r.Score, r.Reward, r.SubmittedAt
	p.Score, p.Reward, p.SubmittedAt = &score, &reward, &at
	rec.challenge.Revision++
	return cloneParticipant(*p), nil
}

func (s *ChallengeStore) Participant(_ context.Context, challengeID, wallet string) (domain.Participant, error) {
	rec, err := s.record(challengeID)
	if err != nil {
		return domain.Participant{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p, ok := rec.participants[wallet]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return cloneParticipant(*p), nil
}

// Participants returns participants in join order.
func (s *ChallengeStore) Participants(_ context.Context, challengeID string) ([]domain.Participant, error) {
	rec, err := s.record(challengeID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]domain.Participant, 0, len(rec.order))
	for _, wallet := range rec.order {
		out = append(out, cloneParticipant(*rec.participants[wallet]))
	}
	return out, nil
}

func (s *ChallengeStore) Standings(_ context.Context, challengeID string) (domain.Challenge, []domain.Participant, error) {
	rec, err := s.record(challengeID)
	if err != nil {
		return domain.Challenge{}, nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]domain.Participant, 0, len(rec.order))
	for _, wallet := range rec.order {
		out = append(out, cloneParticipant(*rec.participants[wallet]))
	}
	return cloneChallenge(rec.challenge), out, nil
}

func (s *ChallengeStore) record(id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	return rec, nil
}

// invalidate bumps every view of id. Revision lives in both views, so every
// mutation touches both.
func (s *ChallengeStore) invalidate(ctx context.Context, id string) error {
	if err := s.invalidator.Invalidate(ctx, id, app.AllViews...); err != nil {
		return fmt.Errorf("%w: invalidate %s: %v", domain.ErrPersistence, id, err)
	}
	return nil
}

func cloneChallenge(c domain.Challenge) domain.Challenge {
	items := make([]domain.Item, len(c.Items))
	for i, item := range c.Items {
		item.Options = append([]string(nil), item.Options...)
		items[i] = item
	}
	c.Items = items
	return c
}

func cloneParticipant(p domain.Participant) domain.Participant {
	if p.Score != nil {
		score := *p.Score
		p.Score = &score
	}
	if p.Reward != nil {
		reward := *p.Reward
		p.Reward = &reward
	}
	if p.SubmittedAt != nil {
		at := *p.SubmittedAt
		p.SubmittedAt = &at
	}
	return p
}
