package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"factcheck-challenge-service/internal/domain"
	"factcheck-challenge-service/internal/logger"
	"factcheck-challenge-service/internal/metrics"
	"github.com/shopspring/decimal"
)

const (
	DefaultItemCount = 5
	MaxItemCount     = 50
)

// CreateRequest carries everything needed to build a challenge.
type CreateRequest struct {
	Source        domain.ContentSource
	Creator       domain.Creator
	Count         int
	Difficulty    domain.Difficulty
	Capacity      int
	RewardPerItem decimal.Decimal
	IsPublic      bool
}

// CreateResult reports the new challenge. Degraded is set when the items are
// placeholders because generation fell back.
type CreateResult struct {
	ID        string
	Degraded  bool
	Challenge domain.Challenge
}

// ChallengeService contains the challenge use cases: creation, admission,
// scoring and cached reads.
type ChallengeService struct {
	store      ChallengeStore
	cache      ReadCache
	normalizer Normalizer
	generator  Generator
	feed       *feed
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option customizes a ChallengeService.
type Option func(*ChallengeService)

func WithLogger(l *logger.Logger) Option {
	return func(s *ChallengeService) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ChallengeService) { s.metrics = m }
}

// WithClock is for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(s *ChallengeService) { s.now = now }
}

func NewChallengeService(store ChallengeStore, cache ReadCache, normalizer Normalizer, generator Generator, opts ...Option) *ChallengeService {
	s := &ChallengeService{
		store:      store,
		cache:      cache,
		normalizer: normalizer,
		generator:  generator,
		feed:       newFeed(),
		log:        logger.Nop(),
		metrics:    metrics.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create normalizes the source, generates items and persists the challenge.
// Nothing is stored if any step fails.
func (s *ChallengeService) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := validateCreate(&req); err != nil {
		return CreateResult{}, err
	}

	corpus, err := s.normalizer.Normalize(ctx, req.Source)
	if err != nil {
		result := "error"
		if nerr, ok := domain.IsNormalization(err); ok {
			result = string(nerr.Reason)
		}
		s.metrics.Normalizations.WithLabelValues(string(req.Source.Kind), result).Inc()
		s.log.Info("content normalization failed", "source", req.Source.Kind, "error", err)
		return CreateResult{}, err
	}
	s.metrics.Normalizations.WithLabelValues(string(req.Source.Kind), "ok").Inc()

	set := s.generator.Generate(ctx, corpus, req.Count, req.Difficulty)
	if len(set.Items) == 0 {
		return CreateResult{}, fmt.Errorf("%w: generator returned no items", domain.ErrPersistence)
	}
	if set.Degraded {
		s.metrics.Generations.WithLabelValues("fallback").Inc()
	} else {
		s.metrics.Generations.WithLabelValues("ok").Inc()
	}

	challenge := domain.Challenge{
		Creator:       req.Creator,
		Topic:         set.Topic,
		Source:        corpus.Source,
		Difficulty:    set.Difficulty,
		TimeLimit:     set.TimeLimit,
		Items:         set.Items,
		Capacity:      req.Capacity,
		RewardPerItem: req.RewardPerItem,
		TotalCost:     domain.TotalCost(req.RewardPerItem, len(set.Items), req.Capacity),
		IsPublic:      req.IsPublic,
		Degraded:      set.Degraded,
		CreatedAt:     s.now().UTC(),
	}
	created, err := s.store.Create(ctx, challenge)
	if err != nil {
		s.log.Error("persist challenge failed", "error", err)
		return CreateResult{}, err
	}
	s.log.Info("challenge created", "id", created.ID, "items", len(created.Items), "degraded", created.Degraded)
	return CreateResult{ID: created.ID, Degraded: created.Degraded, Challenge: created}, nil
}

func validateCreate(req *CreateRequest) error {
	if req.Count == 0 {
		req.Count = DefaultItemCount
	}
	if req.Difficulty == "" {
		req.Difficulty = domain.DifficultyMedium
	}
	switch {
	case req.Creator.Wallet == "":
		return fmt.Errorf("%w: creator wallet is required", domain.ErrInvalidRequest)
	case req.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", domain.ErrInvalidRequest)
	case req.RewardPerItem.IsNegative():
		return fmt.Errorf("%w: reward must not be negative", domain.ErrInvalidRequest)
	case req.Count < 1 || req.Count > MaxItemCount:
		return fmt.Errorf("%w: item count must be between 1 and %d", domain.ErrInvalidRequest, MaxItemCount)
	case !req.Difficulty.Valid():
		return fmt.Errorf("%w: unknown difficulty %q", domain.ErrInvalidRequest, req.Difficulty)
	}
	return nil
}

// Get is the pre-join check a participant runs. It fails with ErrForbidden,
// ErrAlreadyJoined or ErrCapacityReached, in that order, and never exposes
// canonical answers.
func (s *ChallengeService) Get(ctx context.Context, id, requester string) (domain.Challenge, error) {
	c, err := s.detail(ctx, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if state := c.State(); state == domain.StateDraft || state == domain.StateFinished {
		return domain.Challenge{}, domain.ErrForbidden
	}
	if requester != "" {
		_, err := s.store.Participant(ctx, id, requester)
		switch {
		case err == nil:
			return domain.Challenge{}, domain.ErrAlreadyJoined
		case !errors.Is(err, domain.ErrParticipantNotFound):
			return domain.Challenge{}, err
		}
	}
	if c.State() == domain.StateFull {
		return domain.Challenge{}, domain.ErrCapacityReached
	}
	return c.Redacted(), nil
}

// Join admits wallet into the challenge.
func (s *ChallengeService) Join(ctx context.Context, id, wallet, displayName string) (domain.Participant, error) {
	p, err := s.join(ctx, id, wallet, displayName)
	s.metrics.Joins.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return domain.Participant{}, err
	}
	s.publish(ctx, id)
	return p, nil
}

func (s *ChallengeService) join(ctx context.Context, id, wallet, displayName string) (domain.Participant, error) {
	if wallet == "" {
		return domain.Participant{}, fmt.Errorf("%w: wallet is required", domain.ErrInvalidRequest)
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Participant{}, err
	}
	// Advisory; the store re-checks state, identity and capacity atomically.
	if state := c.State(); state == domain.StateDraft || state == domain.StateFinished {
		return domain.Participant{}, domain.ErrForbidden
	}
	return s.store.AddParticipant(ctx, domain.Participant{
		ChallengeID: id,
		Wallet:      wallet,
		DisplayName: displayName,
		JoinedAt:    s.now().UTC(),
	})
}

// Submit scores a joined participant's answers once and records the reward.
func (s *ChallengeService) Submit(ctx context.Context, id, wallet string, answers map[string]domain.Answer) (domain.Participant, error) {
	p, err := s.submit(ctx, id, wallet, answers)
	s.metrics.Submissions.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return domain.Participant{}, err
	}
	s.publish(ctx, id)
	return p, nil
}

func (s *ChallengeService) submit(ctx context.Context, id, wallet string, answers map[string]domain.Answer) (domain.Participant, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Participant{}, err
	}
	if c.IsFinished {
		return domain.Participant{}, domain.ErrForbidden
	}
	p, err := s.store.Participant(ctx, id, wallet)
	if err != nil {
		return domain.Participant{}, err
	}
	if p.Submitted() {
		return domain.Participant{}, domain.ErrAlreadySubmitted
	}

	score := c.Score(answers)
	return s.store.RecordResult(ctx, id, wallet, domain.Result{
		Score:       score,
		Reward:      c.RewardPerItem.Mul(decimal.NewFromInt(int64(score))),
		SubmittedAt: s.now().UTC(),
	})
}

// Leaderboard returns the challenge and its participants, best first.
func (s *ChallengeService) Leaderboard(ctx context.Context, id string) (domain.Leaderboard, error) {
	var lb domain.Leaderboard
	err := s.fetch(ctx, ViewLeaderboard, id, &lb, func(ctx context.Context) (any, error) {
		c, participants, err := s.store.Standings(ctx, id)
		if err != nil {
			return nil, err
		}
		domain.SortParticipants(participants)
		return domain.Leaderboard{Challenge: c.Redacted(), Participants: participants}, nil
	})
	return lb, err
}

// Update applies an administrative change and returns what the caller needs
// to settle rewards.
func (s *ChallengeService) Update(ctx context.Context, id string, u domain.ChallengeUpdate) (domain.UpdateSummary, error) {
	if u.Empty() {
		return domain.UpdateSummary{}, fmt.Errorf("%w: no mutable fields supplied", domain.ErrInvalidUpdate)
	}
	c, err := s.store.ApplyUpdate(ctx, id, u)
	if err != nil {
		return domain.UpdateSummary{}, err
	}
	participants, err := s.store.Participants(ctx, id)
	if err != nil {
		return domain.UpdateSummary{}, err
	}
	summary := domain.UpdateSummary{
		ID:           c.ID,
		Participants: make([]string, 0, len(participants)),
		Rewards:      make([]decimal.Decimal, 0, len(participants)),
	}
	for _, p := range participants {
		summary.Participants = append(summary.Participants, p.Wallet)
		reward := decimal.Zero
		if p.Reward != nil {
			reward = *p.Reward
		}
		summary.Rewards = append(summary.Rewards, reward)
	}
	s.log.Info("challenge updated", "id", id, "state", c.State())
	s.publish(ctx, id)
	return summary, nil
}

func (s *ChallengeService) SetVisibility(ctx context.Context, id string, public bool) (domain.UpdateSummary, error) {
	return s.Update(ctx, id, domain.ChallengeUpdate{IsPublic: &public})
}

func (s *ChallengeService) SetFinished(ctx context.Context, id string, finished bool) (domain.UpdateSummary, error) {
	return s.Update(ctx, id, domain.ChallengeUpdate{IsFinished: &finished})
}

// Subscribe returns a channel of leaderboard snapshots, starting with the
// current one. The caller must invoke the returned cancel function.
func (s *ChallengeService) Subscribe(ctx context.Context, id string) (<-chan domain.Leaderboard, func(), error) {
	ch, cancel := s.feed.subscribe(id)
	lb, err := s.Leaderboard(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	s.feed.publish(id, lb)
	return ch, cancel, nil
}

func (s *ChallengeService) publish(ctx context.Context, id string) {
	if !s.feed.active(id) {
		return
	}
	lb, err := s.Leaderboard(ctx, id)
	if err != nil {
		s.log.Warn("leaderboard broadcast skipped", "id", id, "error", err)
		return
	}
	s.feed.publish(id, lb)
}

func (s *ChallengeService) detail(ctx context.Context, id string) (domain.Challenge, error) {
	var c domain.Challenge
	err := s.fetch(ctx, ViewDetail, id, &c, func(ctx context.Context) (any, error) {
		return s.store.Get(ctx, id)
	})
	return c, err
}

// fetch reads a view through the cache, decoding into out.
func (s *ChallengeService) fetch(ctx context.Context, view View, id string, out any, load func(context.Context) (any, error)) error {
	raw, hit, err := s.cache.Fetch(ctx, view, id, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return err
	}
	if hit {
		s.metrics.CacheLookups.WithLabelValues(string(view), "hit").Inc()
	} else {
		s.metrics.CacheLookups.WithLabelValues(string(view), "miss").Inc()
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode cached %s %s: %w", view, id, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrCapacityReached):
		return "capacity_reached"
	case errors.Is(err, domain.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrChallengeNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		return "not_found"
	default:
		return "error"
	}
}
