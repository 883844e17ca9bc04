package app

import (
	"context"

	"factcheck-challenge-service/internal/domain"
)

// View names one cached read model of a challenge.
type View string

const (
	ViewDetail      View = "detail"
	ViewLeaderboard View = "leaderboard"
)

// AllViews lists every cached view of a challenge.
var AllViews = []View{ViewDetail, ViewLeaderboard}

// CacheInvalidator is the hook stores call after every committed mutation.
// It must complete before the mutating call returns.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string, views ...View) error
}

// Loader produces the serialized value of a view on a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// ReadCache serves hot reads (in-memory, Redis, etc).
type ReadCache interface {
	CacheInvalidator
	// Get returns the cached value, or ok=false on a miss.
	Get(ctx context.Context, view View, id string) (value []byte, ok bool, err error)
	// Fetch returns the cached value or fills it from load. hit reports whether
	// the value came from the cache.
	Fetch(ctx context.Context, view View, id string, load Loader) (value []byte, hit bool, err error)
}

// ChallengeStore owns challenges and participants. Every mutating call is one
// atomic unit of work that includes invalidating the affected views: if the
// invalidation fails, nothing is committed and the call fails with
// ErrPersistence.
//
// AddParticipant is the admission authority: capacity is a compare-and-increment
// and (challenge, wallet) is unique at the storage layer, so concurrent joins for
// the last slot or with the same wallet resolve to exactly one success.
type ChallengeStore interface {
	// Create assigns a fresh id, retrying on collision, and persists c.
	Create(ctx context.Context, c domain.Challenge) (domain.Challenge, error)
	Get(ctx context.Context, id string) (domain.Challenge, error)
	ApplyUpdate(ctx context.Context, id string, u domain.ChallengeUpdate) (domain.Challenge, error)
	// AddParticipant fails with ErrChallengeNotFound, ErrForbidden,
	// ErrAlreadyJoined or ErrCapacityReached, checked in that order.
	AddParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	// RecordResult is write-once; a second call fails with ErrAlreadySubmitted.
	// It fails with ErrForbidden once the challenge is finished.
	RecordResult(ctx context.Context, challengeID, wallet string, r domain.Result) (domain.Participant, error)
	Participant(ctx context.Context, challengeID, wallet string) (domain.Participant, error)
	Participants(ctx context.Context, challengeID string) ([]domain.Participant, error)
	// Standings reads the challenge and its participants as one consistent
	// snapshot.
	Standings(ctx context.Context, challengeID string) (domain.Challenge, []domain.Participant, error)
}

// Normalizer turns raw creator input into a corpus.
type Normalizer interface {
	Normalize(ctx context.Context, src domain.ContentSource) (domain.Corpus, error)
}

// Generator produces items for a corpus. It never fails; it degrades.
type Generator interface {
	Generate(ctx context.Context, corpus domain.Corpus, count int, difficulty domain.Difficulty) domain.ItemSet
}

// NopInvalidator is used by stores wired without a cache.
type NopInvalidator struct{}

func (NopInvalidator) Invalidate(context.Context, string, ...View) error { return nil }
