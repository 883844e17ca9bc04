package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"factcheck-challenge-service/internal/app"
	"factcheck-challenge-service/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func TestChallengeStoreRoundTrip(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()

	created, err := store.Create(ctx, sampleChallenge(2, true))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].ID != "a" || got.Items[1].ID != "b" {
		t.Fatalf("items not preserved in order: %+v", got.Items)
	}
	if got.Items[0].Statement != "A" {
		t.Fatalf("statement changed: %q", got.Items[0].Statement)
	}

	got.Items[0].Statement = "mutated"
	again, _ := store.Get(ctx, created.ID)
	if again.Items[0].Statement != "A" {
		t.Fatalf("callers must not be able to mutate stored items")
	}

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, domain.ErrChallengeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChallengeStoreRetriesIDCollisions(t *testing.T) {
	ids := []string{"dup001", "dup001", "fresh1"}
	var mu sync.Mutex
	next := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id, nil
	}
	store := NewChallengeStoreWithIDs(nil, next)
	ctx := context.Background()

	first, err := store.Create(ctx, sampleChallenge(1, true))
	if err != nil || first.ID != "dup001" {
		t.Fatalf("first create: id=%s err=%v", first.ID, err)
	}
	second, err := store.Create(ctx, sampleChallenge(1, true))
	if err != nil || second.ID != "fresh1" {
		t.Fatalf("expected collision retry to fresh1, got id=%s err=%v", second.ID, err)
	}

	stuck := NewChallengeStoreWithIDs(nil, func() (string, error) { return "same00", nil })
	if _, err := stuck.Create(ctx, sampleChallenge(1, true)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := stuck.Create(ctx, sampleChallenge(1, true)); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("expected duplicate id after retries, got %v", err)
	}
}

func TestChallengeStoreCapacityUnderContention(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()
	const capacity = 5

	c, err := store.Create(ctx, sampleChallenge(capacity, true))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var mu sync.Mutex
	outcomes := map[error]int{}
	var g errgroup.Group
	for i := 0; i < 10*capacity; i++ {
		wallet := fmt.Sprintf("0xwallet%02d", i)
		g.Go(func() error {
			_, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: wallet})
			mu.Lock()
			outcomes[err]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if outcomes[nil] != capacity {
		t.Fatalf("expected %d admissions, got %d", capacity, outcomes[nil])
	}
	if outcomes[domain.ErrCapacityReached] != 9*capacity {
		t.Fatalf("expected %d capacity failures, got %d", 9*capacity, outcomes[domain.ErrCapacityReached])
	}
	got, _ := store.Get(ctx, c.ID)
	if got.ParticipantCount != capacity {
		t.Fatalf("participant count %d exceeds capacity", got.ParticipantCount)
	}
}

func TestChallengeStoreSameIdentityJoinsOnce(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()
	c, _ := store.Create(ctx, sampleChallenge(3, true))

	var mu sync.Mutex
	outcomes := map[error]int{}
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: "0xsame"})
			mu.Lock()
			outcomes[err]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if outcomes[nil] != 1 || outcomes[domain.ErrAlreadyJoined] != 19 {
		t.Fatalf("expected 1 success and 19 already joined, got %v", outcomes)
	}
}

func TestChallengeStoreRejectsDraftJoin(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()
	c, _ := store.Create(ctx, sampleChallenge(3, false))

	_, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: "0x1"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestChallengeStoreResultIsWriteOnce(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()
	c, _ := store.Create(ctx, sampleChallenge(3, true))
	if _, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: "0x1", DisplayName: "Ann"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}

	result := domain.Result{Score: 2, Reward: decimal.NewFromInt(4), SubmittedAt: time.Now()}
	p, err := store.RecordResult(ctx, c.ID, "0x1", result)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if *p.Score != 2 || !p.Reward.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("unexpected result %+v", p)
	}
	if _, err := store.RecordResult(ctx, c.ID, "0x1", result); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
	if _, err := store.RecordResult(ctx, c.ID, "0x2", result); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestChallengeStoreInvalidatesOnMutation(t *testing.T) {
	inv := &recordingInvalidator{}
	store := NewChallengeStore(inv)
	ctx := context.Background()
	c, _ := store.Create(ctx, sampleChallenge(3, true))

	if _, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: "0x1"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if _, err := store.RecordResult(ctx, c.ID, "0x1", domain.Result{SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	finished := true
	if _, err := store.ApplyUpdate(ctx, c.ID, domain.ChallengeUpdate{IsFinished: &finished}); err != nil {
		t.Fatalf("update: %v", err)
	}

	want := []string{
		c.ID + ":detail", c.ID + ":leaderboard",
		c.ID + ":detail", c.ID + ":leaderboard",
		c.ID + ":detail", c.ID + ":leaderboard",
	}
	if len(inv.calls) != len(want) {
		t.Fatalf("expected invalidations %v, got %v", want, inv.calls)
	}
	for i := range want {
		if inv.calls[i] != want[i] {
			t.Fatalf("expected invalidations %v, got %v", want, inv.calls)
		}
	}
	got, _ := store.Get(ctx, c.ID)
	if got.Revision != 3 {
		t.Fatalf("expected revision 3 after three mutations, got %d", got.Revision)
	}
}

func TestFailedInvalidationLeavesStoreUntouched(t *testing.T) {
	inv := &recordingInvalidator{}
	store := NewChallengeStore(inv)
	ctx := context.Background()
	c, _ := store.Create(ctx, sampleChallenge(1, true))

	inv.fail = errors.New("redis down")
	_, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: "0xa"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	got, _ := store.Get(ctx, c.ID)
	if got.ParticipantCount != 0 || got.Revision != 0 {
		t.Fatalf("expected no slot used, got count %d revision %d", got.ParticipantCount, got.Revision)
	}
	if _, err := store.Participant(ctx, c.ID, "0xa"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected no participant stored, got %v", err)
	}

	finished := true
	if _, err := store.ApplyUpdate(ctx, c.ID, domain.ChallengeUpdate{IsFinished: &finished}); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error on update, got %v", err)
	}
	if got, _ := store.Get(ctx, c.ID); got.IsFinished {
		t.Fatalf("update must not be applied when invalidation fails")
	}

	inv.fail = nil
	if _, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: "0xb"}); err != nil {
		t.Fatalf("expected the only slot to still be free, got %v", err)
	}

	inv.fail = errors.New("redis down")
	if _, err := store.RecordResult(ctx, c.ID, "0xb", domain.Result{Score: 1, SubmittedAt: time.Now()}); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error on record, got %v", err)
	}
	p, _ := store.Participant(ctx, c.ID, "0xb")
	if p.Submitted() {
		t.Fatalf("result must not be recorded when invalidation fails")
	}
	inv.fail = nil
	if _, err := store.RecordResult(ctx, c.ID, "0xb", domain.Result{Score: 1, SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("expected retry to record the result, got %v", err)
	}
}

func TestRecordResultRejectedAfterFinish(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()
	c, _ := store.Create(ctx, sampleChallenge(2, true))
	if _, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: "0x1"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	finished := true
	if _, err := store.ApplyUpdate(ctx, c.ID, domain.ChallengeUpdate{IsFinished: &finished}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := store.RecordResult(ctx, c.ID, "0x1", domain.Result{Score: 2, SubmittedAt: time.Now()}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden after finish, got %v", err)
	}
}

func TestStandingsIsConsistent(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()
	c, _ := store.Create(ctx, sampleChallenge(50, true))

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := store.AddParticipant(ctx, domain.Participant{ChallengeID: c.ID, Wallet: fmt.Sprintf("0x%02d", i)})
			return err
		})
		g.Go(func() error {
			got, participants, err := store.Standings(ctx, c.ID)
			if err != nil {
				return err
			}
			if got.ParticipantCount != len(participants) {
				return fmt.Errorf("count %d with %d participants", got.ParticipantCount, len(participants))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("standings: %v", err)
	}
}

type recordingInvalidator struct {
	calls []string
	fail  error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id string, views ...app.View) error {
	if r.fail != nil {
		return r.fail
	}
	for _, v := range views {
		r.calls = append(r.calls, id+":"+string(v))
	}
	return nil
}

func sampleChallenge(capacity int, public bool) domain.Challenge {
	return domain.Challenge{
		Creator:  domain.Creator{Name: "Creator", Wallet: "0xcreator"},
		Topic:    "Towers",
		Capacity: capacity,
		Items: []domain.Item{
			{ID: "a", Statement: "A", Answer: domain.BoolAnswer(true)},
			{ID: "b", Statement: "B", Answer: domain.BoolAnswer(false)},
		},
		RewardPerItem: decimal.NewFromInt(2),
		IsPublic:      public,
		CreatedAt:     time.Now().UTC(),
	}
}
