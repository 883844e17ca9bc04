package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"factcheck-challenge-service/internal/app"
	"factcheck-challenge-service/internal/domain"
	"factcheck-challenge-service/internal/logger"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	maxIDAttempts   = 5
	uniqueViolation = "23505"
)

const challengeColumns = `id, creator_name, creator_wallet, topic, source, difficulty, time_limit, items,
	capacity, participant_count, reward_per_item::text, total_cost::text,
	is_public, is_finished, degraded, created_at, revision`

const participantColumns = `challenge_id, wallet, display_name, joined_at, score, reward::text, submitted_at`

// ChallengeStore persists challenges and participants in Postgres.
//
// Admission is a single conditional UPDATE on the challenge row (state and
// capacity checked and the count incremented atomically) followed by an insert
// guarded by UNIQUE (challenge_id, wallet), all in one transaction.
//
// Cache views are invalidated inside each mutating transaction, so a failed
// invalidation rolls the mutation back, and once more after commit so a fill
// that read the pre-commit rows is never served.
type ChallengeStore struct {
	pool        *pgxpool.Pool
	invalidator app.CacheInvalidator
	newID       func() (string, error)
	log         *logger.Logger
}

func NewChallengeStore(pool *pgxpool.Pool, invalidator app.CacheInvalidator) *ChallengeStore {
	if invalidator == nil {
		invalidator = app.NopInvalidator{}
	}
	return &ChallengeStore{pool: pool, invalidator: invalidator, newID: domain.NewChallengeID, log: logger.Nop()}
}

func (s *ChallengeStore) WithLogger(l *logger.Logger) *ChallengeStore {
	if l != nil {
		s.log = l
	}
	return s
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (s *ChallengeStore) Create(ctx context.Context, c domain.Challenge) (domain.Challenge, error) {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("marshal items: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.ParticipantCount = 0

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return domain.Challenge{}, persistence("generate id", err)
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO challenges (id, creator_name, creator_wallet, topic, source, difficulty, time_limit, items,
				capacity, participant_count, reward_per_item, total_cost, is_public, is_finished, degraded, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO NOTHING`,
			id, c.Creator.Name, c.Creator.Wallet, c.Topic, string(c.Source), string(c.Difficulty), c.TimeLimit, items,
			c.Capacity, c.RewardPerItem.String(), c.TotalCost.String(), c.IsPublic, c.IsFinished, c.Degraded, c.CreatedAt,
		)
		if err != nil {
			return domain.Challenge{}, persistence("insert challenge", err)
		}
		if tag.RowsAffected() == 1 {
			c.ID = id
			return c, nil
		}
	}
	return domain.Challenge{}, fmt.Errorf("%w: %w after %d attempts", domain.ErrPersistence, domain.ErrDuplicateID, maxIDAttempts)
}

func (s *ChallengeStore) Get(ctx context.Context, id string) (domain.Challenge, error) {
	return getChallenge(ctx, s.pool, id)
}

func getChallenge(ctx context.Context, q querier, id string) (domain.Challenge, error) {
	row := q.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id=$1`, id)
	c, err := scanChallenge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, persistence("load challenge", err)
	}
	return c, nil
}

func (s *ChallengeStore) ApplyUpdate(ctx context.Context, id string, u domain.ChallengeUpdate) (domain.Challenge, error) {
	var updated domain.Challenge
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id=$1 FOR UPDATE`, id)
		c, err := scanChallenge(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrChallengeNotFound
		}
		if err != nil {
			return persistence("lock challenge", err)
		}
		if err := c.Apply(u); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE challenges SET capacity=$2, total_cost=$3, is_public=$4, is_finished=$5, revision=revision+1
			WHERE id=$1`,
			id, c.Capacity, c.TotalCost.String(), c.IsPublic, c.IsFinished,
		)
		if err != nil {
			return persistence("update challenge", err)
		}
		c.Revision++
		updated = c
		return s.invalidate(ctx, id)
	})
	if err != nil {
		return domain.Challenge{}, commitError(err)
	}
	s.invalidateCommitted(ctx, id)
	return updated, nil
}

func (s *ChallengeStore) AddParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	p.Score, p.Reward, p.SubmittedAt = nil, nil, nil

	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE challenges SET participant_count = participant_count + 1, revision = revision + 1
			WHERE id=$1 AND is_public AND NOT is_finished AND participant_count < capacity
			  AND NOT EXISTS (SELECT 1 FROM participants WHERE challenge_id=$1 AND wallet=$2)`,
			p.ChallengeID, p.Wallet,
		)
		if err != nil {
			return persistence("reserve slot", err)
		}
		if tag.RowsAffected() == 0 {
			return admissionFailure(ctx, tx, p.ChallengeID, p.Wallet)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO participants (challenge_id, wallet, display_name, joined_at) VALUES ($1, $2, $3, $4)`,
			p.ChallengeID, p.Wallet, p.DisplayName, p.JoinedAt,
		)
		if isUniqueViolation(err) {
			return domain.ErrAlreadyJoined
		}
		if err != nil {
			return persistence("insert participant", err)
		}
		return s.invalidate(ctx, p.ChallengeID)
	})
	if err != nil {
		return domain.Participant{}, commitError(err)
	}
	s.invalidateCommitted(ctx, p.ChallengeID)
	return p, nil
}

// admissionFailure explains why the slot reservation matched no row.
func admissionFailure(ctx context.Context, tx pgx.Tx, challengeID, wallet string) error {
	var (
		isPublic, isFinished, joined bool
		count, capacity              int
	)
	err := tx.QueryRow(ctx, `
		SELECT is_public, is_finished, participant_count, capacity,
			EXISTS (SELECT 1 FROM participants WHERE challenge_id=$1 AND wallet=$2)
		FROM challenges WHERE id=$1`,
		challengeID, wallet,
	).Scan(&isPublic, &isFinished, &count, &capacity, &joined)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrChallengeNotFound
	case err != nil:
		return persistence("inspect challenge", err)
	case !isPublic || isFinished:
		return domain.ErrForbidden
	case joined:
		return domain.ErrAlreadyJoined
	default:
		return domain.ErrCapacityReached
	}
}

// RecordResult locks the challenge row while bumping its revision, which
// serializes it against ApplyUpdate: a result is never recorded once the
// challenge is finished.
func (s *ChallengeStore) RecordResult(ctx context.Context, challengeID, wallet string, r domain.Result) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE challenges SET revision = revision + 1 WHERE id=$1 AND NOT is_finished`, challengeID)
		if err != nil {
			return persistence("lock challenge", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := getChallenge(ctx, tx, challengeID); err != nil {
				return err
			}
			return domain.ErrForbidden
		}

		row := tx.QueryRow(ctx, `
			UPDATE participants SET score=$3, reward=$4, submitted_at=$5
			WHERE challenge_id=$1 AND wallet=$2 AND score IS NULL
			RETURNING `+participantColumns,
			challengeID, wallet, r.Score, r.Reward.String(), r.SubmittedAt,
		)
		p, err = scanParticipant(row)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := getParticipant(ctx, tx, challengeID, wallet); err != nil {
				return err
			}
			return domain.ErrAlreadySubmitted
		}
		if err != nil {
			return persistence("record result", err)
		}
		return s.invalidate(ctx, challengeID)
	})
	if err != nil {
		return domain.Participant{}, commitError(err)
	}
	s.invalidateCommitted(ctx, challengeID)
	return p, nil
}

func (s *ChallengeStore) Participant(ctx context.Context, challengeID, wallet string) (domain.Participant, error) {
	return getParticipant(ctx, s.pool, challengeID, wallet)
}

func getParticipant(ctx context.Context, q querier, challengeID, wallet string) (domain.Participant, error) {
	row := q.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE challenge_id=$1 AND wallet=$2`,
		challengeID, wallet,
	)
	p, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, persistence("load participant", err)
	}
	return p, nil
}

// Participants returns participants in join order.
func (s *ChallengeStore) Participants(ctx context.Context, challengeID string) ([]domain.Participant, error) {
	return listParticipants(ctx, s.pool, challengeID)
}

// Standings reads the challenge and its participants in one repeatable-read
// transaction, so the count always matches the list.
func (s *ChallengeStore) Standings(ctx context.Context, challengeID string) (domain.Challenge, []domain.Participant, error) {
	var (
		c            domain.Challenge
		participants []domain.Participant
	)
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := s.pool.BeginTxFunc(ctx, opts, func(tx pgx.Tx) error {
		var err error
		if c, err = getChallenge(ctx, tx, challengeID); err != nil {
			return err
		}
		participants, err = listParticipants(ctx, tx, challengeID)
		return err
	})
	if err != nil {
		return domain.Challenge{}, nil, commitError(err)
	}
	return c, participants, nil
}

func listParticipants(ctx context.Context, q querier, challengeID string) ([]domain.Participant, error) {
	rows, err := q.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE challenge_id=$1 ORDER BY joined_at, wallet`,
		challengeID,
	)
	if err != nil {
		return nil, persistence("list participants", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, persistence("scan participant", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list participants", err)
	}
	return out, nil
}

func (s *ChallengeStore) invalidate(ctx context.Context, id string) error {
	if err := s.invalidator.Invalidate(ctx, id, app.AllViews...); err != nil {
		return fmt.Errorf("%w: invalidate %s: %v", domain.ErrPersistence, id, err)
	}
	return nil
}

// invalidateCommitted runs after commit. The in-transaction bump already
// hid every entry filled before the mutation, so a failure here only leaves a
// fill that raced the commit alive until its TTL; it is logged, not returned.
func (s *ChallengeStore) invalidateCommitted(ctx context.Context, id string) {
	if err := s.invalidator.Invalidate(ctx, id, app.AllViews...); err != nil {
		s.log.Warn("post-commit cache invalidation failed", "id", id, "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChallenge(row rowScanner) (domain.Challenge, error) {
	var (
		c                 domain.Challenge
		source, diff      string
		items             []byte
		reward, totalCost string
	)
	err := row.Scan(
		&c.ID, &c.Creator.Name, &c.Creator.Wallet, &c.Topic, &source, &diff, &c.TimeLimit, &items,
		&c.Capacity, &c.ParticipantCount, &reward, &totalCost,
		&c.IsPublic, &c.IsFinished, &c.Degraded, &c.CreatedAt, &c.Revision,
	)
	if err != nil {
		return domain.Challenge{}, err
	}
	c.Source = domain.SourceKind(source)
	c.Difficulty = domain.Difficulty(diff)
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return domain.Challenge{}, fmt.Errorf("unmarshal items: %w", err)
	}
	if c.RewardPerItem, err = decimal.NewFromString(reward); err != nil {
		return domain.Challenge{}, fmt.Errorf("parse reward: %w", err)
	}
	if c.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return domain.Challenge{}, fmt.Errorf("parse total cost: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		p           domain.Participant
		score       *int32
		reward      *string
		submittedAt *time.Time
	)
	if err := row.Scan(&p.ChallengeID, &p.Wallet, &p.DisplayName, &p.JoinedAt, &score, &reward, &submittedAt); err != nil {
		return domain.Participant{}, err
	}
	p.JoinedAt = p.JoinedAt.UTC()
	if score != nil {
		v := int(*score)
		p.Score = &v
	}
	if reward != nil {
		d, err := decimal.NewFromString(*reward)
		if err != nil {
			return domain.Participant{}, fmt.Errorf("parse reward: %w", err)
		}
		p.Reward = &d
	}
	if submittedAt != nil {
		at := submittedAt.UTC()
		p.SubmittedAt = &at
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

// commitError keeps domain sentinels intact and wraps anything else from the
// transaction machinery as a persistence failure.
func commitError(err error) error {
	for _, sentinel := range []error{
		domain.ErrChallengeNotFound, domain.ErrForbidden, domain.ErrAlreadyJoined,
		domain.ErrCapacityReached, domain.ErrInvalidUpdate, domain.ErrPersistence,
		domain.ErrParticipantNotFound, domain.ErrAlreadySubmitted,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return persistence("transaction", err)
}
