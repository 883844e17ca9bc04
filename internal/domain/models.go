package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind tags where a corpus came from.
type SourceKind string

const (
	SourcePrompt   SourceKind = "prompt"
	SourceDocument SourceKind = "document"
	SourceWebPage  SourceKind = "webpage"
	SourceVideo    SourceKind = "video"
)

// ContentSource is the raw creator input. Exactly one payload field is set,
// matching Kind.
type ContentSource struct {
	Kind     SourceKind
	Text     string
	Data     []byte
	URL      string
	VideoRef string
}

func PromptSource(text string) ContentSource {
	return ContentSource{Kind: SourcePrompt, Text: text}
}

func DocumentSource(data []byte) ContentSource {
	return ContentSource{Kind: SourceDocument, Data: data}
}

func WebPageSource(url string) ContentSource {
	return ContentSource{Kind: SourceWebPage, URL: url}
}

func VideoSource(ref string) ContentSource {
	return ContentSource{Kind: SourceVideo, VideoRef: ref}
}

// Corpus is normalized text ready for item generation.
type Corpus struct {
	Text   string
	Source SourceKind
	Title  string
}

// Difficulty drives generation complexity and the per-item time limit.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Answer is the canonical textual form of an answer: "true"/"false" for
// true/false items, an option index or option text for multiple choice.
type Answer string

// Normalized folds case and surrounding whitespace so equal answers compare equal.
func (a Answer) Normalized() string {
	return strings.ToLower(strings.TrimSpace(string(a)))
}

// Matches reports whether a submitted answer equals the canonical one.
func (a Answer) Matches(submitted Answer) bool {
	want := a.Normalized()
	return want != "" && want == submitted.Normalized()
}

// BoolAnswer converts a boolean verdict to its canonical answer.
func BoolAnswer(v bool) Answer {
	if v {
		return "true"
	}
	return "false"
}

// Item is one answerable statement. Items never change once their challenge exists.
type Item struct {
	ID          string   `json:"id"`
	Statement   string   `json:"statement"`
	Options     []string `json:"options,omitempty"`
	Answer      Answer   `json:"answer,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// ItemSet is the generator's output.
type ItemSet struct {
	Items      []Item
	Difficulty Difficulty
	Topic      string
	TimeLimit  int // seconds per item
	Degraded   bool
}

// Creator identifies who paid for a challenge.
type Creator struct {
	Name   string `json:"name"`
	Wallet string `json:"wallet"`
}

// ChallengeState is derived from the challenge's scalar fields.
type ChallengeState string

const (
	StateDraft     ChallengeState = "draft"
	StatePublished ChallengeState = "published"
	StateFull      ChallengeState = "full"
	StateFinished  ChallengeState = "finished"
)

// Challenge is the aggregate root owned by the challenge store.
type Challenge struct {
	ID               string          `json:"id"`
	Creator          Creator         `json:"creator"`
	Topic            string          `json:"topic"`
	Source           SourceKind      `json:"source"`
	Difficulty       Difficulty      `json:"difficulty"`
	TimeLimit        int             `json:"timeLimit"`
	Items            []Item          `json:"items"`
	Capacity         int             `json:"capacity"`
	ParticipantCount int             `json:"participantCount"`
	RewardPerItem    decimal.Decimal `json:"rewardPerItem"`
	TotalCost        decimal.Decimal `json:"totalCost"`
	IsPublic         bool            `json:"isPublic"`
	IsFinished       bool            `json:"isFinished"`
	Degraded         bool            `json:"degraded"`
	CreatedAt        time.Time       `json:"createdAt"`
	// Revision grows by one with every committed mutation of the challenge
	// or its participants.
	Revision int64 `json:"revision"`
}

// State maps the scalar flags onto the Draft -> Published -> (Full | Finished) machine.
func (c Challenge) State() ChallengeState {
	switch {
	case c.IsFinished:
		return StateFinished
	case !c.IsPublic:
		return StateDraft
	case c.ParticipantCount >= c.Capacity:
		return StateFull
	default:
		return StatePublished
	}
}

// Redacted returns a copy safe to show participants: canonical answers and
// explanations are stripped.
func (c Challenge) Redacted() Challenge {
	items := make([]Item, len(c.Items))
	for i, item := range c.Items {
		items[i] = Item{
			ID:        item.ID,
			Statement: item.Statement,
			Options:   append([]string(nil), item.Options...),
		}
	}
	c.Items = items
	return c
}

// Score counts the items whose canonical answer matches the submitted one.
// Unanswered and unknown item ids never count.
func (c Challenge) Score(answers map[string]Answer) int {
	score := 0
	for _, item := range c.Items {
		if submitted, ok := answers[item.ID]; ok && item.Answer.Matches(submitted) {
			score++
		}
	}
	return score
}

// TotalCost is what the creator funds: every item answered correctly by every participant.
func TotalCost(rewardPerItem decimal.Decimal, items, capacity int) decimal.Decimal {
	return rewardPerItem.Mul(decimal.NewFromInt(int64(items))).Mul(decimal.NewFromInt(int64(capacity)))
}

// Apply mutates only the allow-listed scalar fields. Capacity may not drop
// below the current participant count.
func (c *Challenge) Apply(u ChallengeUpdate) error {
	if u.Empty() {
		return ErrInvalidUpdate
	}
	if u.Capacity != nil {
		if *u.Capacity <= 0 || *u.Capacity < c.ParticipantCount {
			return ErrInvalidUpdate
		}
		c.Capacity = *u.Capacity
		c.TotalCost = TotalCost(c.RewardPerItem, len(c.Items), c.Capacity)
	}
	if u.IsPublic != nil {
		c.IsPublic = *u.IsPublic
	}
	if u.IsFinished != nil {
		c.IsFinished = *u.IsFinished
	}
	return nil
}

// ChallengeUpdate lists the only fields an administrative update may touch.
// Nil fields are left unchanged.
type ChallengeUpdate struct {
	IsPublic   *bool `json:"isPublic,omitempty"`
	IsFinished *bool `json:"isFinished,omitempty"`
	Capacity   *int  `json:"capacity,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ChallengeUpdate) Empty() bool {
	return u.IsPublic == nil && u.IsFinished == nil && u.Capacity == nil
}

// Participant is one identity's admission record for a challenge.
type Participant struct {
	ChallengeID string           `json:"challengeId"`
	Wallet      string           `json:"wallet"`
	DisplayName string           `json:"displayName"`
	JoinedAt    time.Time        `json:"joinedAt"`
	Score       *int             `json:"score"`
	Reward      *decimal.Decimal `json:"reward"`
	SubmittedAt *time.Time       `json:"submittedAt,omitempty"`
}

// Submitted reports whether the participant's result has been recorded.
func (p Participant) Submitted() bool {
	return p.Score != nil
}

// SortParticipants orders best first: higher score, then earlier submission,
// then display name. Participants without a result sink to the bottom.
func SortParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Submitted() != b.Submitted() {
			return a.Submitted()
		}
		if a.Submitted() {
			if *a.Score != *b.Score {
				return *a.Score > *b.Score
			}
			if a.SubmittedAt != nil && b.SubmittedAt != nil && !a.SubmittedAt.Equal(*b.SubmittedAt) {
				return a.SubmittedAt.Before(*b.SubmittedAt)
			}
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.Wallet < b.Wallet
	})
}

// Result is a scored submission ready to persist.
type Result struct {
	Score       int
	Reward      decimal.Decimal
	SubmittedAt time.Time
}

// Leaderboard pairs a challenge with its participants, best first.
type Leaderboard struct {
	Challenge    Challenge     `json:"challenge"`
	Participants []Participant `json:"participants"`
}

// UpdateSummary is returned after an administrative update so the caller can
// settle rewards.
type UpdateSummary struct {
	ID           string            `json:"id"`
	Participants []string          `json:"participants"`
	Rewards      []decimal.Decimal `json:"rewards"`
}
