// Package generate turns a corpus into a validated set of answerable items.
//
// Generation never fails the caller: provider errors, malformed payloads and
// empty results all degrade to a small deterministic fallback set.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"factcheck-challenge-service/internal/domain"
	"factcheck-challenge-service/internal/logger"
	"github.com/google/uuid"
)

// Provider is any text-completion backend.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Settings are the difficulty-derived generation parameters.
type Settings struct {
	Complexity string
	TimeLimit  int
}

var difficultySettings = map[domain.Difficulty]Settings{
	domain.DifficultyEasy:   {Complexity: "basic", TimeLimit: 30},
	domain.DifficultyMedium: {Complexity: "intermediate", TimeLimit: 25},
	domain.DifficultyHard:   {Complexity: "advanced", TimeLimit: 20},
}

const fallbackTimeLimit = 30

// SettingsFor returns the parameters for d, defaulting to medium.
func SettingsFor(d domain.Difficulty) Settings {
	if s, ok := difficultySettings[d]; ok {
		return s
	}
	return difficultySettings[domain.DifficultyMedium]
}

// Generator builds item sets through a Provider.
type Generator struct {
	provider Provider
	log      *logger.Logger
	newID    func() string
	timeout  time.Duration
}

func New(provider Provider, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{provider: provider, log: log, newID: uuid.NewString}
}

// WithTimeout bounds each provider call. Zero means no bound beyond ctx.
func (g *Generator) WithTimeout(d time.Duration) *Generator {
	g.timeout = d
	return g
}

// Generate asks the provider for count items about corpus. The returned set
// always holds at least one item.
func (g *Generator) Generate(ctx context.Context, corpus domain.Corpus, count int, difficulty domain.Difficulty) domain.ItemSet {
	if !difficulty.Valid() {
		difficulty = domain.DifficultyMedium
	}
	topic := corpus.Title
	if topic == "" {
		topic = string(corpus.Source)
	}
	if count < 1 {
		count = 1
	}

	items, err := g.generate(ctx, corpus, count, difficulty)
	if err != nil {
		g.log.Warn("item generation degraded to fallback",
			"source", corpus.Source, "difficulty", difficulty, "error", err)
		return g.Fallback(topic, difficulty)
	}
	return domain.ItemSet{
		Items:      items,
		Difficulty: difficulty,
		Topic:      topic,
		TimeLimit:  SettingsFor(difficulty).TimeLimit,
	}
}

func (g *Generator) generate(ctx context.Context, corpus domain.Corpus, count int, difficulty domain.Difficulty) ([]domain.Item, error) {
	if g.provider == nil {
		return nil, errors.New("no generation provider configured")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	raw, err := g.provider.Complete(ctx, BuildPrompt(corpus, count, difficulty))
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	items, err := ParseItems(raw, count)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].ID = g.newID()
	}
	return items, nil
}

// Fallback is the placeholder set used whenever generation cannot be trusted.
func (g *Generator) Fallback(topic string, difficulty domain.Difficulty) domain.ItemSet {
	return domain.ItemSet{
		Items: []domain.Item{
			{
				ID:          g.newID(),
				Statement:   fmt.Sprintf("This is a sample %s fact 1", topic),
				Answer:      domain.BoolAnswer(true),
				Explanation: "This is a fallback fact",
			},
			{
				ID:          g.newID(),
				Statement:   fmt.Sprintf("This is a sample %s fact 2", topic),
				Answer:      domain.BoolAnswer(false),
				Explanation: "This is another fallback fact",
			},
		},
		Difficulty: difficulty,
		Topic:      topic,
		TimeLimit:  fallbackTimeLimit,
		Degraded:   true,
	}
}

// BuildPrompt renders the generation request for a corpus.
func BuildPrompt(corpus domain.Corpus, count int, difficulty domain.Difficulty) string {
	settings := SettingsFor(difficulty)
	subject := corpus.Text
	if corpus.Source != domain.SourcePrompt {
		subject = "the following content:\n\"\"\"\n" + corpus.Text + "\n\"\"\""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate %d %s difficulty true/false statements about %s\n\n", count, settings.Complexity, subject)
	sb.WriteString(`RULES:
- Mix of true and false statements
- Each statement should be clear and concise
- Avoid obvious true/false indicators
- Include interesting but lesser-known facts
- For false statements, make subtle but clear modifications to true facts
`)
	fmt.Fprintf(&sb, "- Each statement should be answerable within %d seconds\n\n", settings.TimeLimit)
	sb.WriteString(`Format each fact as a JSON object with:
{
  "statement": "[fact statement]",
  "isTrue": boolean,
  "explanation": "[one sentence explanation]"
}

Return only a JSON array of these objects.`)
	return sb.String()
}

type rawItem struct {
	Statement     string          `json:"statement"`
	Question      string          `json:"question"`
	IsTrue        *bool           `json:"isTrue"`
	Options       []string        `json:"options"`
	Answer        json.RawMessage `json:"answer"`
	CorrectAnswer json.RawMessage `json:"correctAnswer"`
	Explanation   string          `json:"explanation"`
}

// ParseItems decodes a provider payload into at most count items. Every item
// must carry a statement and an answer; otherwise the payload is rejected.
func ParseItems(raw string, count int) ([]domain.Item, error) {
	payload := ExtractJSONArray(raw)
	if payload == "" {
		return nil, errors.New("no JSON array in provider output")
	}
	var decoded []rawItem
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("provider returned no items")
	}
	if count > 0 && len(decoded) > count {
		decoded = decoded[:count]
	}

	items := make([]domain.Item, 0, len(decoded))
	for i, r := range decoded {
		statement := strings.TrimSpace(r.Statement)
		if statement == "" {
			statement = strings.TrimSpace(r.Question)
		}
		if statement == "" {
			return nil, fmt.Errorf("item %d: missing statement", i)
		}
		answer, ok := resolveAnswer(r)
		if !ok {
			return nil, fmt.Errorf("item %d: missing answer", i)
		}
		items = append(items, domain.Item{
			Statement:   statement,
			Options:     r.Options,
			Answer:      answer,
			Explanation: strings.TrimSpace(r.Explanation),
		})
	}
	return items, nil
}

func resolveAnswer(r rawItem) (domain.Answer, bool) {
	if r.IsTrue != nil {
		return domain.BoolAnswer(*r.IsTrue), true
	}
	for _, field := range []json.RawMessage{r.Answer, r.CorrectAnswer} {
		if len(field) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(field, &v); err != nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return domain.BoolAnswer(t), true
		case float64:
			return domain.Answer(strconv.FormatFloat(t, 'f', -1, 64)), true
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return domain.Answer(s), true
			}
		}
	}
	return "", false
}
