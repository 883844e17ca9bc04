package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"factcheck-challenge-service/internal/app"
	"factcheck-challenge-service/internal/domain"
	"factcheck-challenge-service/internal/generate"
	"factcheck-challenge-service/internal/infra/memory"
	"factcheck-challenge-service/internal/normalize"
	"github.com/shopspring/decimal"
)

type cannedProvider struct{}

func (cannedProvider) Complete(context.Context, string) (string, error) {
	return "```json\n" + `[{"statement":"The Eiffel Tower is in Paris","isTrue":true},{"statement":"It was built in 1999","isTrue":false}]` + "\n```", nil
}

func newTestServer(t *testing.T) (*httptest.Server, *app.ChallengeService, *memory.ChallengeStore) {
	t.Helper()
	cache := memory.NewReadCache(5*time.Minute, time.Minute)
	store := memory.NewChallengeStore(cache)
	service := app.NewChallengeService(store, cache, normalize.New(), generate.New(cannedProvider{}, nil))

	mux := http.NewServeMux()
	NewHandler(service, nil).Register(mux)
	mux.HandleFunc("/ws", NewWSHandler(service, nil).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, service, store
}

func seedPublished(t *testing.T, store *memory.ChallengeStore, capacity int) domain.Challenge {
	t.Helper()
	c, err := store.Create(context.Background(), domain.Challenge{
		Creator:  domain.Creator{Name: "Creator", Wallet: "0xcreator"},
		Topic:    "Towers",
		Capacity: capacity,
		Items: []domain.Item{
			{ID: "i1", Statement: "one", Answer: domain.BoolAnswer(true)},
			{ID: "i2", Statement: "two", Answer: domain.BoolAnswer(false)},
			{ID: "i3", Statement: "three", Answer: domain.BoolAnswer(true)},
		},
		RewardPerItem: decimal.NewFromInt(2),
		IsPublic:      true,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}
