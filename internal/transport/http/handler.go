package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"factcheck-challenge-service/internal/app"
	"factcheck-challenge-service/internal/domain"
	"factcheck-challenge-service/internal/logger"
	"factcheck-challenge-service/internal/normalize"
	"github.com/shopspring/decimal"
)

const maxJSONBody = 1 << 20

// Handler exposes the challenge use cases as JSON endpoints.
type Handler struct {
	service *app.ChallengeService
	log     *logger.Logger
}

func NewHandler(service *app.ChallengeService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, log: log}
}

// Register mounts every challenge route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /challenges/prompt", h.createFromPrompt)
	mux.HandleFunc("POST /challenges/document", h.createFromDocument)
	mux.HandleFunc("POST /challenges/webpage", h.createFromWebPage)
	mux.HandleFunc("POST /challenges/video", h.createFromVideo)
	mux.HandleFunc("POST /challenges/{id}/verify", h.verify)
	mux.HandleFunc("POST /challenges/{id}/join", h.join)
	mux.HandleFunc("POST /challenges/{id}/submit", h.submit)
	mux.HandleFunc("GET /challenges/{id}/leaderboard", h.leaderboard)
	mux.HandleFunc("PATCH /challenges/{id}", h.update)
}

type createParams struct {
	CreatorName     string          `json:"creatorName"`
	CreatorWallet   string          `json:"creatorWallet"`
	NumParticipants int             `json:"numParticipants"`
	FactsCount      int             `json:"factsCount"`
	RewardPerScore  decimal.Decimal `json:"rewardPerScore"`
	Difficulty      string          `json:"difficulty"`
	IsPublic        bool            `json:"isPublic"`
}

func (p createParams) request(src domain.ContentSource) app.CreateRequest {
	return app.CreateRequest{
		Source:        src,
		Creator:       domain.Creator{Name: p.CreatorName, Wallet: p.CreatorWallet},
		Count:         p.FactsCount,
		Difficulty:    domain.Difficulty(strings.ToLower(p.Difficulty)),
		Capacity:      p.NumParticipants,
		RewardPerItem: p.RewardPerScore,
		IsPublic:      p.IsPublic,
	}
}

type createResponse struct {
	ID        string           `json:"id"`
	Degraded  bool             `json:"degraded"`
	Challenge domain.Challenge `json:"challenge"`
}

func (h *Handler) createFromPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		createParams
		Topic string `json:"topic"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.create(w, r, body.request(domain.PromptSource(body.Topic)))
}

func (h *Handler) createFromWebPage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		createParams
		URL string `json:"url"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.create(w, r, body.request(domain.WebPageSource(body.URL)))
}

func (h *Handler) createFromVideo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		createParams
		VideoURL string `json:"videoUrl"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.create(w, r, body.request(domain.VideoSource(body.VideoURL)))
}

// createFromDocument takes a multipart form with the PDF under "pdf".
func (h *Handler) createFromDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, normalize.MaxDocumentBytes+maxJSONBody)
	if err := r.ParseMultipartForm(maxJSONBody); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}
	file, _, err := r.FormFile("pdf")
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: pdf file is required", domain.ErrInvalidRequest))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, normalize.MaxDocumentBytes+1))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidRequest, err))
		return
	}

	params, err := formParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.create(w, r, params.request(domain.DocumentSource(data)))
}

func formParams(r *http.Request) (createParams, error) {
	p := createParams{
		CreatorName:   r.FormValue("creatorName"),
		CreatorWallet: r.FormValue("creatorWallet"),
		Difficulty:    r.FormValue("difficulty"),
	}
	var err error
	if v := r.FormValue("numParticipants"); v != "" {
		if p.NumParticipants, err = strconv.Atoi(v); err != nil {
			return p, fmt.Errorf("%w: numParticipants: %v", domain.ErrInvalidRequest, err)
		}
	}
	if v := r.FormValue("factsCount"); v != "" {
		if p.FactsCount, err = strconv.Atoi(v); err != nil {
			return p, fmt.Errorf("%w: factsCount: %v", domain.ErrInvalidRequest, err)
		}
	}
	if v := r.FormValue("rewardPerScore"); v != "" {
		if p.RewardPerScore, err = decimal.NewFromString(v); err != nil {
			return p, fmt.Errorf("%w: rewardPerScore: %v", domain.ErrInvalidRequest, err)
		}
	}
	if v := r.FormValue("isPublic"); v != "" {
		if p.IsPublic, err = strconv.ParseBool(v); err != nil {
			return p, fmt.Errorf("%w: isPublic: %v", domain.ErrInvalidRequest, err)
		}
	}
	return p, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, req app.CreateRequest) {
	res, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: res.ID, Degraded: res.Degraded, Challenge: res.Challenge})
}

type walletBody struct {
	WalletAddress   string `json:"walletAddress"`
	ParticipantName string `json:"participantName"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var body walletBody
	if !h.decode(w, r, &body) {
		return
	}
	c, err := h.service.Get(r.Context(), r.PathValue("id"), body.WalletAddress)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	var body walletBody
	if !h.decode(w, r, &body) {
		return
	}
	p, err := h.service.Join(r.Context(), r.PathValue("id"), body.WalletAddress, body.ParticipantName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WalletAddress string                     `json:"walletAddress"`
		Answers       map[string]json.RawMessage `json:"answers"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	answers := make(map[string]domain.Answer, len(body.Answers))
	for itemID, raw := range body.Answers {
		answer, ok := answerFromJSON(raw)
		if !ok {
			h.writeError(w, fmt.Errorf("%w: answer for %s must be a boolean, number or string", domain.ErrInvalidRequest, itemID))
			return
		}
		answers[itemID] = answer
	}
	p, err := h.service.Submit(r.Context(), r.PathValue("id"), body.WalletAddress, answers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.service.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var u domain.ChallengeUpdate
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidUpdate, err))
		return
	}
	summary, err := h.service.Update(r.Context(), r.PathValue("id"), u)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return false
	}
	return true
}

func answerFromJSON(raw json.RawMessage) (domain.Answer, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case bool:
		return domain.BoolAnswer(t), true
	case float64:
		return domain.Answer(strconv.FormatFloat(t, 'f', -1, 64)), true
	case string:
		return domain.Answer(t), true
	case nil:
		return "", true
	}
	return "", false
}

type errorPayload struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorPayload{Error: msg})
}

// statusFor maps domain failures onto HTTP statuses and client-safe messages.
func statusFor(err error) (int, string) {
	if nerr, ok := domain.IsNormalization(err); ok {
		return http.StatusBadRequest, nerr.UserMessage()
	}
	switch {
	case errors.Is(err, domain.ErrChallengeNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrCapacityReached), errors.Is(err, domain.ErrAlreadyJoined):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidUpdate):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
