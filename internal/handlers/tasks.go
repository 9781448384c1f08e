package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/babymaxMAX/autosub/internal/limits"
	"github.com/babymaxMAX/autosub/internal/logging"
	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/repositories"
	"github.com/babymaxMAX/autosub/internal/scheduler"
)

// TaskHandler implements the task submission and lifecycle endpoints.
type TaskHandler struct {
	Users     UserStore
	Scheduler TaskScheduler
	Prober    MediaProber
	NowFunc   func() time.Time
}

// Submit handles POST /api/v1/tasks requests.
func (h TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Scheduler == nil {
		logger.Error("task dependencies unavailable", "hasUsers", h.Users != nil, "hasScheduler", h.Scheduler != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "task service unavailable"})
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid submit payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.ChatID <= 0 || req.Locator == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "chatId and locator are required"})
		return
	}

	input, err := scheduler.ParseInput(req.Kind, req.Locator)
	if err != nil {
		logger.Warn("unsupported submit source", "kind", req.Kind, "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "unsupported media source"})
		return
	}

	user, err := h.resolveUser(r, req.ChatID)
	if err != nil {
		logger.Error("resolve user", "chatId", req.ChatID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to resolve account"})
		return
	}

	duration := req.Duration
	if input.Kind != models.InputUpload {
		if h.Prober == nil {
			logger.Error("media prober unavailable")
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "task service unavailable"})
			return
		}
		meta, err := h.Prober.Probe(ctx, input.Locator)
		if err != nil {
			logger.Warn("probe media", "locator", input.Locator, "error", err)
			respondJSON(ctx, w, http.StatusUnprocessableEntity, map[string]string{"error": "unable to inspect media"})
			return
		}
		duration = meta.Duration
	}
	if duration <= 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "durationSeconds is required for uploads"})
		return
	}

	opts := req.Options.toModel()

	taskID, err := h.Scheduler.Submit(ctx, user, input, opts, duration)
	if err != nil {
		status, message := admissionStatus(err)
		if status == http.StatusInternalServerError {
			logger.Error("submit task", "chatId", req.ChatID, "error", err)
		} else {
			logger.Warn("task rejected", "chatId", req.ChatID, "error", err)
		}
		respondJSON(ctx, w, status, map[string]string{"error": message})
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]string{
		"taskId": taskID,
		"status": string(models.StatusPending),
	})
}

// Status handles GET /api/v1/tasks requests.
func (h TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	taskID := r.URL.Query().Get("id")
	if taskID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}

	task, err := h.Scheduler.Query(ctx, taskID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "task not found"})
			return
		}
		logging.FromContext(ctx).Error("query task", "taskId", taskID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load task"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, taskViewOf(task))
}

// Cancel handles POST /api/v1/tasks/cancel requests.
func (h TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "taskId is required"})
		return
	}

	if err := h.Scheduler.Cancel(ctx, req.TaskID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrStale):
			respondJSON(ctx, w, http.StatusConflict, map[string]string{"error": "task already finished"})
		case errors.Is(err, repositories.ErrNotFound):
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "task not found"})
		default:
			logger.Error("cancel task", "taskId", req.TaskID, "error", err)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to cancel task"})
		}
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// History handles GET /api/v1/tasks/history requests.
func (h TaskHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	chatID, err := strconv.ParseInt(r.URL.Query().Get("chatId"), 10, 64)
	if err != nil || chatID <= 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "chatId is required"})
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		if parsed > 50 {
			parsed = 50
		}
		limit = parsed
	}

	user, err := h.Users.GetByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "account not found"})
			return
		}
		logger.Error("lookup account", "chatId", chatID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load history"})
		return
	}

	tasks, err := h.Scheduler.History(ctx, user.ID, limit)
	if err != nil {
		logger.Error("load history", "userId", user.ID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load history"})
		return
	}

	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskViewOf(task))
	}

	respondJSON(ctx, w, http.StatusOK, historyResponse{Tasks: views})
}

// resolveUser finds the account for a chat id, registering a free-tier
// account on first contact.
func (h TaskHandler) resolveUser(r *http.Request, chatID int64) (models.User, error) {
	ctx := r.Context()

	user, err := h.Users.GetByChatID(ctx, chatID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, err
	}

	now := h.now()
	user = models.User{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Tier:      models.TierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		// Concurrent first contact from the same chat: the other request won.
		if errors.Is(err, repositories.ErrConflict) {
			return h.Users.GetByChatID(ctx, chatID)
		}
		return models.User{}, err
	}

	return user, nil
}

func (h TaskHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func admissionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, limits.ErrDailyLimitReached):
		return http.StatusTooManyRequests, "daily task limit reached"
	case errors.Is(err, limits.ErrVideoTooLong):
		return http.StatusUnprocessableEntity, "video exceeds tier duration limit"
	case errors.Is(err, limits.ErrFeatureNotAllowed):
		return http.StatusForbidden, "option not available on this tier"
	case errors.Is(err, limits.ErrSubscriptionExpired):
		return http.StatusPaymentRequired, "subscription expired"
	default:
		return http.StatusInternalServerError, "unable to submit task"
	}
}

type submitRequest struct {
	ChatID   int64          `json:"chatId"`
	Kind     string         `json:"kind"`
	Locator  string         `json:"locator"`
	Duration float64        `json:"durationSeconds"`
	Options  optionsPayload `json:"options"`
}

type optionsPayload struct {
	Subtitles      bool   `json:"subtitles"`
	Translate      bool   `json:"translate"`
	Voiceover      bool   `json:"voiceover"`
	VerticalFormat bool   `json:"verticalFormat"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

func (p optionsPayload) toModel() models.ProcessingOptions {
	source := p.SourceLanguage
	if source == "" {
		source = "auto"
	}
	return models.ProcessingOptions{
		Subtitles:      p.Subtitles,
		Translate:      p.Translate,
		Voiceover:      p.Voiceover,
		VerticalFormat: p.VerticalFormat,
		SourceLanguage: source,
		TargetLanguage: p.TargetLanguage,
	}
}

type cancelRequest struct {
	TaskID string `json:"taskId"`
}

type taskView struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Kind           string     `json:"kind"`
	OutputURL      string     `json:"outputUrl,omitempty"`
	SubtitlesURL   string     `json:"subtitlesUrl,omitempty"`
	Error          string     `json:"error,omitempty"`
	ProcessingTime float64    `json:"processingSeconds,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

type historyResponse struct {
	Tasks []taskView `json:"tasks"`
}

func taskViewOf(task models.Task) taskView {
	return taskView{
		ID:             task.ID,
		Status:         string(task.Status),
		Kind:           string(task.Input.Kind),
		OutputURL:      task.OutputPath,
		SubtitlesURL:   task.SubtitlesPath,
		Error:          task.ErrorMessage,
		ProcessingTime: task.ProcessingTime,
		CreatedAt:      task.CreatedAt,
		CompletedAt:    task.CompletedAt,
	}
}
