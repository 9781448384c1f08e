package handlers

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/babymaxMAX/autosub/internal/logging"
)

// AdminHandler exposes operational statistics behind basic auth.
type AdminHandler struct {
	Queue QueueStats
	Tasks TaskStats

	Username     string
	PasswordHash string // bcrypt hash of the admin password
}

// Stats handles GET /api/v1/admin/stats requests.
func (h AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	counts, err := h.Tasks.CountByStatus(ctx)
	if err != nil {
		logger.Error("count tasks", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load statistics"})
		return
	}

	depth, err := h.Queue.Len(ctx)
	if err != nil {
		logger.Error("queue depth", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load statistics"})
		return
	}

	byStatus := make(map[string]int, len(counts))
	for status, count := range counts {
		byStatus[string(status)] = count
	}

	respondJSON(ctx, w, http.StatusOK, statsResponse{
		QueueDepth:    depth,
		TasksByStatus: byStatus,
	})
}

func (h AdminHandler) authorized(r *http.Request) bool {
	if h.Username == "" || h.PasswordHash == "" {
		return false
	}

	username, password, ok := r.BasicAuth()
	if !ok || username != h.Username {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(h.PasswordHash), []byte(password)) == nil
}

type statsResponse struct {
	QueueDepth    int64          `json:"queueDepth"`
	TasksByStatus map[string]int `json:"tasksByStatus"`
}
