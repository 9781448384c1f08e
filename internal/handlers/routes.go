package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Service: "autosub", Version: deps.Version}
	tasks := TaskHandler{Users: deps.Users, Scheduler: deps.Scheduler, Prober: deps.Prober}
	payments := PaymentHandler{Users: deps.Users, Reconciler: deps.Payments, Limiter: deps.WebhookLimiter}
	admin := AdminHandler{
		Queue:        deps.Queue,
		Tasks:        deps.TaskStats,
		Username:     deps.AdminUsername,
		PasswordHash: deps.AdminPasswordHash,
	}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			tasks.Submit(w, r)
		case http.MethodGet:
			tasks.Status(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/cancel", tasks.Cancel)
	mux.HandleFunc("/api/v1/tasks/history", tasks.History)
	mux.HandleFunc("/api/v1/payments/link", payments.CreateLink)
	mux.HandleFunc("/webhook/payment", payments.Webhook)
	mux.HandleFunc("/api/v1/admin/stats", admin.Stats)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users          UserStore
	Scheduler      TaskScheduler
	Prober         MediaProber
	Payments       PaymentReconciler
	Queue          QueueStats
	TaskStats      TaskStats
	WebhookLimiter RateLimiter

	AdminUsername     string
	AdminPasswordHash string
	Version           string
}
