package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-scheduling/internal/metrics"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Auth    AuthConfig
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	h := &handlers{svc: cfg.Service, dev: cfg.Env == "dev"}

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.Route("/programs", func(r chi.Router) {
			r.Post("/", h.createProgram)
			r.Get("/", h.listPrograms)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getProgram)
				r.Patch("/", h.updateProgram)
				r.Delete("/", h.deleteProgram)
				r.Post("/generate", h.generateSlots)
				r.Post("/finish", h.programAction(cfg.Service.FinishProgram))
				r.Post("/cancel", h.programAction(cfg.Service.CancelProgram))
				r.Post("/dates/{date}/open", h.openDate)
				r.Post("/dates/{date}/close", h.closeDate)
				r.Get("/slots", h.listSlots)
				r.Get("/available-slots", h.availableSlots)
			})
		})

		r.Route("/slots/{id}", func(r chi.Router) {
			r.Get("/", h.getSlot)
			r.Post("/open", h.slotAction(cfg.Service.OpenSlot))
			r.Post("/close", h.slotAction(cfg.Service.CloseSlot))
			r.Post("/block", h.slotAction(cfg.Service.BlockSlot))
			r.Post("/unblock", h.slotAction(cfg.Service.UnblockSlot))
		})

		r.Get("/availability", h.checkAvailability)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.bookAppointment)
			r.Get("/", h.listAppointments)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getAppointment)
				r.Post("/cancel", h.cancelAppointment)
				r.Post("/reschedule", h.rescheduleAppointment)
				r.Post("/confirm", h.advanceAppointment(scheduling.StatusConfirmed))
				r.Post("/start", h.advanceAppointment(scheduling.StatusInProgress))
				r.Post("/complete", h.advanceAppointment(scheduling.StatusCompleted))
				r.Post("/no-show", h.advanceAppointment(scheduling.StatusNoShow))
			})
		})
	})

	return r
}
