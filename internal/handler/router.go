package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/gamechat/backend/internal/handler/chat"
	"github.com/zhouzirui/gamechat/backend/internal/handler/events"
	"github.com/zhouzirui/gamechat/backend/internal/logging"
	"github.com/zhouzirui/gamechat/backend/internal/metrics"
	eventsvc "github.com/zhouzirui/gamechat/backend/internal/service/events"
	"github.com/zhouzirui/gamechat/backend/pkg/utils"
)

// Options 路由依赖
type Options struct {
	Chat        chat.Service
	Hub         *eventsvc.Hub // 为空时不注册 /api/events
	CORSOrigins []string
	StoreDriver string
	AIMode      string // ark 或 offline
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(corsOptions(opts.CORSOrigins)))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"store":  opts.StoreDriver,
			"ai":     opts.AIMode,
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		chat.New(opts.Chat).RegisterRoutes(api)

		if opts.Hub != nil {
			events.New(opts.Hub, opts.CORSOrigins).RegisterRoutes(api)
		}
	})

	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowCredentials := true
	for _, origin := range origins {
		// 通配来源不能携带凭证
		if origin == "*" {
			allowCredentials = false
		}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           int((12 * time.Hour).Seconds()),
	}
}
