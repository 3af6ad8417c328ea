package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ignatzorin/carpool-escrow/internal/config"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/http/middleware"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/handler"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	Bookings *handler.BookingHandler
	Trips    *handler.TripHandler
	Disputes *handler.DisputeHandler
	Webhooks *handler.WebhookHandler
	Health   *handler.HealthHandler
	WS       *handler.WSHandler
	Metrics  http.Handler
}

func SetupRouter(cfg *config.Config, tokens middleware.ActorParser, h Handlers, log logrus.FieldLogger) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}
	// Подпись проверяется внутри; авторизации и лимитов нет, процессор ретраит сам.
	r.POST("/webhooks/processor", h.Webhooks.Receive)

	api := r.Group("/api")
	api.GET("/ws", h.WS.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		protected.POST("/bookings", middleware.RequireRole(valueobject.RolePassenger), h.Bookings.Create)
		protected.GET("/bookings/:id", middleware.UUIDValidator("id"), h.Bookings.Get)
		protected.POST("/bookings/:id/cancel", middleware.UUIDValidator("id"), h.Bookings.Cancel)

		protected.POST("/trips", middleware.RequireRole(valueobject.RoleDriver), h.Trips.Publish)
		protected.GET("/trips/:id/bookings", middleware.UUIDValidator("id"), h.Trips.ListBookings)
		protected.POST("/trips/:id/complete", middleware.UUIDValidator("id"), h.Trips.Complete)
		protected.POST("/trips/:id/cancel", middleware.UUIDValidator("id"), h.Trips.Cancel)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole(valueobject.RoleAdmin))
	{
		admin.GET("/disputes", h.Disputes.ListOpen)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), h.Disputes.Resolve)
	}

	return r
}
