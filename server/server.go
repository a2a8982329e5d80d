// Package server wires the HTTP surface: checkout session creation, the raw
// body Stripe webhook, admin order/newsletter queries, contact relay, and the
// flat shipping quote.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/bookshop/pkg/config"
	"github.com/example/bookshop/pkg/models"
	"github.com/example/bookshop/pkg/payments"
	"github.com/example/bookshop/pkg/repository"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// Payments is the slice of the Stripe client the handlers need.
type Payments interface {
	CreateCheckoutSession(ctx context.Context, items []payments.CartItem, customerEmail string) (string, error)
	GetSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error)
}

type OrderStore interface {
	Insert(ctx context.Context, order *models.Order) error
	List(ctx context.Context, filter repository.OrderFilter) ([]models.Order, error)
	ExportCSV(ctx context.Context, w io.Writer) error
}

type NewsletterStore interface {
	Insert(ctx context.Context, signup *models.NewsletterSignup) error
	List(ctx context.Context) ([]models.NewsletterSignup, error)
	ExportCSV(ctx context.Context, w io.Writer) error
}

type SessionCache interface {
	CacheSession(ctx context.Context, sessionID string, view *repository.SessionView) error
	GetSessionCache(ctx context.Context, sessionID string) (*repository.SessionView, error)
}

// AuditStore records webhook outcomes and dead-letters swallowed insert
// failures. Both calls are fire-and-forget from the handlers.
type AuditStore interface {
	RecordWebhookAudit(ctx context.Context, audit *repository.WebhookAudit) error
	RecordDeadLetter(ctx context.Context, dl *repository.DeadLetter) error
}

// Notifier enqueues a mail message without waiting for delivery.
type Notifier interface {
	Send(msg interface{})
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *gin.Engine
	payments   Payments
	orders     OrderStore
	newsletter NewsletterStore
	cache      SessionCache
	audit      AuditStore
	notifier   Notifier
}

func NewServer(cfg *config.Config, logger *zap.Logger, pay Payments, orders OrderStore,
	newsletter NewsletterStore, cache SessionCache, audit AuditStore, notifier Notifier) *Server {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	return &Server{
		config:     cfg,
		logger:     logger,
		router:     router,
		payments:   pay,
		orders:     orders,
		newsletter: newsletter,
		cache:      cache,
		audit:      audit,
		notifier:   notifier,
	}
}

// SetupRoutes registers the pipeline in order. The webhook route is mounted
// before the CORS stage: its handler reads the raw body itself, and nothing
// registered ahead of it may transform the request.
func (s *Server) SetupRoutes() {
	s.router.POST("/webhook", s.handleWebhook)

	if len(s.config.Server.AllowedOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.Server.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.POST("/create-checkout-session", s.handleCreateCheckoutSession)
	s.router.POST("/calculate-shipping", s.handleCalculateShipping)

	api := s.router.Group("/api")
	{
		api.GET("/session/:id", s.handleGetSession)
		api.POST("/newsletter", s.handleNewsletterSignup)
		api.POST("/contact", s.handleContact)

		admin := api.Group("", gin.BasicAuth(gin.Accounts{
			"admin": s.config.Admin.Password,
		}))
		{
			admin.GET("/orders", s.handleListOrders)
			admin.GET("/orders/export", s.handleExportOrders)
			admin.GET("/newsletter", s.handleListNewsletter)
			admin.GET("/newsletter/emails", s.handleListNewsletter)
			admin.GET("/newsletter/export", s.handleExportNewsletter)
		}
	}

	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("Server starting", zap.String("address", addr))
	return s.router.Run(addr)
}

// Router exposes the engine for handler tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
