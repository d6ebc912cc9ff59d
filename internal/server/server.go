package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/copydesk/internal/balance"
	balancedomain "github.com/smallbiznis/copydesk/internal/balance/domain"
	"github.com/smallbiznis/copydesk/internal/checkout"
	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/fulfillment"
	"github.com/smallbiznis/copydesk/internal/fxrate"
	fxratedomain "github.com/smallbiznis/copydesk/internal/fxrate/domain"
	"github.com/smallbiznis/copydesk/internal/invoice"
	invoicedomain "github.com/smallbiznis/copydesk/internal/invoice/domain"
	"github.com/smallbiznis/copydesk/internal/notification"
	"github.com/smallbiznis/copydesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/copydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/copydesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/copydesk/internal/observability/tracing"
	"github.com/smallbiznis/copydesk/internal/order"
	orderdomain "github.com/smallbiznis/copydesk/internal/order/domain"
	"github.com/smallbiznis/copydesk/internal/payment"
	paymentdomain "github.com/smallbiznis/copydesk/internal/payment/domain"
	"github.com/smallbiznis/copydesk/internal/pricing"
	"github.com/smallbiznis/copydesk/internal/providers"
	"github.com/smallbiznis/copydesk/internal/ratelimit"
	"github.com/smallbiznis/copydesk/internal/user"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	providers.Module,
	user.Module,
	fxrate.Module,
	pricing.Module,
	balance.Module,
	order.Module,
	invoice.Module,
	notification.Module,
	fulfillment.Module,
	checkout.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the observability middleware chain.
// httpMetrics may be nil.
func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if httpMetrics != nil {
		r.GET("/metrics", gin.WrapH(httpMetrics.Handler()))
	}

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	fx              fxratedomain.Service
	checkoutSvc     checkoutdomain.Service
	orderSvc        orderdomain.Service
	balanceSvc      balancedomain.Service
	invoiceSvc      invoicedomain.Service
	reconciler      paymentdomain.Reconciler
	notifier        notification.Notifier
	obsMetrics      *obsmetrics.Metrics
	checkoutLimiter *ratelimit.CheckoutLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	FX              fxratedomain.Service
	CheckoutSvc     checkoutdomain.Service
	OrderSvc        orderdomain.Service
	BalanceSvc      balancedomain.Service
	InvoiceSvc      invoicedomain.Service
	Reconciler      paymentdomain.Reconciler
	Notifier        notification.Notifier      `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
	CheckoutLimiter *ratelimit.CheckoutLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		fx:              p.FX,
		checkoutSvc:     p.CheckoutSvc,
		orderSvc:        p.OrderSvc,
		balanceSvc:      p.BalanceSvc,
		invoiceSvc:      p.InvoiceSvc,
		reconciler:      p.Reconciler,
		notifier:        p.Notifier,
		obsMetrics:      p.ObsMetrics,
		checkoutLimiter: p.CheckoutLimiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.GET("/pricing/quote", s.Quote)

	authed := api.Group("", s.UserRequired())

	orders := authed.Group("/orders")
	orders.POST("", s.CheckoutRateLimit(), s.CreateOrder)
	orders.GET("", s.ListOrders)
	orders.GET("/:id", s.GetOrder)
	orders.POST("/:id/cancel", s.CancelOrder)

	bal := authed.Group("/balance")
	bal.GET("", s.GetBalance)
	bal.GET("/entries", s.ListBalanceEntries)
	bal.POST("/top-up", s.CheckoutRateLimit(), s.CreateTopUp)

	invoices := authed.Group("/invoices")
	invoices.GET("", s.ListInvoices)
	invoices.GET("/:id", s.GetInvoiceByID)
	invoices.GET("/:id/pdf", s.DownloadInvoicePDF)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.InternalTokenRequired())
	internal.POST("/orders/:id/items/:item_id/progress", s.UpdateItemProgress)
	internal.POST("/orders/:id/items/:item_id/complete", s.CompleteItem)
	internal.GET("/fx", s.GetFXStatus)
}
