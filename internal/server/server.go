// Package server exposes the billing API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/warebill/warebill/internal/activity"
	activitydomain "github.com/warebill/warebill/internal/activity/domain"
	"github.com/warebill/warebill/internal/audit"
	auditdomain "github.com/warebill/warebill/internal/audit/domain"
	"github.com/warebill/warebill/internal/config"
	"github.com/warebill/warebill/internal/contract"
	contractdomain "github.com/warebill/warebill/internal/contract/domain"
	"github.com/warebill/warebill/internal/customer"
	customerdomain "github.com/warebill/warebill/internal/customer/domain"
	"github.com/warebill/warebill/internal/invoice"
	invoicedomain "github.com/warebill/warebill/internal/invoice/domain"
	obslogger "github.com/warebill/warebill/internal/observability/logger"
	"github.com/warebill/warebill/internal/ratecard"
	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
	"github.com/warebill/warebill/internal/rating"
	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
)

var Module = fx.Module("http.server",
	audit.Module,
	customer.Module,
	contract.Module,
	ratecard.Module,
	rating.Module,
	activity.Module,
	invoice.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           cfg.IsDev(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(metricsMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	genID       *snowflake.Node
	customerSvc customerdomain.Service
	contractSvc contractdomain.Service
	rateCardSvc ratecarddomain.Service
	ratingSvc   ratingdomain.Service
	activitySvc activitydomain.Service
	invoiceSvc  invoicedomain.Service
	auditSvc    auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	CustomerSvc customerdomain.Service
	ContractSvc contractdomain.Service
	RateCardSvc ratecarddomain.Service
	RatingSvc   ratingdomain.Service
	ActivitySvc activitydomain.Service
	InvoiceSvc  invoicedomain.Service
	AuditSvc    auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		genID:       p.GenID,
		customerSvc: p.CustomerSvc,
		contractSvc: p.ContractSvc,
		rateCardSvc: p.RateCardSvc,
		ratingSvc:   p.RatingSvc,
		activitySvc: p.ActivitySvc,
		invoiceSvc:  p.InvoiceSvc,
		auditSvc:    p.AuditSvc,
	}

	s.registerAPIRoutes()

	return s
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	customers := v1.Group("/customers")
	customers.POST("", s.CreateCustomer)
	customers.GET("", s.ListCustomers)
	customers.GET("/:id", s.GetCustomerByID)
	customers.POST("/:id/deactivate", s.DeactivateCustomer)
	customers.GET("/:id/contracts", s.ListCustomerContracts)
	customers.GET("/:id/invoices", s.ListCustomerInvoices)

	contracts := v1.Group("/contracts")
	contracts.POST("", s.CreateContract)
	contracts.GET("/:id", s.GetContractByID)
	contracts.POST("/:id/activate", s.ActivateContract)
	contracts.POST("/:id/terminate", s.TerminateContract)

	cards := v1.Group("/rate-cards")
	cards.POST("", s.CreateStandardCard)
	cards.GET("", s.RateCardHistory)
	cards.GET("/active", s.GetActiveCard)
	cards.GET("/for-date", s.GetCardForDate)
	cards.POST("/:id/versions", s.CreateCardVersion)
	cards.POST("/:id/adjustments", s.CreateCardAdjustment)
	cards.POST("/:id/activate", s.ActivateCard)
	cards.POST("/:id/deactivate", s.DeactivateCard)
	cards.POST("/:id/archive", s.ArchiveCard)
	cards.POST("/:id/restore", s.RestoreCard)

	v1.GET("/rates/effective", s.GetEffectiveRates)

	activities := v1.Group("/activities")
	activities.POST("", s.RecordActivity)
	activities.GET("", s.ListActivities)
	activities.GET("/:id", s.GetActivityByID)
	activities.POST("/:id/corrections", s.CorrectActivity)

	invoices := v1.Group("/invoices")
	invoices.POST("/generate", s.GenerateInvoice)
	invoices.GET("/:id", s.GetInvoiceByID)
	invoices.POST("/:id/issue", s.IssueInvoice)
	invoices.POST("/:id/send", s.SendInvoice)
	invoices.POST("/:id/payments", s.RecordInvoicePayment)
	invoices.POST("/:id/void", s.VoidInvoice)

	v1.GET("/audit-logs", s.ListAuditLogs)
}
