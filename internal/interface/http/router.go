package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"alert-scanner/internal"
	appAlert "alert-scanner/internal/application/alert"
	alertDomain "alert-scanner/internal/domain/alert"
	authinfra "alert-scanner/internal/infrastructure/auth"
	"alert-scanner/internal/interface/http/handler"
)

const (
	errCodeBadRequest   = "BAD_REQUEST"
	errCodeUnauthorized = "AUTH_UNAUTHORIZED"
	errCodeNotFound     = "NOT_FOUND"
	errCodeConflict     = "INVALID_TRANSITION"
	errCodeInternal     = "INTERNAL_ERROR"
)

// AlertService 是管理 API 使用的警報操作。
type AlertService interface {
	Create(ctx context.Context, in appAlert.CreateInput) (alertDomain.Alert, error)
	List(ctx context.Context, status alertDomain.Status) ([]alertDomain.Alert, error)
	Cancel(ctx context.Context, id int64) (alertDomain.Alert, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// ScannerControl 控制市場掃描器。
type ScannerControl interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
	ScanCount() int64
}

// ReconcileTrigger 手動觸發一次對帳（仍受租約約束）。
type ReconcileTrigger interface {
	Run(ctx context.Context) (appAlert.RunResult, error)
}

// Deps 為 Server 的依賴。
type Deps struct {
	// RunCtx 是背景工作（掃描器）的生命週期，不隨單一請求結束。
	RunCtx     context.Context
	Alerts     AlertService
	Scanner    ScannerControl
	Reconciler ReconcileTrigger
	Tokens     *authinfra.JWTIssuer
	Metrics    http.Handler
	DBDriver   string
	Log        zerolog.Logger
}

// Server 封裝 gin 路由與依賴。
type Server struct {
	engine     *gin.Engine
	runCtx     context.Context
	alerts     AlertService
	scanner    ScannerControl
	reconciler ReconcileTrigger
	tokenSvc   *authinfra.JWTIssuer
	metrics    http.Handler
	dbDriver   string
	log        zerolog.Logger
}

// NewServer 建立管理 API 伺服器。
func NewServer(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	runCtx := d.RunCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	s := &Server{
		engine:     gin.New(),
		runCtx:     runCtx,
		alerts:     d.Alerts,
		scanner:    d.Scanner,
		reconciler: d.Reconciler,
		tokenSvc:   d.Tokens,
		metrics:    d.Metrics,
		dbDriver:   d.DBDriver,
		log:        d.Log,
	}
	// main 可能傳入 typed nil（例如停用的掃描器），統一視為未設定
	if internal.IsNil(s.alerts) {
		s.alerts = nil
	}
	if internal.IsNil(s.scanner) {
		s.scanner = nil
	}
	if internal.IsNil(s.reconciler) {
		s.reconciler = nil
	}
	s.registerRoutes()
	return s
}

// Handler 回傳路由處理器，供 HTTP server 掛載。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.Use(gin.Recovery(), s.ginLogger(), corsMiddleware())

	r.GET("/api/ping", gin.WrapH(handler.Ping()))
	r.GET("/api/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := r.Group("/api", s.requireAuth())
	api.GET("/alerts", s.handleListAlerts)
	api.POST("/alerts", s.handleCreateAlert)
	api.POST("/alerts/:id/cancel", s.handleCancelAlert)
	api.DELETE("/alerts/:id", s.handleDeleteAlert)
	api.POST("/scanner/start", s.handleScannerStart)
	api.POST("/scanner/stop", s.handleScannerStop)
	api.POST("/reconciler/run", s.handleReconcileRun)
}
