// Package httptransport 实现邮件查询 HTTP 接口。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsink/backend/internal/cache"
	"mailsink/backend/internal/middleware"
	"mailsink/backend/internal/monitoring"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
	"mailsink/backend/internal/websocket"
)

const (
	bodyCacheSize = 1024
	bodyCacheTTL  = 10 * time.Minute
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	store   storage.MailStore
	bodies  *cache.LocalCache[snowflake.ID, string]
	info    *monitoring.InfoCollector
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Store          storage.MailStore
	Key            middleware.KeyVerifier
	Info           *monitoring.InfoCollector
	Metrics        *monitoring.Metrics // 可为 nil
	WebSocketHub   *websocket.Hub      // 为 nil 时不注册 /ws
	AllowedOrigins []string
	Logger         *zap.Logger
}

type route struct {
	method  string
	path    string
	handler gin.HandlerFunc
}

// routes 路由表，按注册顺序匹配
func (h *Handler) routes(hub *websocket.Hub) []route {
	table := []route{
		{http.MethodGet, "/mails", h.listMails},
		{http.MethodDelete, "/mails", h.clearMails},
		{http.MethodGet, "/mails/to/:address", h.listByAddress},
		{http.MethodGet, "/mails/from/:address", h.listByAddress},
		{http.MethodDelete, "/mails/to/:address", h.deleteByAddress},
		{http.MethodDelete, "/mails/from/:address", h.deleteByAddress},
		{http.MethodGet, "/mails/:id", h.getMail},
		{http.MethodDelete, "/mails/:id", h.deleteMail},
		{http.MethodGet, "/info", h.getInfo},
		{http.MethodGet, "/preview/:id", h.preview},
		{http.MethodGet, "/panel", h.panel},
	}
	if hub != nil {
		table = append(table, route{http.MethodGet, "/ws", websocket.HandleWebSocket(hub)})
	}
	return table
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	router := gin.New()

	// 顺序: 恢复 → 密钥 → 日志 → 安全头 → 指标 → CORS
	router.Use(middleware.RecoveryHandler(logger, deps.Metrics))
	router.Use(middleware.SharedKey(deps.Key, logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(gincors.New(corsConfig(deps.AllowedOrigins)))

	handler := &Handler{
		store:   deps.Store,
		bodies:  cache.NewLocalCache[snowflake.ID, string](bodyCacheSize, bodyCacheTTL),
		info:    deps.Info,
		metrics: deps.Metrics,
		logger:  logger,
	}

	for _, r := range handler.routes(deps.WebSocketHub) {
		router.Handle(r.method, r.path, r.handler)
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, MsgRouteNotFound)
	})

	return router
}

func corsConfig(origins []string) gincors.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}
