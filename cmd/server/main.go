package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"mailsink/backend/internal/auth"
	"mailsink/backend/internal/cleaner"
	"mailsink/backend/internal/config"
	"mailsink/backend/internal/health"
	"mailsink/backend/internal/logger"
	"mailsink/backend/internal/monitoring"
	"mailsink/backend/internal/smtp"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage/factory"
	httptransport "mailsink/backend/internal/transport/http"
	"mailsink/backend/internal/websocket"
)

// redactedKey 日志中代替共享密钥的占位符
const redactedKey = "<key>"

// main 启动 SMTP 收信与 HTTP 查询服务。
func main() {
	defer memguard.Purge()

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "mailsink: %v\n", err)
		memguard.SafeExit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting mailsink",
		zap.Ints("smtp_ports", cfg.SMTP.Ports),
		zap.Int("http_port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Type),
		zap.Duration("lifetime", cfg.Mail.Lifetime),
	)

	store, err := factory.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	key, err := auth.NewSharedKey(cfg.Auth.Key)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics(nil)
	metrics.RegisterRuntimeCollectors()
	if n, err := store.Len(); err == nil {
		metrics.UpdateMailsStored(n)
	}

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log.Named("websocket"))

	tlsConfig, err := smtp.LoadTLSConfig(cfg.SMTP.TLSCert, cfg.SMTP.TLSKey, log)
	if err != nil {
		return err
	}

	smtpServer := smtp.NewServer(smtp.ServerConfig{
		Host:  cfg.SMTP.Host,
		Ports: cfg.SMTP.Ports,
		Session: smtp.SessionConfig{
			TLSConfig:       tlsConfig,
			ReadTimeout:     cfg.SMTP.ReadTimeout,
			WriteTimeout:    cfg.SMTP.WriteTimeout,
			MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
		},
		MaxConnections: cfg.SMTP.MaxConnections,
		MaxConnRate:    cfg.SMTP.MaxConnRate,
	}, snowflake.NewGenerator(), store, log,
		smtp.WithNotifier(wsHub),
		smtp.WithMetrics(metrics),
	)
	if err := smtpServer.Listen(); err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Store:          store,
		Key:            key,
		Info:           monitoring.NewInfoCollector(store, cfg.Storage.Path),
		Metrics:        metrics,
		WebSocketHub:   wsHub,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         log,
	})

	httpAddr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		smtpServer.Close()
		return fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		httpListener = netutil.LimitListener(httpListener, cfg.Server.MaxConnections)
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var opsServer *http.Server
	if cfg.Ops.Addr != "" {
		healthChecker := health.NewHealthChecker(store, dialAddrs(smtpServer.Addrs()), log.Named("health"))
		opsServer = &http.Server{
			Addr:              cfg.Ops.Addr,
			Handler:           opsRouter(metrics, healthChecker),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpListener.Addr().String()))
		log.Info("panel available",
			zap.String("url", panelURL(cfg)))
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		if err := smtpServer.Serve(groupCtx); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	if opsServer != nil {
		group.Go(func() error {
			log.Info("starting ops server", zap.String("address", opsServer.Addr))
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("ops server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 过期邮件清理 goroutine
	if cfg.Mail.Lifetime > 0 {
		c := cleaner.New(store, cfg.Mail.Lifetime, log,
			cleaner.WithInterval(cfg.Mail.CleanupInterval),
			cleaner.WithMetrics(metrics),
		)
		group.Go(func() error {
			return c.Run(groupCtx)
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if opsServer != nil {
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				log.Error("ops server shutdown error", zap.Error(err))
			}
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := smtpServer.Stats()
	log.Info("server exited cleanly",
		zap.Int64("smtp_accepted", stats.Accepted),
		zap.Int64("smtp_rejected", stats.Rejected),
		zap.Int64("mails_stored", stats.Stored),
	)
	return nil
}

// opsRouter 运维端点: 指标与健康检查
func opsRouter(metrics *monitoring.Metrics, hc *health.HealthChecker) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))
	router.GET("/health/live", gin.WrapF(hc.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(hc.ReadyEndpoint))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, hc.CheckHealth())
	})
	return router
}

// panelURL 启动日志中的面板地址，密钥不落日志
func panelURL(cfg *config.Config) string {
	return fmt.Sprintf("http://localhost:%d/panel?k=%s", cfg.Server.Port, redactedKey)
}

// dialAddrs 将通配监听地址转换为可拨号的本地地址
func dialAddrs(addrs []net.Addr) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		host, port, err := net.SplitHostPort(addr.String())
		if err != nil {
			continue
		}
		if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
			host = "127.0.0.1"
		}
		out = append(out, net.JoinHostPort(host, port))
	}
	return out
}
