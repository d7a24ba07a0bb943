// Package health 提供存活与就绪检查。
package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	// MaxGoroutines 协程数超过该值视为不健康
	MaxGoroutines = 10000
	dialTimeout   = time.Second
)

// Checker 可被检查健康状态的组件
type Checker interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  Checker
	addrs  []string
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，smtpAddrs 为已监听的 SMTP 地址
func NewHealthChecker(store Checker, smtpAddrs []string, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		addrs:  smtpAddrs,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("storage", hc.storageCheck)
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(MaxGoroutines))

	for _, addr := range hc.addrs {
		hc.health.AddReadinessCheck("smtp "+addr, healthcheck.TCPDialCheck(addr, dialTimeout))
	}
}

func (hc *HealthChecker) storageCheck() error {
	if err := hc.store.Health(); err != nil {
		hc.logger.Warn("storage health check failed", zap.Error(err))
		return err
	}
	return nil
}

// Handler 返回健康检查处理器，路径为 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查，包含全部存活检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行一次检查并返回各项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	for _, addr := range hc.addrs {
		if err := healthcheck.TCPDialCheck(addr, dialTimeout)(); err != nil {
			results["smtp "+addr] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["smtp "+addr] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}
