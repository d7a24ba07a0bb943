package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/monitoring"
	"mailsink/backend/internal/snowflake"
	"mailsink/backend/internal/storage"
)

// Notifier 新邮件持久化后的回调
type Notifier interface {
	NotifyNewMail(mail *domain.Mail)
}

// ServerConfig 监听与会话参数
type ServerConfig struct {
	Host           string
	Ports          []int
	Session        SessionConfig
	MaxConnections int
	MaxConnRate    float64
}

// ServerOption 可选项
type ServerOption func(*Server)

// WithNotifier 设置新邮件通知
func WithNotifier(n Notifier) ServerOption {
	return func(s *Server) { s.notifier = n }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// Stats 服务器计数
type Stats struct {
	Accepted int64
	Rejected int64
	Active   int64
	Stored   int64
}

type portListener struct {
	net.Listener
	port string
}

// Server 在一个或多个端口上接受 SMTP 连接，每个连接一个 goroutine
type Server struct {
	cfg      ServerConfig
	gen      *snowflake.Generator
	store    storage.MailStore
	limiter  *ConnectionLimiter
	notifier Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger

	mu        sync.Mutex
	listeners []portListener
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	closed   atomic.Bool
	accepted atomic.Int64
	rejected atomic.Int64
	active   atomic.Int64
	stored   atomic.Int64
}

// NewServer 创建 SMTP 服务器
func NewServer(cfg ServerConfig, gen *snowflake.Generator, store storage.MailStore, log *zap.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		gen:     gen,
		store:   store,
		limiter: NewConnectionLimiter(cfg.MaxConnections, cfg.MaxConnRate),
		log:     log,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen 绑定全部端口；任一端口失败时关闭已绑定的端口
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.listeners) > 0 {
		return nil
	}
	if len(s.cfg.Ports) == 0 {
		return fmt.Errorf("no SMTP port configured")
	}

	for _, port := range s.cfg.Ports {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range s.listeners {
				l.Close()
			}
			s.listeners = nil
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		_, actual, _ := net.SplitHostPort(ln.Addr().String())
		s.listeners = append(s.listeners, portListener{Listener: ln, port: actual})
		s.log.Info("SMTP listener started", zap.String("address", ln.Addr().String()))
	}
	return nil
}

// Addrs 返回实际监听的地址
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Serve 接受连接直到 ctx 取消或 Close 被调用，返回前等待全部会话结束
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	listeners := append([]portListener(nil), s.listeners...)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		ln := ln
		g.Go(func() error {
			return s.acceptLoop(gctx, ln)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.done:
		}
		s.Close()
		return nil
	})

	err := g.Wait()
	s.wg.Wait()
	return err
}

// Close 关闭全部监听器，进行中的会话由 Serve 的 ctx 取消
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		for _, l := range s.listeners {
			l.Close()
		}
	})
	return nil
}

// Stats 返回计数快照
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Active:   s.active.Load(),
		Stored:   s.stored.Load(),
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln portListener) error {
	log := s.log.With(zap.String("port", ln.port))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn("temporary accept error", zap.Error(err))
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept on port %s: %w", ln.port, err)
		}

		if !s.limiter.Acquire() {
			s.rejected.Inc()
			s.metrics.RecordSMTPRejected()
			log.Warn("connection rejected by limiter", zap.String("remote_addr", conn.RemoteAddr().String()))
			s.reject(conn)
			continue
		}

		s.accepted.Inc()
		s.metrics.RecordSMTPConnection()
		s.wg.Add(1)
		go s.handle(ctx, conn, ln.port, log)
	}
}

func (s *Server) reject(conn net.Conn) {
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	io.WriteString(conn, replyTooManyConns+"\r\n")
	conn.Close()
}

// handle 单个连接的处理边界：错误在此记录，不向外传播
func (s *Server) handle(ctx context.Context, conn net.Conn, port string, log *zap.Logger) {
	defer s.wg.Done()
	defer s.limiter.Release()
	defer conn.Close()

	log = log.With(
		zap.String("session", uuid.NewString()),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	s.active.Inc()
	s.metrics.SMTPSessionStarted()
	start := time.Now()
	defer func() {
		s.active.Dec()
		s.metrics.SMTPSessionFinished(time.Since(start))
	}()

	log.Debug("session started")
	mail, err := NewSession(conn, s.gen, s.cfg.Session, log).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Info("session ended with error", zap.Error(err))
		s.metrics.RecordError("transport", "smtp")
	}

	s.deliver(mail, port, log)
}

func (s *Server) deliver(mail *domain.Mail, port string, log *zap.Logger) {
	if !mail.Persistable() {
		log.Debug("mail not persisted: incomplete session",
			zap.Int("from", mail.From.Cardinality()),
			zap.Int("to", mail.To.Cardinality()),
			zap.Int("data_len", len(mail.Data)),
		)
		s.metrics.RecordMailDropped(monitoring.DropReasonIncomplete)
		return
	}

	if err := s.store.Insert(mail); err != nil {
		log.Error("failed to store mail", zap.Stringer("mail_id", mail.ID), zap.Error(err))
		s.metrics.RecordMailDropped(monitoring.DropReasonStoreError)
		s.metrics.RecordError("storage", "smtp")
		return
	}

	s.stored.Inc()
	s.metrics.RecordMailReceived(port)
	log.Info("mail stored",
		zap.Stringer("mail_id", mail.ID),
		zap.Strings("from", mail.SortedFrom()),
		zap.Strings("to", mail.SortedTo()),
	)

	if s.notifier != nil {
		s.notifier.NotifyNewMail(mail)
	}
}
