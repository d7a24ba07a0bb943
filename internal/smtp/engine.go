// Package smtp 实现只接收邮件的 SMTP 服务端：命令状态机、监听器与连接限流。
package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"mailsink/backend/internal/domain"
	"mailsink/backend/internal/snowflake"
)

// 协议应答
const (
	replyGreeting     = "220 mail-sink"
	replyOK           = "250 OK"
	replyHelloHost    = "250-localhost"
	replyHelloTLS     = "250-STARTTLS"
	replyStartData    = "354 End data with <CR><LF>.<CR><LF>"
	replyReadyTLS     = "220 Ready to start TLS"
	replyBye          = "221 Bye"
	replyNotImpl      = "502 Command not implemented"
	replyTooLarge     = "552 Message too large"
	replyTooManyConns = "421 Too many connections"
	replyLineTooLong  = "500 Line too long"
)

// 单行长度上限，超出后应答 500 并结束会话
const (
	maxCommandLine = 4 << 10
	maxDataLine    = 1 << 20
)

var errLineTooLong = errors.New("smtp: line too long")

// SessionConfig 会话参数
type SessionConfig struct {
	TLSConfig       *tls.Config   // 为 nil 时不提供 STARTTLS
	ReadTimeout     time.Duration // 单次读取的空闲超时，0 表示不限
	WriteTimeout    time.Duration // 单次写入超时，0 表示不限
	MaxMessageBytes int           // DATA 上限，0 表示不限
}

// Session 一条 SMTP 连接上的命令状态机
//
// 明文与 TLS 通道共用同一个循环，区别只在于是否提供 STARTTLS。
type Session struct {
	conn    net.Conn
	limited *io.LimitedReader // 每读一行前重置 N
	reader  *bufio.Reader
	gen     *snowflake.Generator
	cfg     SessionConfig
	log     *zap.Logger

	from mapset.Set[string]
	to   mapset.Set[string]
	data string
}

// NewSession 创建会话
func NewSession(conn net.Conn, gen *snowflake.Generator, cfg SessionConfig, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		conn: conn,
		gen:  gen,
		cfg:  cfg,
		log:  log,
		from: mapset.NewSet[string](),
		to:   mapset.NewSet[string](),
	}
	s.setConn(conn)
	return s
}

func (s *Session) setConn(conn net.Conn) {
	s.conn = conn
	s.limited = &io.LimitedReader{R: conn}
	s.reader = bufio.NewReader(s.limited)
}

// Run 驱动会话直到 QUIT、对端断开、传输错误或 ctx 取消
//
// 无论以何种方式结束都会返回累积的邮件，是否持久化由调用方决定。
// 对端正常 QUIT 或断开时 error 为 nil。
func (s *Session) Run(ctx context.Context) (*domain.Mail, error) {
	// tls.Conn 的超时设置会落到底层连接上，取消时只需操作原始连接
	raw := s.conn
	stop := context.AfterFunc(ctx, func() {
		raw.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	err := s.writeLine(replyGreeting)
	if err == nil {
		err = s.loop(ctx, false)
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return domain.NewMail(s.gen, s.from, s.to, s.data), err
}

func (s *Session) loop(ctx context.Context, secure bool) error {
	for {
		line, err := s.readLine(ctx, maxCommandLine)
		if err != nil {
			return err
		}
		cmd := strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.TrimSpace(cmd))

		switch {
		case strings.HasPrefix(verb, "EHLO"), strings.HasPrefix(verb, "HELO"):
			lines := []string{replyHelloHost}
			if s.canStartTLS(secure) {
				lines = append(lines, replyHelloTLS)
			}
			lines = append(lines, replyOK)
			err = s.writeLine(lines...)

		case strings.HasPrefix(verb, "MAIL FROM:"):
			if addr := parsePath(cmd); addr != "" {
				s.from.Add(addr)
			}
			err = s.writeLine(replyOK)

		case strings.HasPrefix(verb, "RCPT TO:"):
			if addr := parsePath(cmd); addr != "" {
				s.to.Add(addr)
			}
			err = s.writeLine(replyOK)

		case verb == "DATA":
			err = s.readData(ctx)

		case verb == "STARTTLS" && s.canStartTLS(secure):
			if err := s.writeLine(replyReadyTLS); err != nil {
				return err
			}
			if err := s.upgrade(ctx); err != nil {
				return err
			}
			return s.loop(ctx, true)

		case verb == "QUIT":
			return s.writeLine(replyBye)

		default:
			err = s.writeLine(replyNotImpl)
		}

		if err != nil {
			return err
		}
	}
}

func (s *Session) canStartTLS(secure bool) bool {
	return !secure && s.cfg.TLSConfig != nil
}

// readData 读取原始行直到单独的 "."，行尾原样保留
func (s *Session) readData(ctx context.Context) error {
	if err := s.writeLine(replyStartData); err != nil {
		return err
	}

	var buf strings.Builder
	tooLarge := false
	for {
		line, err := s.readLine(ctx, maxDataLine)
		if err != nil {
			return err
		}
		if strings.TrimRight(line, " \t\r\n") == "." {
			break
		}
		if tooLarge {
			continue
		}
		buf.WriteString(line)
		if s.cfg.MaxMessageBytes > 0 && buf.Len() > s.cfg.MaxMessageBytes {
			tooLarge = true
			buf.Reset()
		}
	}

	if tooLarge {
		s.log.Warn("message discarded: too large", zap.Int("limit", s.cfg.MaxMessageBytes))
		return s.writeLine(replyTooLarge)
	}

	s.data = buf.String()
	from, to := domain.ExtractAddresses(s.data)
	s.from.Append(from.ToSlice()...)
	s.to.Append(to.ToSlice()...)
	return s.writeLine(replyOK)
}

func (s *Session) upgrade(ctx context.Context) error {
	tlsConn := tls.Server(s.conn, s.cfg.TLSConfig)

	hsCtx := ctx
	if s.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}

	s.setConn(tlsConn)

	// 升级前收集的信封与数据一律作废
	s.from.Clear()
	s.to.Clear()
	s.data = ""
	s.log.Debug("connection upgraded to TLS")
	return nil
}

func (s *Session) readLine(ctx context.Context, limit int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.cfg.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	// 取消可能发生在设置超时之前
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.limited.N = limit
	line, err := s.reader.ReadString('\n')
	if errors.Is(err, io.EOF) && s.limited.N <= 0 {
		s.log.Warn("line too long", zap.Int64("limit", limit))
		if werr := s.writeLine(replyLineTooLong); werr != nil {
			return "", werr
		}
		return "", errLineTooLong
	}
	if err != nil {
		return "", err
	}
	return line, nil
}

func (s *Session) writeLine(lines ...string) error {
	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	_, err := io.WriteString(s.conn, b.String())
	return err
}

// parsePath 取命令中冒号之后的地址，优先使用尖括号内的内容
func parsePath(cmd string) string {
	idx := strings.Index(cmd, ":")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(cmd[idx+1:])

	if open := strings.Index(rest, "<"); open >= 0 {
		if end := strings.Index(rest[open:], ">"); end >= 0 {
			return strings.TrimSpace(rest[open+1 : open+end])
		}
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "<>")
}
