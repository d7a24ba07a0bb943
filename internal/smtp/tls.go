package smtp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// LoadTLSConfig 读取 STARTTLS 使用的证书
//
// 任一路径为空或文件不存在时返回 (nil, nil)，即不提供 STARTTLS；
// 文件存在但无法解析时返回错误。
func LoadTLSConfig(certFile, keyFile string, log *zap.Logger) (*tls.Config, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if certFile == "" || keyFile == "" {
		log.Info("STARTTLS disabled: no certificate configured")
		return nil, nil
	}

	for _, path := range []string{certFile, keyFile} {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			log.Warn("STARTTLS disabled: certificate file missing", zap.String("path", path))
			return nil, nil
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}

	log.Info("STARTTLS enabled", zap.String("cert", certFile))
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
