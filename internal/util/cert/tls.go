package cert

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// Files 参与方证书文件（PEM）：本方证书、私钥与签发全部参与方证书的 CA
type Files struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Enabled 三个文件都已配置
func (f Files) Enabled() bool {
	return f.CertFile != "" && f.KeyFile != "" && f.CAFile != ""
}

// Validate 要么全部配置，要么全部留空
func (f Files) Validate() error {
	if f.CertFile == "" && f.KeyFile == "" && f.CAFile == "" {
		return nil
	}
	if !f.Enabled() {
		return errors.New("TLS needs cert_file, key_file and ca_file together")
	}
	return nil
}

// Verify 检查证书文件存在、与私钥匹配、在有效期内并由 CA 签发
func Verify(f Files) error {
	for _, path := range []string{f.CertFile, f.KeyFile, f.CAFile} {
		if _, err := os.Stat(path); err != nil {
			return errors.Wrapf(err, "certificate file not found: %s", path)
		}
	}

	pair, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return errors.Wrap(err, "failed to load certificate key pair")
	}
	if len(pair.Certificate) == 0 {
		return errors.New("no certificate found in file")
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return errors.Wrap(err, "failed to parse certificate")
	}
	now := time.Now()
	if now.After(leaf.NotAfter) {
		return errors.Errorf("certificate expired at %s", leaf.NotAfter)
	}
	if now.Before(leaf.NotBefore) {
		return errors.Errorf("certificate not valid until %s", leaf.NotBefore)
	}

	pool, err := loadPool(f.CAFile)
	if err != nil {
		return err
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return errors.Wrap(err, "certificate verification against CA failed")
}

func loadPool(caFile string) (*x509.CertPool, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CA certificate")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}

// ServerCredentials 服务端 mTLS：要求并校验客户端证书，TLS 1.3
func ServerCredentials(f Files) (credentials.TransportCredentials, error) {
	pair, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load server certificate")
	}
	pool, err := loadPool(f.CAFile)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{pair},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

// ClientCredentials 客户端 mTLS；serverName 为对端参与方名称，必须出现在对端证书的 SAN 中
func ClientCredentials(f Files, serverName string) (credentials.TransportCredentials, error) {
	pair, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load client certificate")
	}
	pool, err := loadPool(f.CAFile)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
	}), nil
}

// PeerName 从已校验的客户端证书中取出参与方名称（CommonName）
func PeerName(ctx context.Context) (string, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", errors.New("no peer information in context")
	}
	info, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(info.State.PeerCertificates) == 0 {
		return "", errors.New("no client certificate presented")
	}
	return info.State.PeerCertificates[0].Subject.CommonName, nil
}
