package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	caKeyBits    = 3072
	partyKeyBits = 2048
)

// PartyFiles dir 下 name 对应的证书文件
func PartyFiles(dir, name string) Files {
	return Files{
		CertFile: filepath.Join(dir, name+".crt"),
		KeyFile:  filepath.Join(dir, name+".key"),
		CAFile:   filepath.Join(dir, "ca.crt"),
	}
}

// Generate 生成开发用 CA 与每个参与方的证书
// 参与方证书的 CN 与 SAN 都包含参与方名称，hosts 追加到 SAN，同时可用于服务端与客户端认证
func Generate(dir string, parties, hosts []string) error {
	if len(parties) == 0 {
		return errors.New("no parties to issue certificates for")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	log.Info().Str("dir", dir).Msg("Generating CA certificate")
	caKey, caCert, caPEM, err := generateCA()
	if err != nil {
		return err
	}
	if err := writePair(dir, "ca", caPEM, caKey); err != nil {
		return err
	}

	for _, name := range parties {
		log.Info().Str("party", name).Strs("hosts", hosts).Msg("Generating party certificate")
		key, certPEM, err := generatePartyCert(name, hosts, caCert, caKey)
		if err != nil {
			return errors.Wrapf(err, "failed to issue certificate for %s", name)
		}
		if err := writePair(dir, name, certPEM, key); err != nil {
			return err
		}
	}
	return nil
}

func writePair(dir, name string, certPEM []byte, key *rsa.PrivateKey) error {
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(dir, name+".crt"), certPEM, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s certificate", name)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".key"), keyPEM, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s key", name)
	}
	return nil
}

func generateCA() (*rsa.PrivateKey, *x509.Certificate, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to generate CA key")
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"go-secret-learn"},
			CommonName:   "go-secret-learn Root CA",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to self-sign CA")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, err
	}
	return key, cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

func generatePartyCert(name string, hosts []string, caCert *x509.Certificate, caKey *rsa.PrivateKey) (*rsa.PrivateKey, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, partyKeyBits)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"go-secret-learn"},
			CommonName:   name,
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:    []string{name},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != name {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, err
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}
