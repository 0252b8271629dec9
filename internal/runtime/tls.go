package runtime

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"shopentry/pkg/logger"
)

const tlsDir = "etc/ssl/shopentry"

type siteData struct {
	Host      string
	DocRoot   string
	CertFile  string
	KeyFile   string
	FPMListen string
}

// configureTLS provisions a self-signed certificate (generated once, reused
// on later starts) and rewrites the site configuration to add a TLS listener
// plus an HTTP to HTTPS redirect.
func (c *Configurator) configureTLS(ctx context.Context) error {
	certFile := c.path(tlsDir, "cert.pem")
	keyFile := c.path(tlsDir, "key.pem")
	host := hostFromURL(c.cfg.App.URL)

	if fileExists(certFile) && fileExists(keyFile) {
		logger.Debug("reusing existing TLS certificate", "cert", certFile)
	} else {
		if err := generateSelfSigned(certFile, keyFile, host); err != nil {
			return fmt.Errorf("unable to generate TLS certificate: %w", err)
		}
		logger.Info("generated self-signed TLS certificate", "host", host, "cert", certFile)
	}

	data := siteData{
		Host:      host,
		DocRoot:   filepath.Join(c.cfg.App.ShopRoot, "public"),
		CertFile:  certFile,
		KeyFile:   keyFile,
		FPMListen: FPMListenAddr,
	}

	if c.cfg.Runtime.WebServer == "nginx" {
		dest := c.path("etc/nginx/conf.d/shopentry-ssl.conf")
		return c.renderTemplate("ssl-nginx.conf.tmpl", data, dest, 0644)
	}

	dest := c.path("etc/apache2/sites-available/shopentry-ssl.conf")
	if err := c.renderTemplate("ssl-apache.conf.tmpl", data, dest, 0644); err != nil {
		return err
	}
	if err := c.exec.Run(ctx, "a2enmod", "ssl", "rewrite"); err != nil {
		return fmt.Errorf("unable to enable apache TLS modules: %w", err)
	}
	if err := c.exec.Run(ctx, "a2ensite", "shopentry-ssl"); err != nil {
		return fmt.Errorf("unable to enable TLS site: %w", err)
	}
	return nil
}

func generateSelfSigned(certFile, keyFile, host string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(certFile), 0755); err != nil {
		return err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return os.WriteFile(keyFile, keyPEM, 0600)
}

func hostFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
