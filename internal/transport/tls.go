package transport

import (
	"crypto/tls"
	"fmt"
)

// TLSOptions mirrors the use_tls/certfile/keyfile configuration keys.
type TLSOptions struct {
	Enabled            bool
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// ServerTLS builds the acceptor-side TLS configuration. A certificate
// and key are required.
func (o TLSOptions) ServerTLS() (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, fmt.Errorf("tls enabled but certfile/keyfile not set")
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLS builds the initiator-side TLS configuration. The
// certificate pair is optional (mutual TLS when present).
func (o TLSOptions) ClientTLS() (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		ServerName:         o.ServerName,
		InsecureSkipVerify: o.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if o.CertFile != "" && o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
