package tls

import (
	"crypto/tls"
	"fmt"

	"mercator-hq/relay/pkg/config"
)

// ParseVersion maps "1.2" and "1.3" to TLS version constants. The empty
// string selects TLS 1.2.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q (use 1.2 or 1.3)", v)
	}
}

// ServerConfig returns a server tls.Config presenting the certificate held
// by certs.
func ServerConfig(cfg *config.TLSConfig, certs *CertReloader) (*tls.Config, error) {
	minVersion, err := ParseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: certs.GetCertificate,
	}, nil
}
