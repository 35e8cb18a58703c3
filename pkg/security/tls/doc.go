// Package tls serves the relay over TLS with certificates that can be
// rotated without a restart.
//
// A CertReloader loads a certificate and key pair and, once Watch is
// called, reloads it whenever either file's directory changes. Mounted
// secrets that are swapped through symlinks (as Kubernetes does) are picked
// up the same way as in-place writes. A failed reload keeps serving the
// previous certificate.
//
//	certs, err := tls.NewCertReloader(cfg.CertFile, cfg.KeyFile)
//	if err != nil {
//		return err
//	}
//	defer certs.Close()
//	if err := certs.Watch(); err != nil {
//		return err
//	}
//	tlsConfig, err := tls.ServerConfig(cfg, certs)
package tls
