package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CertReloader holds the current serving certificate.
type CertReloader struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher   *fsnotify.Watcher
	reloaded  chan struct{}
	closeOnce sync.Once
}

// NewCertReloader loads the key pair. It fails if the pair cannot be
// loaded.
func NewCertReloader(certFile, keyFile string) (*CertReloader, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("tls: cert and key files are required")
	}
	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
		reloaded: make(chan struct{}, 1),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the key pair from disk and swaps it in. On error the
// previous certificate stays in use.
func (r *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tls: load key pair: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return fmt.Errorf("tls: parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	days, warning := CheckExpiration(cert.Leaf, time.Now())
	attrs := []any{
		"cert_file", r.certFile,
		"subject", cert.Leaf.Subject.CommonName,
		"not_after", cert.Leaf.NotAfter,
		"days_until_expiry", days,
	}
	if warning != "" {
		slog.Warn(warning, attrs...)
	} else {
		slog.Info("certificate loaded", attrs...)
	}

	select {
	case r.reloaded <- struct{}{}:
	default:
	}
	return nil
}

// Certificate returns the current certificate.
func (r *CertReloader) Certificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.Certificate(), nil
}

// Watch reloads the pair whenever the directories holding the files
// change. It returns once the watch is registered.
func (r *CertReloader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tls: create watcher: %w", err)
	}
	dirs := map[string]struct{}{
		filepath.Dir(r.certFile): {},
		filepath.Dir(r.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("tls: watch %s: %w", dir, err)
		}
	}
	r.watcher = watcher
	go r.watchLoop()
	return nil
}

func (r *CertReloader) watchLoop() {
	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&ops == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				// Files are often written in two steps; the next event retries.
				slog.Debug("certificate reload failed", "file", event.Name, "error", err)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("certificate watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (r *CertReloader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.watcher != nil {
			err = r.watcher.Close()
		}
	})
	return err
}
