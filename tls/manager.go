package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/nutrify-app/offline-gateway/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	renewalInterval = 12 * time.Hour
	renewalWindow   = 30 * 24 * time.Hour
)

var modernCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager terminates TLS for the gateway listener. With auto_cert it
// provisions certificates through ACME and renews them in the background;
// otherwise it serves a static cert/key pair from disk.
type CertManager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *types.TLSConfig
	autocertMgr  *autocert.Manager
	stopCh       chan struct{}
	mu           sync.RWMutex
	certificates map[string]*tls.Certificate
	state        atomic.Value
}

func NewCertManager(ctx context.Context, logger types.Logger, config types.ConfigManager) (types.TLSManager, error) {
	tlsConfig := config.GetConfig().Server.TLS

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:          managerCtx,
		cancel:       cancel,
		logger:       logger,
		config:       tlsConfig,
		stopCh:       make(chan struct{}),
		certificates: make(map[string]*tls.Certificate),
	}

	cm.state.Store(StateStopped)

	if tlsConfig.AutoCert {
		if err := cm.initAutocert(); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to initialize autocert manager")
		}
	}

	return cm, nil
}

func (cm *CertManager) initAutocert() error {
	if len(cm.config.Domains) == 0 {
		return types.NewErrorf("no domains specified for TLS certificate")
	}

	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.config.Domains...),
		Email:      cm.config.Email,
	}

	if cm.config.ACMEDirectory != "" {
		cm.autocertMgr.Client = &acme.Client{
			DirectoryURL: cm.config.ACMEDirectory,
		}
	}

	return nil
}

func (cm *CertManager) Serve(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	if cm.config.AutoCert {
		tlsConfig := cm.GetTLSConfig()
		if tlsConfig == nil {
			return nil, types.NewErrorf("autocert manager is not initialized")
		}
		return tls.Listen("tcp", addr, tlsConfig)
	}

	if cm.config.CertFile == "" || cm.config.KeyFile == "" {
		return nil, types.NewErrorf("TLS enabled but cert_file or key_file not specified")
	}

	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return nil, types.WrapError(err, "failed to load certificate files")
	}

	if err := validateCertificate(cert); err != nil {
		return nil, types.WrapError(err, "certificate validation failed")
	}

	return tls.Listen("tcp", addr, &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: modernCipherSuites,
		Certificates: []tls.Certificate{cert},
	})
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	if cm.autocertMgr == nil {
		return nil
	}

	return &tls.Config{
		GetCertificate: cm.getCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CipherSuites:   modernCipherSuites,
	}
}

func (cm *CertManager) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := cm.autocertMgr.GetCertificate(hello)
	if err != nil {
		cm.logger.Error("Failed to get certificate",
			zap.String("server_name", hello.ServerName),
			zap.Error(err))
		return nil, err
	}

	cm.mu.Lock()
	cm.certificates[hello.ServerName] = cert
	cm.mu.Unlock()

	return cert, nil
}

func (cm *CertManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if cm.getState() == StateStarting {
			cm.setState(StateRunning)
		}
	}()

	if cm.config.AutoCert {
		go cm.renewalLoop()
	}

	cm.logger.Info("TLS certificate manager started",
		zap.Strings("domains", cm.config.Domains),
		zap.Bool("auto_cert", cm.config.AutoCert))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		cm.setState(StateStopped)
		cm.cancel()
	}()

	close(cm.stopCh)
	cm.logger.Info("TLS certificate manager stopped")

	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *CertManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *CertManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *CertManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

func (cm *CertManager) renewalLoop() {
	ticker := time.NewTicker(renewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.renewExpiring()
		case <-cm.stopCh:
			return
		case <-cm.ctx.Done():
			return
		}
	}
}

// renewExpiring re-requests certificates that enter the renewal window.
// autocert caches aggressively, so asking again is cheap for fresh certs.
func (cm *CertManager) renewExpiring() {
	cm.mu.RLock()
	domains := make([]string, 0, len(cm.certificates))
	for domain := range cm.certificates {
		domains = append(domains, domain)
	}
	cm.mu.RUnlock()

	for _, domain := range domains {
		x509Cert, err := cm.certificateInfo(domain)
		if err != nil {
			cm.logger.Error("Failed to inspect certificate",
				zap.String("domain", domain),
				zap.Error(err))
			continue
		}

		if time.Now().Before(x509Cert.NotAfter.Add(-renewalWindow)) {
			continue
		}

		cm.logger.Info("Certificate renewal required",
			zap.String("domain", domain),
			zap.Time("expires_at", x509Cert.NotAfter))

		if _, err := cm.getCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
			cm.logger.Error("Failed to renew certificate",
				zap.String("domain", domain),
				zap.Error(err))
		}
	}
}

func (cm *CertManager) certificateInfo(domain string) (*x509.Certificate, error) {
	cm.mu.RLock()
	cert, exists := cm.certificates[domain]
	cm.mu.RUnlock()

	if !exists || len(cert.Certificate) == 0 {
		return nil, types.NewErrorf("no certificate data for domain: %s", domain)
	}

	return x509.ParseCertificate(cert.Certificate[0])
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := make(map[string]types.CertificateStatus)

	for domain, cert := range cm.certificates {
		if len(cert.Certificate) == 0 {
			status[domain] = types.CertificateStatus{
				Domain: domain,
				Status: "error",
				Error:  "no certificate data",
			}
			continue
		}

		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			status[domain] = types.CertificateStatus{
				Domain: domain,
				Status: "error",
				Error:  err.Error(),
			}
			continue
		}

		certStatus := "valid"
		daysUntilExpiry := int(time.Until(x509Cert.NotAfter).Hours() / 24)

		if daysUntilExpiry <= 0 {
			certStatus = "expired"
		} else if daysUntilExpiry <= 30 {
			certStatus = "expiring_soon"
		}

		status[domain] = types.CertificateStatus{
			Domain:          domain,
			Status:          certStatus,
			Issuer:          x509Cert.Issuer.String(),
			Subject:         x509Cert.Subject.String(),
			NotBefore:       x509Cert.NotBefore,
			NotAfter:        x509Cert.NotAfter,
			DaysUntilExpiry: daysUntilExpiry,
		}
	}

	return status
}

func validateCertificate(cert tls.Certificate) error {
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.WrapError(err, "failed to parse certificate")
	}

	now := time.Now()
	if now.Before(x509Cert.NotBefore) {
		return types.NewErrorf("certificate not yet valid")
	}
	if now.After(x509Cert.NotAfter) {
		return types.NewErrorf("certificate expired")
	}

	return nil
}
