// Package server implements the Parley chat server: connection handling,
// the HTTP side channel and the groups file.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/router"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string   // TCP bind address for the frame protocol (e.g. ":46200")
	HTTPAddr       string   // HTTP bind address for /metrics, /stats, /ws and admin (empty = disabled)
	TLS            bool     // serve the frame protocol over TLS 1.3
	CertFile       string   // TLS certificate file path
	KeyFile        string   // TLS private key file path
	DataDir        string   // directory for generated certs and data
	DBPath         string   // SQLite archive path (empty = no archive)
	GroupsFile     string   // YAML file defining groups to create on startup
	WatchGroups    bool     // re-import GroupsFile when it changes
	AdminToken     string   // bearer token for /admin/shutdown (empty = generate one)
	AllowedOrigins []string // browser origins allowed on /ws ("*" = any)

	PollTimeout        time.Duration // how long a poll stays open
	DeliveryInterval   time.Duration // how often sessions drain their mailbox
	ShutdownGrace      time.Duration // wait between the shutdown broadcast and teardown
	MetricsLogInterval time.Duration // periodic metrics log (0 = disabled)

	// CLI-only actions (run and exit)
	ExportUsers  bool // export archived users as YAML and exit
	ExportGroups bool // export archived groups as YAML and exit
	ExportPolls  bool // export archived poll results as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory // optional archive
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":46200",
		HTTPAddr:           ":46201",
		TLS:                true,
		DBPath:             "parley.db",
		DataDir:            ".",
		PollTimeout:        60 * time.Second,
		DeliveryInterval:   250 * time.Millisecond,
		ShutdownGrace:      2 * time.Second,
		MetricsLogInterval: 60 * time.Second,
	}
}

// loadOrGenerateTLS loads TLS cert/key from disk or generates a self-signed pair.
func loadOrGenerateTLS(cfg Config) (tls.Certificate, error) {
	certPath := cfg.CertFile
	keyPath := cfg.KeyFile

	if certPath == "" {
		certPath = filepath.Join(cfg.DataDir, "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "server.key")
	}

	// Try loading existing cert
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	}

	slog.Info("generating self-signed TLS certificate")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"Parley Server"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert: %w", err)
	}

	certOut, err := os.Create(certPath) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write cert: %w", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		_ = certOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode cert: %w", err)
	}
	if err := certOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close cert file: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		_ = keyOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode key: %w", err)
	}
	if err := keyOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close key file: %w", err)
	}

	slog.Info("TLS certificate generated", "cert", certPath, "key", keyPath)

	return tls.LoadX509KeyPair(certPath, keyPath)
}

// Server is the main Parley server.
type Server struct {
	cfg      Config
	router   *router.Router
	sessions *SessionManager
	metrics  *Metrics
	store    datastore.DataProviderFactory

	adminHash string // argon2id hash of the admin token

	listener net.Listener
	httpSrv  *http.Server

	ctx    context.Context // cancelled once shutdown completes
	cancel context.CancelFunc

	stopCtx      context.Context // cancelled when a shutdown is requested
	requestStop  context.CancelFunc
	shutdownOnce sync.Once
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	opts := router.DefaultOptions()
	if cfg.PollTimeout > 0 {
		opts.PollTimeout = cfg.PollTimeout
	}
	if deps.Store != nil {
		opts.Recorder = datastore.NewRecorder(deps.Store)
	}
	if cfg.DeliveryInterval <= 0 {
		cfg.DeliveryInterval = DefaultConfig().DeliveryInterval
	}

	r := router.New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	stopCtx, requestStop := context.WithCancel(ctx)
	return &Server{
		cfg:         cfg,
		router:      r,
		sessions:    NewSessionManager(),
		metrics:     NewMetrics(r),
		store:       deps.Store,
		ctx:         ctx,
		cancel:      cancel,
		stopCtx:     stopCtx,
		requestStop: requestStop,
	}
}

// Compile-time check: the archive recorder satisfies the router hook.
var _ router.Recorder = (*datastore.Recorder)(nil)

// Router returns the chat router.
func (s *Server) Router() *router.Router {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the frame listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
