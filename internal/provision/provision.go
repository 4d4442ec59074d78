// Package provision creates the operator account on first boot and
// loads it on every later boot.
//
// First boot takes a username, password and worker id from a Source,
// hashes the password, settles on a token signing secret and stores
// everything in the settings namespace. Later boots read the stored
// account and never consult the Source again. Either way the ready
// callback runs exactly once with the resulting credentials.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/lanwake/internal/auth"
	"github.com/nerrad567/lanwake/internal/infrastructure/config"
	"github.com/nerrad567/lanwake/internal/kvstore"
)

// Settings keys.
const (
	KeyUsername      = "username"
	KeyPasswordHash  = "password_hash"
	KeyWorkerID      = "worker_id"
	KeyJWTSecret     = "jwt_secret"
	KeyProvisionedAt = "provisioned_at"
)

// ErrIncomplete is returned when the Source lacks a username or password.
var ErrIncomplete = errors.New("provision: username and password are required on first boot")

// Request is what a Source supplies on first boot.
type Request struct {
	Username string
	Password string
	WorkerID string

	// JWTSecret is optional; a random one is generated when empty.
	JWTSecret string
}

// Source supplies first-boot credentials.
type Source interface {
	Request(ctx context.Context) (Request, error)
}

// ConfigSource reads first-boot credentials from the loaded config
// (which already includes LANWAKE_* environment overrides).
type ConfigSource struct {
	Provisioning config.ProvisioningConfig
	JWTSecret    string
}

// Request implements Source. An empty worker id falls back to the hostname.
func (s ConfigSource) Request(context.Context) (Request, error) {
	worker := s.Provisioning.WorkerID
	if worker == "" {
		if h, err := os.Hostname(); err == nil {
			worker = h
		}
	}
	return Request{
		Username:  s.Provisioning.Username,
		Password:  s.Provisioning.Password,
		WorkerID:  worker,
		JWTSecret: s.JWTSecret,
	}, nil
}

// Logger is the logging surface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Provisioner runs the first-boot flow against a kvstore.
type Provisioner struct {
	store  *kvstore.Store
	source Source
	hash   func(string) (string, error)
	now    func() time.Time
	logger Logger

	readyOnce sync.Once
	onReady   func(auth.Credentials)
}

// New returns a Provisioner storing into store and reading from source.
func New(store *kvstore.Store, source Source) *Provisioner {
	return &Provisioner{
		store:   store,
		source:  source,
		hash:    auth.HashPassword,
		now:     time.Now,
		logger:  noopLogger{},
		onReady: func(auth.Credentials) {},
	}
}

// SetLogger sets the logger.
func (p *Provisioner) SetLogger(logger Logger) { p.logger = logger }

// OnReady sets the callback run once credentials are available.
func (p *Provisioner) OnReady(fn func(auth.Credentials)) { p.onReady = fn }

// Ensure loads the stored account or provisions a new one, then fires
// the ready callback (once per Provisioner).
func (p *Provisioner) Ensure(ctx context.Context) (auth.Credentials, error) {
	creds, err := p.load(ctx)
	switch {
	case err == nil:
		p.logger.Info("operator account loaded", "username", creds.Username, "worker_id", creds.WorkerID)
	case errors.Is(err, kvstore.ErrNotFound):
		creds, err = p.provision(ctx)
		if err != nil {
			return auth.Credentials{}, err
		}
		p.logger.Info("operator account provisioned", "username", creds.Username, "worker_id", creds.WorkerID)
	default:
		return auth.Credentials{}, err
	}

	p.readyOnce.Do(func() { p.onReady(creds) })
	return creds, nil
}

// Provisioned reports whether an account is stored.
func (p *Provisioner) Provisioned(ctx context.Context) (bool, error) {
	_, err := p.load(ctx)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *Provisioner) load(ctx context.Context) (auth.Credentials, error) {
	h, err := p.store.Open(ctx, kvstore.NamespaceSettings, kvstore.ReadOnly)
	if err != nil {
		return auth.Credentials{}, err
	}
	defer h.Close() //nolint:errcheck // read-only handle

	var c auth.Credentials
	fields := []struct {
		key string
		dst *string
	}{
		{KeyUsername, &c.Username},
		{KeyPasswordHash, &c.PasswordHash},
		{KeyWorkerID, &c.WorkerID},
		{KeyJWTSecret, &c.JWTSecret},
	}
	for _, f := range fields {
		v, err := h.GetString(f.key)
		if err != nil {
			return auth.Credentials{}, fmt.Errorf("provision: reading %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return c, nil
}

func (p *Provisioner) provision(ctx context.Context) (auth.Credentials, error) {
	req, err := p.source.Request(ctx)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("provision: source: %w", err)
	}
	if req.Username == "" || req.Password == "" {
		return auth.Credentials{}, ErrIncomplete
	}

	hash, err := p.hash(req.Password)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("provision: hashing password: %w", err)
	}

	secret := req.JWTSecret
	if secret == "" {
		if secret, err = auth.GenerateSecret(); err != nil {
			return auth.Credentials{}, fmt.Errorf("provision: %w", err)
		}
		p.logger.Warn("no jwt secret configured, generated one")
	}

	creds := auth.Credentials{
		Username:     req.Username,
		PasswordHash: hash,
		WorkerID:     req.WorkerID,
		JWTSecret:    secret,
	}

	h, err := p.store.Open(ctx, kvstore.NamespaceSettings, kvstore.ReadWrite)
	if err != nil {
		return auth.Credentials{}, err
	}
	defer h.Close() //nolint:errcheck // rollback after a failed write

	for key, value := range map[string]string{
		KeyUsername:     creds.Username,
		KeyPasswordHash: creds.PasswordHash,
		KeyWorkerID:     creds.WorkerID,
		KeyJWTSecret:    creds.JWTSecret,
	} {
		if err := h.SetString(key, value); err != nil {
			return auth.Credentials{}, fmt.Errorf("provision: writing %s: %w", key, err)
		}
	}
	if err := h.SetInt(KeyProvisionedAt, p.now().Unix()); err != nil {
		return auth.Credentials{}, fmt.Errorf("provision: writing %s: %w", KeyProvisionedAt, err)
	}
	if err := h.Commit(); err != nil {
		return auth.Credentials{}, fmt.Errorf("provision: %w", err)
	}
	return creds, nil
}
