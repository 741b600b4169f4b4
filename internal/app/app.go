// Package app wires the store, backups, undo ledger, extraction and sync
// into the operations the CLI exposes. Every mutating operation holds the
// store guard, runs behind a backup and records how to undo it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical/sweetspot/internal/backup"
	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/llm"
	"github.com/spherical/sweetspot/internal/observability"
	"github.com/spherical/sweetspot/internal/pdf"
	"github.com/spherical/sweetspot/internal/remote"
	"github.com/spherical/sweetspot/internal/report"
	"github.com/spherical/sweetspot/internal/secrets"
	"github.com/spherical/sweetspot/internal/store"
	"github.com/spherical/sweetspot/internal/undo"
)

// RemoteSync is the remote file store the app synchronizes with
type RemoteSync interface {
	Authorized() bool
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, dest string) error
	AuthorizeURL() string
	Exchange(ctx context.Context, code string) (string, error)
	Account(ctx context.Context) (string, error)
}

// ReportMailer delivers the expiry report
type ReportMailer interface {
	Send(subject, html string, recipients []string, attachments ...string) (int, error)
}

// App is the application orchestrator
type App struct {
	cfg     *config.Config
	logger  *observability.Logger
	store   *store.Store
	guard   *store.Guard
	backups *backup.Manager
	ledger  *undo.Ledger
	secrets *secrets.Store

	decomposer  domain.Decomposer
	extractor   domain.Extractor
	newRenderer func() domain.PageRenderer
	remote      RemoteSync
	newRemote   func(secrets.Credentials) RemoteSync
	mailer      ReportMailer
	now         func() time.Time

	// customExtractor is set when an Extractor was injected, which skips
	// the API key check.
	customExtractor bool
}

// Option customizes an App, mostly for tests
type Option func(*App)

// WithExtractor replaces the inference client
func WithExtractor(e domain.Extractor) Option {
	return func(a *App) {
		a.extractor = e
		a.customExtractor = true
	}
}

// WithDecomposer replaces the PDF decomposer
func WithDecomposer(d domain.Decomposer) Option {
	return func(a *App) { a.decomposer = d }
}

// WithRemote replaces the remote store client. The factory is called again
// whenever credentials change.
func WithRemote(f func(secrets.Credentials) RemoteSync) Option {
	return func(a *App) { a.newRemote = f }
}

// WithMailer replaces the SMTP mailer
func WithMailer(m ReportMailer) Option {
	return func(a *App) { a.mailer = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New opens (and if needed creates or migrates) the store and loads the
// undo ledger and credentials.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	a := &App{
		cfg:    cfg,
		logger: logger.WithComponent("app"),
		guard:  store.NewGuard(),
		now:    time.Now,
	}

	a.backups = backup.NewManager(cfg.StorePath(), cfg.BackupDir(), logger)
	a.store = store.New(cfg.StorePath(),
		store.WithLogger(logger),
		store.WithBusyTimeout(cfg.Store.BusyTimeout),
		store.WithRebuildHook(func(ctx context.Context) error {
			_, err := a.backups.Create(backup.PrefixDefault)
			return err
		}),
	)

	a.decomposer = pdf.NewDecomposer()
	a.newRenderer = func() domain.PageRenderer { return pdf.NewConverter(cfg.Pipeline.JPEGQuality) }
	a.extractor = newInferenceClient(cfg, logger)
	a.newRemote = func(c secrets.Credentials) RemoteSync { return newDropbox(cfg, c, logger) }
	a.mailer = report.NewMailer(report.MailConfig{
		Host:     cfg.Report.SMTPHost,
		Port:     cfg.Report.SMTPPort,
		Sender:   cfg.Report.Sender,
		Password: cfg.Report.Password,
	}, logger)

	for _, opt := range opts {
		opt(a)
	}

	if err := a.store.Initialize(ctx); err != nil {
		return nil, err
	}

	ledger, err := undo.Open(cfg.UndoPath(), logger)
	if err != nil {
		return nil, err
	}
	a.ledger = ledger

	sec, err := secrets.Open(cfg.KeyPath(), cfg.CredentialsPath())
	if err != nil {
		return nil, err
	}
	a.secrets = sec

	creds, err := a.credentials()
	if err != nil {
		a.logger.Warn().Err(err).Msg("stored remote credentials unreadable, continuing without them")
	}
	a.remote = a.newRemote(creds)

	return a, nil
}

func newInferenceClient(cfg *config.Config, logger *observability.Logger) *llm.Client {
	return llm.NewClient(cfg.Inference.APIKey, llm.Options{
		BaseURL:           cfg.Inference.BaseURL,
		TextModel:         cfg.Inference.TextModel,
		VisionModel:       cfg.Inference.VisionModel,
		TextMaxTokens:     cfg.Inference.TextMaxTokens,
		VisionMaxTokens:   cfg.Inference.VisionMaxTokens,
		TextTemperature:   cfg.Inference.TextTemperature,
		VisionTemperature: cfg.Inference.VisionTemperature,
		Timeout:           cfg.Inference.Timeout,
		MaxImageBytes:     int64(cfg.Inference.MaxImageMB) * 1024 * 1024,
		Retry:             llm.RetryConfigFor(cfg.Inference.MaxRetries),
		Logger:            logger,
	})
}

func newDropbox(cfg *config.Config, c secrets.Credentials, logger *observability.Logger) *remote.Client {
	return remote.NewClient(remote.Options{
		APIURL:       cfg.Remote.APIURL,
		ContentURL:   cfg.Remote.ContentURL,
		AuthURL:      cfg.Remote.AuthURL,
		TokenURL:     cfg.Remote.TokenURL,
		AppKey:       c.AppKey,
		AppSecret:    c.AppSecret,
		RefreshToken: c.RefreshToken,
		Timeout:      cfg.Remote.Timeout,
		Logger:       logger,
	})
}

// credentials merges environment credentials over the encrypted file.
func (a *App) credentials() (secrets.Credentials, error) {
	env := secrets.Credentials{
		AppKey:       a.cfg.Remote.AppKey,
		AppSecret:    a.cfg.Remote.AppSecret,
		RefreshToken: a.cfg.Remote.RefreshToken,
	}
	stored, err := a.secrets.Load()
	if err != nil {
		return env, err
	}
	return env.Merge(stored), nil
}

// Config returns the active configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Store exposes the record store for read-only use
func (a *App) Store() *store.Store {
	return a.store
}

// Backups exposes the backup manager
func (a *App) Backups() *backup.Manager {
	return a.backups
}

// LastAction returns the entry the next Undo would apply
func (a *App) LastAction() (undo.Entry, bool) {
	return a.ledger.Peek()
}

// SetAPIKey saves the inference API key and switches the client to it
func (a *App) SetAPIKey(key string) error {
	if err := a.cfg.SaveAPIKey(key); err != nil {
		return err
	}
	if !a.customExtractor {
		a.extractor = newInferenceClient(a.cfg, a.logger)
	}
	return nil
}

func (a *App) requireInference() error {
	if a.customExtractor || a.cfg.Inference.APIKey != "" {
		return nil
	}
	return domain.ConfigError(fmt.Sprintf("OpenAI API key is not configured (set OPENAI_API_KEY or run 'sweetspot config set-api-key'; settings file: %s)", a.cfg.EnvPath()), nil)
}

// lock acquires the store guard
func (a *App) lock(ctx context.Context) (func(), error) {
	unlock, err := a.guard.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for store lock: %w", err)
	}
	return unlock, nil
}

// remember pushes an undo entry. A failure to persist the ledger is logged
// and does not fail the operation that already succeeded.
func (a *App) remember(e undo.Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now()
	}
	if err := a.ledger.Push(e); err != nil {
		a.logger.Error().Err(err).Str("kind", string(e.Kind)).Msg("failed to record undo entry")
	}
}
