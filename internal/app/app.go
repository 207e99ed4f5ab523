// Package app builds a ready-to-run fulfillment pipeline from a loaded settings document.
// The CLI and the Cloud Function share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/gcp"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/Lllllllleong/gisrequestflow/internal/notify"
	"github.com/Lllllllleong/gisrequestflow/internal/services"
	"github.com/Lllllllleong/gisrequestflow/internal/spatial"
)

// Options adjust how the pipeline is built for one invocation.
type Options struct {
	// DryRun logs notifications instead of sending them, regardless of notify.dry_run.
	DryRun bool
}

// App owns every client of a fulfillment pipeline.
type App struct {
	Config       *config.Config
	Orchestrator *services.Orchestrator

	closers []func() error
}

// New validates cfg and opens the record store, the spatial backend and the optional
// sync and hand-off clients. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		slog.Warn("Configuration warning.", "warning", w)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	clientOpts := gcp.ClientOptions(cfg.Store.CredentialsFile)
	fsClient, err := gcp.NewFirestoreClient(ctx, cfg.Store.ProjectID, clientOpts...)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, fsClient.Close)
	store := gcp.NewRequestStore(fsClient, cfg.Store)

	features, err := spatial.Open(ctx, cfg.Spatial)
	if err != nil {
		return fail(fmt.Errorf("open spatial backend: %w", err))
	}
	a.closers = append(a.closers, features.Close)

	mailer := NewMailer(ctx, cfg.Notify, opts.DryRun)
	documents := services.NewDocumentEngine(features, store, mailer, services.DocumentEngineConfig{
		Documents: cfg.Documents,
		Requests:  cfg.Requests,
		Sender:    cfg.Notify.Sender,
	})
	layers := services.NewLayerEngine(features, store, catalog)
	a.Orchestrator = services.NewOrchestrator(store, features, documents, layers, mailer, OrchestratorConfig(cfg))

	if cfg.Output.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return fail(fmt.Errorf("failed to create storage client: %w", err))
		}
		a.closers = append(a.closers, gcsClient.Close)
		a.Orchestrator.WithSync(gcp.NewFolderSync(gcsClient, cfg.Output.Bucket, cfg.Output.Prefix))
	}

	if cfg.Handoff.Enabled() {
		wfClient, err := executions.NewClient(ctx, clientOpts...)
		if err != nil {
			return fail(fmt.Errorf("failed to create workflows client: %w", err))
		}
		a.closers = append(a.closers, wfClient.Close)
		a.Orchestrator.WithHandoff(gcp.NewHandoff(wfClient, cfg.Handoff))
	}

	return a, nil
}

// Run performs one fulfillment pass.
func (a *App) Run(ctx context.Context, opts services.RunOptions) (models.RunReport, error) {
	return a.Orchestrator.Run(ctx, opts)
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewMailer returns the Graph mailer, or a logging stand-in when dry-running.
func NewMailer(ctx context.Context, cfg config.NotifyConfig, dryRun bool) notify.Mailer {
	if dryRun || cfg.DryRun {
		return notify.NewDryRunMailer(nil)
	}
	return notify.NewGraphMailer(ctx, cfg)
}

// OrchestratorConfig maps the settings document onto the run-level settings.
func OrchestratorConfig(cfg *config.Config) services.OrchestratorConfig {
	return services.OrchestratorConfig{
		OutputRoot:     cfg.Output.Root,
		LinkBase:       cfg.Output.LinkBase,
		Sender:         cfg.Notify.Sender,
		AdminEmail:     cfg.Requests.AdminEmail,
		Approved:       cfg.Requests.IsApproved,
		LogDir:         cfg.Logging.Dir,
		Retention:      time.Duration(cfg.Logging.RetentionDays) * 24 * time.Hour,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		MetricsJob:     cfg.Metrics.Job,
	}
}
