package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/gcp"
	"github.com/Lllllllleong/gisrequestflow/internal/ledger"
	"github.com/Lllllllleong/gisrequestflow/internal/metrics"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/Lllllllleong/gisrequestflow/internal/notify"
	"github.com/google/uuid"
)

// Run statuses reported in models.RunReport.
const (
	RunCompleted           = "completed"
	RunCompletedWithErrors = "completed_with_errors"
	RunFailed              = "failed"
)

// OrchestratorConfig holds the run-level settings.
type OrchestratorConfig struct {
	OutputRoot string
	LinkBase   string
	Sender     string
	AdminEmail string
	Approved   func(email string) bool
	LogDir     string
	Retention  time.Duration

	// Metrics are pushed only when PushgatewayURL is set.
	PushgatewayURL string
	MetricsJob     string
}

// Orchestrator runs one fulfillment pass over every pending request.
type Orchestrator struct {
	store     RecordStore
	features  FeatureStore
	documents *DocumentEngine
	layers    *LayerEngine
	mailer    notify.Mailer
	syncer    FolderSyncer
	handoff   Handoffer
	resolver  FolderResolver
	config    OrchestratorConfig
	now       func() time.Time
	newRunID  func() string
}

// RunOptions are per-invocation settings.
type RunOptions struct {
	// LogFile is quoted in the administrator summary.
	LogFile string
}

func NewOrchestrator(store RecordStore, features FeatureStore, documents *DocumentEngine, layers *LayerEngine, mailer notify.Mailer, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Approved == nil {
		cfg.Approved = func(string) bool { return false }
	}
	return &Orchestrator{
		store:     store,
		features:  features,
		documents: documents,
		layers:    layers,
		mailer:    mailer,
		config:    cfg,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
}

// WithSync mirrors every request folder that received output to synced storage.
func (o *Orchestrator) WithSync(s FolderSyncer) *Orchestrator {
	o.syncer = s
	return o
}

// WithHandoff starts a workflow for every fully fulfilled request.
func (o *Orchestrator) WithHandoff(h Handoffer) *Orchestrator {
	o.handoff = h
	return o
}

// runState is what the run knows about the record in progress, for the failure summary.
type runState struct {
	id        string
	ledger    *ledger.Ledger
	metrics   *metrics.Recorder
	logFile   string
	requestID string
	folder    string
	email     string
	utilities string
}

func (s *runState) context() notify.RunContext {
	return notify.RunContext{
		RunID:     s.id,
		LogFile:   s.logFile,
		RequestID: s.requestID,
		Folder:    s.folder,
		Email:     s.email,
		Utilities: s.utilities,
	}
}

// Run fetches the pending requests and fulfills them oldest first. Per-request problems
// are collected in the run ledger; a returned error means the run stopped early.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (report models.RunReport, err error) {
	st := &runState{id: o.newRunID(), ledger: ledger.New(), metrics: metrics.NewRecorder(), logFile: opts.LogFile}
	logCtx := slog.With("runId", st.id)
	report = models.RunReport{RunID: st.id, Status: RunCompleted}
	logCtx.Info("Fulfillment run started.")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during run: %v", p)
		}
		o.finish(ctx, logCtx, st, &report, err)
	}()

	raws, err := o.store.FetchPending(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch pending requests: %w", err)
	}
	sort.SliceStable(raws, func(i, j int) bool { return raws[i].CreatedAt.Before(raws[j].CreatedAt) })
	report.Pending = len(raws)
	if len(raws) == 0 {
		report.NothingPending = true
		logCtx.Info("No pending requests.")
		return report, nil
	}
	logCtx.Info("Pending requests fetched.", "count", len(raws))

	seen := make(map[string]bool, len(raws))
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key := strings.ToLower(strings.TrimSpace(raw.ID))
		if seen[key] {
			logCtx.Warn("Duplicate request id in pending set; skipping.", "requestId", raw.ID)
			continue
		}
		seen[key] = true

		rec, perr := models.ParseRequest(raw)
		if perr != nil {
			logCtx.Error("Malformed request record.", "requestId", raw.ID, "error", perr)
			st.ledger.Record(raw.ID, "parse", perr)
			st.metrics.Request(metrics.OutcomeInvalid)
			report.Skipped = append(report.Skipped, raw.ID)
			continue
		}
		st.requestID, st.folder, st.email, st.utilities = rec.ID, rec.FolderName, rec.Email, rec.UtilityList()

		outcome, err := o.process(ctx, st, rec)
		if err != nil {
			return report, err
		}
		st.metrics.Request(outcome)
		switch outcome {
		case metrics.OutcomeFulfilled:
			report.Fulfilled = append(report.Fulfilled, rec.ID)
		case metrics.OutcomePartial:
			report.Partial = append(report.Partial, rec.ID)
		default:
			report.Skipped = append(report.Skipped, rec.ID)
		}
	}
	return report, nil
}

// process fulfills one record and returns its outcome. Only fatal errors are returned.
func (o *Orchestrator) process(ctx context.Context, st *runState, rec models.RequestRecord) (string, error) {
	logCtx := slog.With("runId", st.id, "requestId", rec.ID)
	for _, w := range rec.Warnings {
		logCtx.Warn("Request field ignored.", "warning", w)
	}

	if len(rec.Pending) == 0 {
		if len(rec.Requested) == 0 {
			logCtx.Info("No valid output options selected.")
			return metrics.OutcomeSkipped, nil
		}
		// Every sub-output finished in an earlier run that stopped before the overall mark.
		if err := markFulfilled(ctx, o.store, rec.ID, models.StatusOverall, o.now()); err != nil {
			return "", err
		}
		logCtx.Info("All sub-outputs were already fulfilled; request closed.")
		return metrics.OutcomeFulfilled, nil
	}

	aoi, err := o.store.SelectByID(ctx, rec.ID)
	if errors.Is(err, gcp.ErrNotFound) || errors.Is(err, gcp.ErrNoArea) {
		logCtx.Error("Request has no usable area of interest.", "error", err)
		st.ledger.Record(rec.ID, "select", err)
		return metrics.OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("select request %s: %w", rec.ID, err)
	}

	sel, err := o.features.Stage(ctx, aoi)
	if err != nil {
		logCtx.Error("Failed to stage area of interest.", "error", err)
		st.ledger.Record(rec.ID, "select", err)
		return metrics.OutcomeSkipped, nil
	}
	defer func() {
		if err := sel.Release(context.WithoutCancel(ctx)); err != nil {
			logCtx.Warn("Failed to release staged area.", "error", err)
		}
	}()

	folder, err := o.resolver.Resolve(o.config.OutputRoot, rec.FolderName, rec.ID)
	if err != nil {
		logCtx.Error("Failed to create output folder.", "error", err)
		st.ledger.Record(rec.ID, "folder", err)
		return metrics.OutcomeSkipped, nil
	}
	st.folder = folder.Name
	link := o.link(folder)
	logCtx = logCtx.With("folder", folder.Name)
	logCtx.Info("Output folder resolved.", "path", folder.Path, "pending", rec.Pending)

	wantLayers, wantDocs := rec.Wants(models.OutputLayers), rec.Wants(models.OutputDocuments)
	var layersDone, docsDone bool

	// Layers first, so the document email can say whether GIS files are included.
	if wantLayers {
		lo, err := o.layers.Fulfill(ctx, LayerJob{Record: rec, Selection: sel, Folder: folder, Ledger: st.ledger})
		if err != nil {
			return "", err
		}
		layersDone = lo.Completed
		st.metrics.LayersExported(len(lo.Exported))
		st.metrics.LayersSkipped(len(lo.Skipped))
	}
	if wantDocs {
		do, err := o.documents.Fulfill(ctx, DocumentJob{
			Record:          rec,
			Selection:       sel,
			Folder:          folder,
			Link:            link,
			LayersRequested: wantLayers,
			LayersDelivered: layersDone,
			Ledger:          st.ledger,
		})
		if err != nil {
			return "", err
		}
		docsDone = do.Completed
		st.metrics.DocumentsCopied(do.Found)
		st.metrics.DocumentsMissing(do.Missing)
	}
	if (layersDone || docsDone) && o.syncer != nil {
		if n, err := o.syncer.Sync(ctx, folder.Path, folder.Name); err != nil {
			logCtx.Error("Failed to sync output folder.", "error", err)
			st.ledger.Record(rec.ID, "sync", err)
		} else {
			logCtx.Info("Output folder synced.", "files", n)
		}
	}

	if (wantLayers && !layersDone) || (wantDocs && !docsDone) {
		logCtx.Warn("Request partially fulfilled; failed outputs stay pending.", "layersDone", layersDone, "documentsDone", docsDone)
		if layersDone || docsDone {
			return metrics.OutcomePartial, nil
		}
		return metrics.OutcomeSkipped, nil
	}

	if err := markFulfilled(ctx, o.store, rec.ID, models.StatusOverall, o.now()); err != nil {
		return "", err
	}
	logCtx.Info("FulfilledDate updated.")

	// The document email went out with its output; a GIS-only request is announced once
	// the record is closed.
	if wantLayers && !wantDocs {
		o.notifyLayersOnly(ctx, logCtx, st, rec, link)
	}

	if o.handoff != nil {
		payload := models.HandoffPayload{RequestID: rec.ID, Folder: folder.Name, Link: link, Outputs: rec.Pending}
		if name, err := o.handoff.Trigger(ctx, payload); err != nil {
			logCtx.Error("Failed to hand off request.", "error", err)
			st.ledger.Record(rec.ID, "handoff", err)
		} else {
			logCtx.Info("Hand-off to workflow complete.", "execution", name)
		}
	}
	return metrics.OutcomeFulfilled, nil
}

func (o *Orchestrator) notifyLayersOnly(ctx context.Context, logCtx *slog.Logger, st *runState, rec models.RequestRecord, link string) {
	var msg notify.Message
	if o.config.Approved(rec.Email) {
		msg = notify.LayersProcessedMessage(o.config.Sender, rec.Email, link, rec.UtilityList())
	} else {
		logCtx.Warn("Requester is not approved; routing notification to administrator.", "email", rec.Email)
		msg = notify.UnknownLayersRequesterMessage(o.config.Sender, o.config.AdminEmail, rec.Email, link, recordTable(rec))
	}
	if err := o.mailer.Send(ctx, msg); err != nil {
		logCtx.Error("Error sending email to requester.", "error", err)
		st.ledger.Record(rec.ID, "notify", err)
	}
}

// link is what the requester is sent: the synced-storage URL when configured, the local
// folder otherwise.
func (o *Orchestrator) link(f Folder) string {
	if o.config.LinkBase == "" {
		return f.Path
	}
	return strings.TrimRight(o.config.LinkBase, "/") + "/" + url.PathEscape(f.Name)
}

// finish flushes the ledger to the administrator, sweeps old logs and pushes metrics.
// None of these can fail the run.
func (o *Orchestrator) finish(ctx context.Context, logCtx *slog.Logger, st *runState, report *models.RunReport, runErr error) {
	ctx = context.WithoutCancel(ctx)
	if runErr != nil {
		logCtx.Error("Fulfillment run failed.", "error", runErr, "requestId", st.requestID)
		st.ledger.Record(st.requestID, "run", runErr)
		report.Status = RunFailed
	} else if st.ledger.Len() > 0 {
		report.Status = RunCompletedWithErrors
	}
	report.Errors = st.ledger.Len()

	if st.ledger.Len() > 0 {
		header, rows := st.ledger.Table()
		table := notify.Table{Header: header, Rows: rows}
		msg := notify.RunWithErrorsMessage(o.config.Sender, o.config.AdminEmail, st.context(), table)
		if runErr != nil {
			msg = notify.RunFailedMessage(o.config.Sender, o.config.AdminEmail, st.context(), table)
		}
		if err := o.mailer.Send(ctx, msg); err != nil {
			logCtx.Error("Failed to send administrator summary.", "error", err)
		}
	}

	if o.config.LogDir != "" && o.config.Retention > 0 {
		if n, err := SweepOldFiles(o.config.LogDir, o.config.Retention, o.now(), st.logFile); err != nil {
			logCtx.Error("Error deleting old log files.", "error", err)
		} else if n > 0 {
			logCtx.Info("Old log files deleted.", "count", n)
		}
	}

	st.metrics.LedgerEntries(st.ledger.Len())
	if err := st.metrics.Push(ctx, o.config.PushgatewayURL, o.config.MetricsJob, st.id); err != nil {
		logCtx.Warn("Failed to push metrics.", "error", err)
	}
	logCtx.Info("Fulfillment run finished.", "status", report.Status, "fulfilled", len(report.Fulfilled), "partial", len(report.Partial), "errors", report.Errors)
}
