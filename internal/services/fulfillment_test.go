package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/gcp"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/Lllllllleong/gisrequestflow/internal/notify"
	"github.com/Lllllllleong/gisrequestflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	root     string
	source   string
	store    *testutil.MockRecordStore
	features *testutil.MockFeatureStore
	mailer   *testutil.MockMailer
	syncer   *testutil.MockFolderSyncer
	handoff  *testutil.MockHandoff
	orch     *Orchestrator
}

func newHarness(t *testing.T, raws ...models.RawRequest) *harness {
	t.Helper()
	h := &harness{
		root:     t.TempDir(),
		source:   t.TempDir(),
		store:    &testutil.MockRecordStore{},
		features: &testutil.MockFeatureStore{},
		mailer:   &testutil.MockMailer{},
		syncer:   &testutil.MockFolderSyncer{},
		handoff:  &testutil.MockHandoff{},
	}
	h.store.FetchPendingFn = func(ctx context.Context) ([]models.RawRequest, error) {
		return raws, nil
	}
	h.build(t)
	return h
}

// build wires the orchestrator; call it again after swapping a mock.
func (h *harness) build(t *testing.T) {
	t.Helper()
	docs := newTestDocumentEngine(h.features, h.store, h.mailer, h.source)
	layers := newTestLayerEngine(t, h.features, h.store)
	h.orch = NewOrchestrator(h.store, h.features, docs, layers, h.mailer, OrchestratorConfig{
		OutputRoot: h.root,
		LinkBase:   "https://files.example/requests/",
		Sender:     testSender,
		AdminEmail: testAdmin,
		Approved:   func(email string) bool { return email == "smith@city.example" },
	}).WithSync(h.syncer).WithHandoff(h.handoff)
	h.orch.now = func() time.Time { return fixedNow }
	h.orch.newRunID = func() string { return "run-1" }
}

func smithRequest() models.RawRequest {
	return models.RawRequest{
		ID:         "req-smith",
		Email:      "smith@city.example",
		FolderName: "Smith Project",
		Utilities:  "Water",
		Outputs:    "as_builts, gis_files",
		CreatedAt:  fixedNow.Add(-2 * time.Hour),
	}
}

func TestOrchestrator_NothingPending(t *testing.T) {
	h := newHarness(t)

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, report.NothingPending)
	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, "run-1", report.RunID)
	assert.Empty(t, h.mailer.Sent)
	assert.Empty(t, h.store.Marks)
}

func TestOrchestrator_FulfillsBothOutputs(t *testing.T) {
	h := newHarness(t, smithRequest())
	require.NoError(t, os.Mkdir(filepath.Join(h.root, "Smith Project"), 0o755))
	writeDocuments(t, h.source, "PA-7")
	h.features.PlanAreasIntersectingFn = func(ctx context.Context, sel models.Selection) ([]models.PlanArea, error) {
		return []models.PlanArea{{ID: "PA-7", Attributes: map[string]string{"Water": "Yes"}}}, nil
	}

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, []string{"req-smith"}, report.Fulfilled)
	assert.Zero(t, report.Errors)

	folder := filepath.Join(h.root, "Smith Project_1")
	assert.FileExists(t, filepath.Join(folder, DocumentsDir, "PA-7.pdf"))
	assert.FileExists(t, filepath.Join(folder, DocumentsDir, ManifestName))
	assert.DirExists(t, filepath.Join(folder, LayersDir, "Utilities_Smith Project_1.gdb"))
	assert.DirExists(t, filepath.Join(folder, LayersDir, ShapefileDir))

	assert.Equal(t, []models.StatusField{models.StatusLayers, models.StatusDocuments, models.StatusOverall}, h.store.Fields("req-smith"))

	require.Len(t, h.mailer.Sent, 1)
	msg := h.mailer.Sent[0]
	assert.Equal(t, notify.SubjectFulfilled, msg.Subject)
	assert.Equal(t, "https://files.example/requests/Smith%20Project_1", msg.Link)

	assert.Equal(t, []string{"Smith Project_1"}, h.syncer.Folders)
	require.Len(t, h.handoff.Payloads, 1)
	assert.Equal(t, models.HandoffPayload{
		RequestID: "req-smith",
		Folder:    "Smith Project_1",
		Link:      "https://files.example/requests/Smith%20Project_1",
		Outputs:   []models.OutputKind{models.OutputDocuments, models.OutputLayers},
	}, h.handoff.Payloads[0])

	require.Len(t, h.features.Selections, 1)
	assert.True(t, h.features.Selections[0].Released)
}

func TestOrchestrator_DocumentsOnlyIntoSuffixedFolder(t *testing.T) {
	h := newHarness(t, models.RawRequest{
		ID:         "abc-1",
		Email:      "smith@city.example",
		FolderName: "Smith Project",
		Utilities:  "All",
		Outputs:    "documents",
		CreatedAt:  fixedNow,
	})
	require.NoError(t, os.Mkdir(filepath.Join(h.root, "Smith Project"), 0o755))

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-1"}, report.Fulfilled)
	assert.FileExists(t, filepath.Join(h.root, "Smith Project_1", DocumentsDir, ManifestName))
	assert.NoDirExists(t, filepath.Join(h.root, "Smith Project_1", LayersDir))
	assert.Equal(t, []models.StatusField{models.StatusDocuments, models.StatusOverall}, h.store.Fields("abc-1"))
	assert.Equal(t, []string{notify.SubjectFulfilled}, h.mailer.Subjects())
}

func TestOrchestrator_NoOutputsSelected(t *testing.T) {
	raw := smithRequest()
	raw.Outputs = ""
	h := newHarness(t, raw)

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"req-smith"}, report.Skipped)
	assert.Empty(t, h.store.Marks)
	assert.Empty(t, h.mailer.Sent)
	assert.Empty(t, h.features.Selections)

	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no folder is created")
}

func TestOrchestrator_PartialThenResume(t *testing.T) {
	h := newHarness(t, smithRequest())
	h.features.AuthenticateFn = func(ctx context.Context) error { return errors.New("token expired") }

	report, err := h.orch.Run(context.Background(), RunOptions{LogFile: "logs/2025-03-04_09.30.log"})
	require.NoError(t, err)
	assert.Equal(t, RunCompletedWithErrors, report.Status)
	assert.Equal(t, []string{"req-smith"}, report.Partial)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, []models.StatusField{models.StatusDocuments}, h.store.Fields("req-smith"), "fulfilledAt stays unset")
	assert.Empty(t, h.handoff.Payloads)

	requester := h.mailer.SentTo("smith@city.example")
	require.Len(t, requester, 1)
	assert.Equal(t, notify.SubjectPartial, requester[0].Subject)
	admin := h.mailer.SentTo(testAdmin)
	require.Len(t, admin, 1)
	assert.Equal(t, notify.SubjectRunWithErrors, admin[0].Subject)
	require.NotNil(t, admin[0].Table)
	assert.Len(t, admin[0].Table.Rows, 1)

	// The next run sees the document timestamp and only retries the layers.
	raw := smithRequest()
	done := fixedNow
	raw.DocumentsFulfilledAt = &done
	h2 := newHarness(t, raw)
	h2.root = h.root
	h2.build(t)

	report, err = h2.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, []string{"req-smith"}, report.Fulfilled)
	assert.Equal(t, []models.StatusField{models.StatusLayers, models.StatusOverall}, h2.store.Fields("req-smith"))
	assert.Equal(t, []string{notify.SubjectLayersProcessed}, h2.mailer.Subjects())
	assert.Equal(t, []string{"Smith Project_1"}, h2.syncer.Folders)
}

func TestOrchestrator_AllSubOutputsAlreadyDone(t *testing.T) {
	raw := smithRequest()
	done := fixedNow.Add(-time.Hour)
	raw.DocumentsFulfilledAt = &done
	raw.LayersFulfilledAt = &done
	h := newHarness(t, raw)

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"req-smith"}, report.Fulfilled)
	assert.Equal(t, []models.StatusField{models.StatusOverall}, h.store.Fields("req-smith"))
	assert.Empty(t, h.features.Selections)
	assert.Empty(t, h.mailer.Sent)
}

func TestOrchestrator_OldestFirstAndDuplicates(t *testing.T) {
	newer := smithRequest()
	newer.ID = "req-new"
	newer.FolderName = "Newer"
	newer.Outputs = "gis_files"
	newer.CreatedAt = fixedNow.Add(-time.Minute)
	older := smithRequest()
	older.ID = "req-old"
	older.FolderName = "Older"
	older.Outputs = "gis_files"
	dup := older
	dup.ID = "REQ-OLD"

	h := newHarness(t, newer, older, dup)
	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pending)
	assert.Equal(t, []string{"req-old", "req-new"}, report.Fulfilled)
	assert.Equal(t, []string{"Older", "Newer"}, h.syncer.Folders)
	assert.NoDirExists(t, filepath.Join(h.root, "Older_1"))
}

func TestOrchestrator_LayersOnlyUnknownRequester(t *testing.T) {
	raw := smithRequest()
	raw.ID = "req-stranger"
	raw.Email = "stranger@elsewhere.example"
	raw.Outputs = "gis_files"

	h := newHarness(t, raw)
	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, report.Status)
	assert.Equal(t, []string{"req-stranger"}, report.Fulfilled)
	assert.Equal(t, []models.StatusField{models.StatusLayers, models.StatusOverall}, h.store.Fields("req-stranger"))
	assert.Empty(t, h.mailer.SentTo("stranger@elsewhere.example"))

	admin := h.mailer.SentTo(testAdmin)
	require.Len(t, admin, 1)
	assert.Equal(t, notify.SubjectUnknownRequester+"stranger@elsewhere.example", admin[0].Subject)
	assert.Equal(t, "https://files.example/requests/Smith%20Project", admin[0].Link)
	assert.Contains(t, admin[0].Paragraphs, "The unknown user's email address is: stranger@elsewhere.example")
	require.NotNil(t, admin[0].Table)
}

func TestOrchestrator_MalformedAndMissingArea(t *testing.T) {
	bad := models.RawRequest{ID: "req-bad", Outputs: "gis_files", CreatedAt: fixedNow.Add(-3 * time.Hour)}
	noArea := smithRequest()
	noArea.ID = "req-noarea"
	good := smithRequest()
	good.Outputs = "gis_files"
	good.CreatedAt = fixedNow

	h := newHarness(t, bad, noArea, good)
	h.store.SelectByIDFn = func(ctx context.Context, id string) (models.AreaOfInterest, error) {
		if id == "req-noarea" {
			return models.AreaOfInterest{}, gcp.ErrNoArea
		}
		return models.AreaOfInterest{RequestID: id, WKT: "POINT(0 0)"}, nil
	}

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunCompletedWithErrors, report.Status)
	assert.Equal(t, []string{"req-bad", "req-noarea"}, report.Skipped)
	assert.Equal(t, []string{"req-smith"}, report.Fulfilled)
	assert.Equal(t, 2, report.Errors)
	assert.Empty(t, h.store.Fields("req-noarea"))
	assert.Len(t, h.mailer.SentTo(testAdmin), 1)
}

func TestOrchestrator_FetchFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FetchPendingFn = func(ctx context.Context) ([]models.RawRequest, error) {
		return nil, errors.New("firestore unavailable")
	}

	report, err := h.orch.Run(context.Background(), RunOptions{LogFile: "run.log"})
	require.Error(t, err)
	assert.Equal(t, RunFailed, report.Status)

	admin := h.mailer.SentTo(testAdmin)
	require.Len(t, admin, 1)
	assert.Equal(t, notify.SubjectRunFailed, admin[0].Subject)
	assert.Contains(t, admin[0].Paragraphs, "Check the log file for more details: run.log")
}

func TestOrchestrator_StoreWriteFailureStopsRun(t *testing.T) {
	first := smithRequest()
	first.Outputs = "gis_files"
	second := smithRequest()
	second.ID = "req-second"
	second.Outputs = "gis_files"
	second.CreatedAt = fixedNow

	h := newHarness(t, first, second)
	h.store.MarkFulfilledFn = func(ctx context.Context, id string, field models.StatusField, at time.Time) error {
		return errors.New("permission denied")
	}

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, RunFailed, report.Status)
	assert.Len(t, h.features.Selections, 1, "the second request is never started")
	assert.Equal(t, []string{notify.SubjectRunFailed}, h.mailer.Subjects())
	assert.Contains(t, h.mailer.Sent[0].Paragraphs, "Request: req-smith")
}

func TestOrchestrator_FailedCloseSendsNoLayersEmail(t *testing.T) {
	raw := smithRequest()
	raw.Outputs = "gis_files"

	h := newHarness(t, raw)
	h.store.MarkFulfilledFn = func(ctx context.Context, id string, field models.StatusField, at time.Time) error {
		if field == models.StatusOverall {
			return errors.New("deadline exceeded")
		}
		return nil
	}

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, RunFailed, report.Status)
	assert.Equal(t, []models.StatusField{models.StatusLayers}, h.store.Fields("req-smith"))
	assert.Empty(t, h.mailer.SentTo("smith@city.example"), "the requester is not told before the record is closed")
	assert.Equal(t, []string{notify.SubjectRunFailed}, h.mailer.Subjects())
	assert.Empty(t, h.handoff.Payloads)
}

func TestOrchestrator_PanicIsRecovered(t *testing.T) {
	h := newHarness(t, smithRequest())
	h.features.PlanAreasIntersectingFn = func(ctx context.Context, sel models.Selection) ([]models.PlanArea, error) {
		panic("nil geometry")
	}

	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil geometry")
	assert.Equal(t, RunFailed, report.Status)
	assert.True(t, h.features.Selections[0].Released)
	assert.Len(t, h.mailer.SentTo(testAdmin), 1)
}

func TestOrchestrator_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t, smithRequest())
	_, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	marks := len(h.store.Marks)

	// Fulfilled records are no longer pending.
	h.store.FetchPendingFn = func(ctx context.Context) ([]models.RawRequest, error) { return nil, nil }
	report, err := h.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, report.NothingPending)
	assert.Len(t, h.store.Marks, marks)
	assert.Len(t, h.handoff.Payloads, 1)
}

func TestOrchestrator_LocalLinkWithoutBase(t *testing.T) {
	h := newHarness(t)
	h.orch.config.LinkBase = ""
	f := Folder{Name: "Smith Project", Path: filepath.Join(h.root, "Smith Project")}
	assert.Equal(t, f.Path, h.orch.link(f))
}
