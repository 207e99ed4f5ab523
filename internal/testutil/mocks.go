// Package testutil provides shared mock implementations of the service ports for use
// in tests across the codebase.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/Lllllllleong/gisrequestflow/internal/notify"
)

// === Record Store Mock ===

// Mark is one MarkFulfilled call.
type Mark struct {
	ID    string
	Field models.StatusField
	At    time.Time
}

// MockRecordStore implements services.RecordStore for testing.
type MockRecordStore struct {
	FetchPendingFn  func(ctx context.Context) ([]models.RawRequest, error)
	SelectByIDFn    func(ctx context.Context, id string) (models.AreaOfInterest, error)
	MarkFulfilledFn func(ctx context.Context, id string, field models.StatusField, at time.Time) error
	Marks           []Mark // collected successful marks for assertions
}

// FetchPending implements the interface method for testing.
func (m *MockRecordStore) FetchPending(ctx context.Context) ([]models.RawRequest, error) {
	if m.FetchPendingFn != nil {
		return m.FetchPendingFn(ctx)
	}
	return nil, nil
}

// SelectByID implements the interface method for testing. By default every id has a
// unit square as its area of interest.
func (m *MockRecordStore) SelectByID(ctx context.Context, id string) (models.AreaOfInterest, error) {
	if m.SelectByIDFn != nil {
		return m.SelectByIDFn(ctx, id)
	}
	return models.AreaOfInterest{RequestID: id, WKT: "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))"}, nil
}

// MarkFulfilled implements the interface method for testing.
func (m *MockRecordStore) MarkFulfilled(ctx context.Context, id string, field models.StatusField, at time.Time) error {
	if m.MarkFulfilledFn != nil {
		if err := m.MarkFulfilledFn(ctx, id, field, at); err != nil {
			return err
		}
	}
	m.Marks = append(m.Marks, Mark{ID: id, Field: field, At: at})
	return nil
}

// Fields returns the fields marked for id, in call order.
func (m *MockRecordStore) Fields(id string) []models.StatusField {
	var out []models.StatusField
	for _, mk := range m.Marks {
		if mk.ID == id {
			out = append(out, mk.Field)
		}
	}
	return out
}

// === Feature Store Mock ===

// MockSelection implements models.Selection and records its release.
type MockSelection struct {
	ID       string
	Released bool
}

func (s *MockSelection) RequestID() string { return s.ID }

func (s *MockSelection) Release(context.Context) error {
	s.Released = true
	return nil
}

// MockFeatureStore implements services.FeatureStore for testing.
type MockFeatureStore struct {
	AuthenticateFn          func(ctx context.Context) error
	PlanAreasIntersectingFn func(ctx context.Context, sel models.Selection) ([]models.PlanArea, error)
	LayerFieldsFn           func(ctx context.Context, layer models.LayerDescriptor) ([]string, error)
	ExportAreaFn            func(ctx context.Context, sel models.Selection, gdbDir, shpDir string) error
	ExportLayerFn           func(ctx context.Context, sel models.Selection, layer models.LayerDescriptor, fields []string, gdbDir, shpDir string) (int, error)

	Selections []*MockSelection
	Exported   map[string][]string // layer name to exported fields
}

// Authenticate implements the interface method for testing.
func (m *MockFeatureStore) Authenticate(ctx context.Context) error {
	if m.AuthenticateFn != nil {
		return m.AuthenticateFn(ctx)
	}
	return nil
}

// Stage implements the interface method for testing.
func (m *MockFeatureStore) Stage(_ context.Context, aoi models.AreaOfInterest) (models.Selection, error) {
	sel := &MockSelection{ID: aoi.RequestID}
	m.Selections = append(m.Selections, sel)
	return sel, nil
}

// PlanAreasIntersecting implements the interface method for testing.
func (m *MockFeatureStore) PlanAreasIntersecting(ctx context.Context, sel models.Selection) ([]models.PlanArea, error) {
	if m.PlanAreasIntersectingFn != nil {
		return m.PlanAreasIntersectingFn(ctx, sel)
	}
	return nil, nil
}

// LayerFields implements the interface method for testing. By default a layer has
// OBJECTID plus exactly its configured fields.
func (m *MockFeatureStore) LayerFields(ctx context.Context, layer models.LayerDescriptor) ([]string, error) {
	if m.LayerFieldsFn != nil {
		return m.LayerFieldsFn(ctx, layer)
	}
	return append([]string{"OBJECTID"}, layer.Fields...), nil
}

// ExportArea implements the interface method for testing.
func (m *MockFeatureStore) ExportArea(ctx context.Context, sel models.Selection, gdbDir, shpDir string) error {
	if m.ExportAreaFn != nil {
		return m.ExportAreaFn(ctx, sel, gdbDir, shpDir)
	}
	return nil
}

// ExportLayer implements the interface method for testing.
func (m *MockFeatureStore) ExportLayer(ctx context.Context, sel models.Selection, layer models.LayerDescriptor, fields []string, gdbDir, shpDir string) (int, error) {
	n := 1
	if m.ExportLayerFn != nil {
		var err error
		if n, err = m.ExportLayerFn(ctx, sel, layer, fields, gdbDir, shpDir); err != nil {
			return 0, err
		}
	}
	if m.Exported == nil {
		m.Exported = make(map[string][]string)
	}
	m.Exported[layer.Name] = fields
	return n, nil
}

// === Mailer Mock ===

// MockMailer implements notify.Mailer and collects sent messages.
type MockMailer struct {
	SendFn func(ctx context.Context, msg notify.Message) error

	mu   sync.Mutex
	Sent []notify.Message
}

// Send implements the interface method for testing.
func (m *MockMailer) Send(ctx context.Context, msg notify.Message) error {
	if m.SendFn != nil {
		if err := m.SendFn(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return nil
}

// Subjects returns the subjects of every sent message.
func (m *MockMailer) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	for i, msg := range m.Sent {
		out[i] = msg.Subject
	}
	return out
}

// SentTo returns the messages addressed to addr.
func (m *MockMailer) SentTo(addr string) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Message
	for _, msg := range m.Sent {
		for _, to := range msg.To {
			if strings.EqualFold(to, addr) {
				out = append(out, msg)
				break
			}
		}
	}
	return out
}

// === Sync and Hand-off Mocks ===

// MockFolderSyncer implements services.FolderSyncer for testing.
type MockFolderSyncer struct {
	SyncFn  func(ctx context.Context, localDir, folder string) (int, error)
	Folders []string
}

// Sync implements the interface method for testing.
func (m *MockFolderSyncer) Sync(ctx context.Context, localDir, folder string) (int, error) {
	m.Folders = append(m.Folders, folder)
	if m.SyncFn != nil {
		return m.SyncFn(ctx, localDir, folder)
	}
	return 0, nil
}

// MockHandoff implements services.Handoffer for testing.
type MockHandoff struct {
	TriggerFn func(ctx context.Context, payload models.HandoffPayload) (string, error)
	Payloads  []models.HandoffPayload
}

// Trigger implements the interface method for testing.
func (m *MockHandoff) Trigger(ctx context.Context, payload models.HandoffPayload) (string, error) {
	m.Payloads = append(m.Payloads, payload)
	if m.TriggerFn != nil {
		return m.TriggerFn(ctx, payload)
	}
	return "executions/" + payload.RequestID, nil
}
