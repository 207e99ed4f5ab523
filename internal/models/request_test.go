package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	done := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		raw           RawRequest
		wantUtilities []Utility
		wantRequested []OutputKind
		wantPending   []OutputKind
		wantWarnings  int
	}{
		{
			name:          "both outputs pending",
			raw:           RawRequest{ID: " abc-1 ", Email: "a@b.org", Utilities: "Water,Storm", Outputs: "as_builts,gis_files"},
			wantUtilities: []Utility{UtilityWater, UtilityStorm},
			wantRequested: []OutputKind{OutputDocuments, OutputLayers},
			wantPending:   []OutputKind{OutputDocuments, OutputLayers},
		},
		{
			name:          "case insensitive with spaces",
			raw:           RawRequest{ID: "x", Email: "a@b.org", Utilities: " water , ALL ", Outputs: "GIS_FILES"},
			wantUtilities: []Utility{UtilityWater, UtilityAll},
			wantRequested: []OutputKind{OutputLayers},
			wantPending:   []OutputKind{OutputLayers},
		},
		{
			name:          "documents already fulfilled",
			raw:           RawRequest{ID: "x", Email: "a@b.org", Outputs: "as_builts,gis_files", DocumentsFulfilledAt: &done},
			wantRequested: []OutputKind{OutputDocuments, OutputLayers},
			wantPending:   []OutputKind{OutputLayers},
		},
		{
			name: "empty lists are valid",
			raw:  RawRequest{ID: "x", Email: "a@b.org"},
		},
		{
			name:          "unknown tokens dropped",
			raw:           RawRequest{ID: "x", Email: "a@b.org", Utilities: "Water,Fiber", Outputs: "documents,maps"},
			wantUtilities: []Utility{UtilityWater},
			wantRequested: []OutputKind{OutputDocuments},
			wantPending:   []OutputKind{OutputDocuments},
			wantWarnings:  2,
		},
		{
			name:          "duplicates collapse",
			raw:           RawRequest{ID: "x", Email: "a@b.org", Utilities: "Storm,storm", Outputs: "as_builts,documents"},
			wantUtilities: []Utility{UtilityStorm},
			wantRequested: []OutputKind{OutputDocuments},
			wantPending:   []OutputKind{OutputDocuments},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseRequest(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUtilities, rec.Utilities)
			assert.Equal(t, tt.wantRequested, rec.Requested)
			assert.Equal(t, tt.wantPending, rec.Pending)
			assert.Len(t, rec.Warnings, tt.wantWarnings)
		})
	}
}

func TestParseRequest_TrimsIdentity(t *testing.T) {
	rec, err := ParseRequest(RawRequest{ID: "  {ABC}  ", Email: " a@b.org ", FolderName: "  Smith Project "})
	require.NoError(t, err)
	assert.Equal(t, "{ABC}", rec.ID)
	assert.Equal(t, "a@b.org", rec.Email)
	assert.Equal(t, "Smith Project", rec.FolderName)
}

func TestParseRequest_Malformed(t *testing.T) {
	_, err := ParseRequest(RawRequest{ID: "  ", Email: ""})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 2)
	assert.Contains(t, err.Error(), "<missing id>")
}

func TestRequestRecord_AllUtilities(t *testing.T) {
	assert.True(t, RequestRecord{}.AllUtilities())
	assert.True(t, RequestRecord{Utilities: []Utility{UtilityWater, UtilityAll}}.AllUtilities())
	assert.False(t, RequestRecord{Utilities: []Utility{UtilityWater}}.AllUtilities())
}

func TestStatusFieldFor(t *testing.T) {
	assert.Equal(t, StatusDocuments, StatusFieldFor(OutputDocuments))
	assert.Equal(t, StatusLayers, StatusFieldFor(OutputLayers))
}
