package gcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrAlreadyMarked is returned by MarkFulfilled when the field was set by someone else
	// between our read and the conditional write.
	ErrAlreadyMarked = errors.New("fulfillment field already set")
	// ErrNotFound is returned when a request id has no record.
	ErrNotFound = errors.New("request not found")
	// ErrNoArea is returned when a request record carries no area of interest.
	ErrNoArea = errors.New("request has no area of interest")
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// ClientOptions returns the options shared by every GCP client of a run.
func ClientOptions(credentialsFile string) []option.ClientOption {
	if credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

// RequestStore reads survey requests and writes their fulfillment timestamps.
type RequestStore struct {
	client     *firestore.Client
	collection string
	fields     config.FieldConfig
}

// NewRequestStore wraps client for the configured collection.
func NewRequestStore(client *firestore.Client, cfg config.StoreConfig) *RequestStore {
	return &RequestStore{client: client, collection: cfg.Collection, fields: cfg.Fields}
}

// FetchPending returns every request whose overall fulfillment timestamp is null or
// absent, oldest first. Firestore cannot match a missing field, so the collection is
// scanned and filtered after decoding. Any store error is returned as is; the caller
// treats it as fatal.
func (s *RequestStore) FetchPending(ctx context.Context) ([]models.RawRequest, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var all []models.RawRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query pending requests: %w", err)
		}
		all = append(all, decodeRequest(snap.Ref.ID, snap.Data(), s.fields))
	}
	return pendingOnly(all), nil
}

// pendingOnly keeps the unfulfilled requests, oldest first. A request without a
// creation time sorts ahead of the rest.
func pendingOnly(all []models.RawRequest) []models.RawRequest {
	out := make([]models.RawRequest, 0, len(all))
	for _, raw := range all {
		if raw.FulfilledAt == nil {
			out = append(out, raw)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SelectByID loads the requester's area of interest.
func (s *RequestStore) SelectByID(ctx context.Context, id string) (models.AreaOfInterest, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.AreaOfInterest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.AreaOfInterest{}, fmt.Errorf("failed to load request %s: %w", id, err)
	}
	wkt := stringValue(snap.Data()[s.fields.AreaOfInterest])
	if wkt == "" {
		return models.AreaOfInterest{}, fmt.Errorf("request %s field %q: %w", id, s.fields.AreaOfInterest, ErrNoArea)
	}
	return models.AreaOfInterest{RequestID: id, WKT: wkt}, nil
}

// MarkFulfilled sets field to at, but only while it is still null. The read and the
// write happen in one transaction; a field that is already set yields ErrAlreadyMarked
// and no write.
func (s *RequestStore) MarkFulfilled(ctx context.Context, id string, field models.StatusField, at time.Time) error {
	name := s.fields.StatusField(field)
	ref := s.client.Collection(s.collection).Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if v, ok := snap.Data()[name]; ok && v != nil {
			return ErrAlreadyMarked
		}
		return tx.Update(ref, []firestore.Update{{FieldPath: firestore.FieldPath{name}, Value: at}})
	})
	if errors.Is(err, ErrAlreadyMarked) {
		return fmt.Errorf("request %s field %s: %w", id, name, ErrAlreadyMarked)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s on request %s: %w", name, id, err)
	}
	return nil
}

func decodeRequest(id string, data map[string]interface{}, f config.FieldConfig) models.RawRequest {
	raw := models.RawRequest{
		ID:                   id,
		Email:                stringValue(data[f.Email]),
		FolderName:           stringValue(data[f.FolderName]),
		Utilities:            stringValue(data[f.Utilities]),
		Outputs:              stringValue(data[f.Outputs]),
		FulfilledAt:          timeValue(data[f.Fulfilled]),
		DocumentsFulfilledAt: timeValue(data[f.DocumentsFulfilled]),
		LayersFulfilledAt:    timeValue(data[f.LayersFulfilled]),
	}
	if t := timeValue(data[f.CreatedAt]); t != nil {
		raw.CreatedAt = *t
	}
	return raw
}

// stringValue accepts either a plain string or a list of strings, which multi-select
// survey questions produce.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	}
	return ""
}

func timeValue(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return &parsed
		}
	}
	return nil
}
