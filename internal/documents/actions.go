package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// UploadInput is one file upload request.
type UploadInput struct {
	PatientID   string
	FileName    string
	Description string
	ContentType string
	UploadedBy  string
	Data        []byte
}

// UploadResult reports the outcome of an upload. Failures are carried in
// the result, not returned as errors.
type UploadResult struct {
	Success  bool             `json:"success"`
	Document *PatientDocument `json:"document,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ActionResult reports the outcome of tag-save and delete actions.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AvatarResult reports the outcome of an avatar upload.
type AvatarResult struct {
	Success  bool   `json:"success"`
	PhotoURL string `json:"photoURL,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Actions are the privileged document operations invoked server-side.
type Actions struct {
	store  records.Store
	blobs  *BlobStore
	bus    livequery.Bus
	logger *logging.Logger
	now    func() time.Time
}

// NewActions builds the document action set.
func NewActions(store records.Store, blobs *BlobStore, bus livequery.Bus, logger *logging.Logger) *Actions {
	if store == nil {
		panic("documents: record store cannot be nil")
	}
	if blobs == nil {
		panic("documents: blob store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Actions{
		store:  store,
		blobs:  blobs,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Upload stores the blob, then the metadata record. If the metadata write
// fails the blob is left in place; the delete path tolerates the dangling
// object, so no rollback is attempted here.
func (a *Actions) Upload(ctx context.Context, input UploadInput) UploadResult {
	if input.PatientID == "" || input.FileName == "" {
		return UploadResult{Error: "patient ID and file name are required"}
	}
	if len(input.Data) == 0 {
		return UploadResult{Error: "file payload is empty"}
	}

	now := a.now().UTC()
	key := fmt.Sprintf("documents/%s/%d_%s", input.PatientID, now.UnixMilli(), input.FileName)

	if err := a.blobs.Put(ctx, key, input.ContentType, input.Data); err != nil {
		a.logger.Error("document upload failed", "error", err, "patient_id", input.PatientID)
		return UploadResult{Error: "failed to store file"}
	}

	doc := PatientDocument{
		ID:             uuid.NewString(),
		PatientID:      input.PatientID,
		FileName:       input.FileName,
		Description:    input.Description,
		StoragePath:    key,
		DownloadURL:    a.blobs.URL(key),
		UploadedBy:     input.UploadedBy,
		UploadDateTime: now.Format(time.RFC3339),
		FileType:       input.ContentType,
		Tags:           []string{},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return UploadResult{Error: "failed to encode document record"}
	}
	if err := a.store.Put(ctx, records.CollectionPatientDocuments, doc.ID, data); err != nil {
		a.logger.Error("document metadata write failed, blob retained",
			"error", err,
			"patient_id", input.PatientID,
			"key", key,
		)
		return UploadResult{Error: "failed to save document record"}
	}

	a.announce(ctx, doc.ID, events.OpCreate)
	return UploadResult{Success: true, Document: &doc}
}

// SaveTags replaces only the tags field of an existing document. It is the
// write half of the AI tagging flow and is safe to re-run with the same
// tags.
func (a *Actions) SaveTags(ctx context.Context, patientID, documentID string, tags []string) ActionResult {
	if patientID == "" || documentID == "" {
		return ActionResult{Error: "patient ID and document ID are required"}
	}

	doc, err := a.getOwned(ctx, patientID, documentID)
	if err != nil {
		return ActionResult{Error: err.Error()}
	}

	if tags == nil {
		tags = []string{}
	}
	if err := a.store.Patch(ctx, records.CollectionPatientDocuments, doc.ID, map[string]any{
		"tags": tags,
	}); err != nil {
		a.logger.Error("tag save failed", "error", err, "document_id", documentID)
		return ActionResult{Error: "failed to save tags"}
	}

	a.announce(ctx, doc.ID, events.OpPatch)
	return ActionResult{Success: true}
}

// Delete removes the backing blob first, then the metadata record. An
// already-missing blob does not block record deletion.
func (a *Actions) Delete(ctx context.Context, patientID, documentID string) ActionResult {
	if patientID == "" || documentID == "" {
		return ActionResult{Error: "patient ID and document ID are required"}
	}

	doc, err := a.getOwned(ctx, patientID, documentID)
	if err != nil {
		return ActionResult{Error: err.Error()}
	}

	if doc.StoragePath != "" {
		if err := a.blobs.Delete(ctx, doc.StoragePath); err != nil {
			a.logger.Error("blob delete failed", "error", err, "document_id", documentID)
			return ActionResult{Error: "failed to delete stored file"}
		}
	}

	if err := a.store.Delete(ctx, records.CollectionPatientDocuments, doc.ID); err != nil {
		a.logger.Error("document record delete failed", "error", err, "document_id", documentID)
		return ActionResult{Error: "failed to delete document record"}
	}

	a.announce(ctx, doc.ID, events.OpDelete)
	return ActionResult{Success: true}
}

// UploadAvatar stores a profile image under avatars/{uid}/{filename} and
// points the user record at it.
func (a *Actions) UploadAvatar(ctx context.Context, userID, fileName, contentType string, data []byte) AvatarResult {
	if userID == "" || fileName == "" {
		return AvatarResult{Error: "user ID and file name are required"}
	}
	if len(data) == 0 {
		return AvatarResult{Error: "file payload is empty"}
	}

	key := fmt.Sprintf("avatars/%s/%s", userID, fileName)
	if err := a.blobs.Put(ctx, key, contentType, data); err != nil {
		a.logger.Error("avatar upload failed", "error", err, "user_id", userID)
		return AvatarResult{Error: "failed to store avatar"}
	}

	photoURL := a.blobs.URL(key)
	if err := a.store.Patch(ctx, records.CollectionUsers, userID, map[string]any{
		"photoURL": photoURL,
	}); err != nil {
		a.logger.Error("avatar record update failed", "error", err, "user_id", userID)
		return AvatarResult{Error: "failed to update profile"}
	}

	if a.bus != nil {
		change := livequery.Change{Collection: records.CollectionUsers, DocID: userID, Op: events.OpPatch}
		if err := a.bus.Publish(ctx, change); err != nil {
			a.logger.Warn("failed to announce avatar change", "error", err, "user_id", userID)
		}
	}
	return AvatarResult{Success: true, PhotoURL: photoURL}
}

// GetByStoragePath resolves a document record from its object key. Used by
// the tagging lambda to map S3 events back to metadata records.
func (a *Actions) GetByStoragePath(ctx context.Context, key string) (PatientDocument, error) {
	docs, err := a.store.List(ctx, records.Query{
		Collection: records.CollectionPatientDocuments,
		Filters: []records.Filter{
			{Field: "storagePath", Op: "==", Value: key},
		},
		Limit: 1,
	})
	if err != nil {
		return PatientDocument{}, fmt.Errorf("documents: lookup by storage path: %w", err)
	}
	if len(docs) == 0 {
		return PatientDocument{}, records.ErrNotFound
	}
	return decodeDocument(docs[0])
}

func (a *Actions) getOwned(ctx context.Context, patientID, documentID string) (PatientDocument, error) {
	rec, err := a.store.Get(ctx, records.CollectionPatientDocuments, documentID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return PatientDocument{}, fmt.Errorf("document %s not found", documentID)
		}
		a.logger.Error("document lookup failed", "error", err, "document_id", documentID)
		return PatientDocument{}, fmt.Errorf("failed to load document %s", documentID)
	}

	doc, err := decodeDocument(rec)
	if err != nil {
		return PatientDocument{}, fmt.Errorf("document %s is malformed", documentID)
	}
	if doc.PatientID != patientID {
		return PatientDocument{}, fmt.Errorf("document %s does not belong to patient %s", documentID, patientID)
	}
	return doc, nil
}

func (a *Actions) announce(ctx context.Context, docID, op string) {
	if a.bus == nil {
		return
	}
	change := livequery.Change{
		Collection: records.CollectionPatientDocuments,
		DocID:      docID,
		Op:         op,
	}
	if err := a.bus.Publish(ctx, change); err != nil {
		a.logger.Warn("failed to announce document change", "error", err, "doc_id", docID)
	}
}
