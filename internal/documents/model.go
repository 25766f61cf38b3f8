// Package documents implements patient document storage: blobs in S3,
// metadata in the patient_documents collection, and the server actions the
// UI calls for upload, tag saves, and deletion.
package documents

import (
	"encoding/json"
	"fmt"

	"github.com/mwilkes/clinicdesk/internal/records"
)

// PatientDocument is the metadata record for one uploaded file.
type PatientDocument struct {
	ID             string   `json:"id"`
	PatientID      string   `json:"patientId"`
	FileName       string   `json:"fileName"`
	Description    string   `json:"description,omitempty"`
	StoragePath    string   `json:"storagePath"`
	DownloadURL    string   `json:"downloadURL"`
	UploadedBy     string   `json:"uploadedBy"`
	UploadDateTime string   `json:"uploadDateTime"`
	FileType       string   `json:"fileType,omitempty"`
	Tags           []string `json:"tags"`
}

func decodeDocument(doc records.Document) (PatientDocument, error) {
	var pd PatientDocument
	if err := json.Unmarshal(doc.Data, &pd); err != nil {
		return PatientDocument{}, fmt.Errorf("documents: malformed record %s: %w", doc.ID, err)
	}
	pd.ID = doc.ID
	return pd, nil
}
