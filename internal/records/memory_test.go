package records

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func mustPut(t *testing.T, s Store, collection, id, body string) {
	t.Helper()
	if err := s.Put(context.Background(), collection, id, json.RawMessage(body)); err != nil {
		t.Fatalf("put %s/%s: %v", collection, id, err)
	}
}

func TestMemoryStoreGetPutDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mustPut(t, s, CollectionPatients, "p1", `{"id":"p1","firstName":"Ada"}`)

	doc, err := s.Get(ctx, CollectionPatients, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "p1" {
		t.Errorf("expected id p1, got %s", doc.ID)
	}

	if err := s.Delete(ctx, CollectionPatients, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, CollectionPatients, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent document is not an error.
	if err := s.Delete(ctx, CollectionPatients, "p1"); err != nil {
		t.Errorf("delete of missing doc: %v", err)
	}
}

func TestMemoryStoreRejectsUnknownCollection(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Put(context.Background(), "leads", "x", json.RawMessage(`{}`)); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("expected ErrUnknownCollection, got %v", err)
	}
}

func TestMemoryStoreListFilterOrderLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mustPut(t, s, CollectionConsultations, "c1", `{"patientId":"p1","consultationDateTime":"2026-01-01T10:00:00Z"}`)
	mustPut(t, s, CollectionConsultations, "c2", `{"patientId":"p1","consultationDateTime":"2026-03-01T10:00:00Z"}`)
	mustPut(t, s, CollectionConsultations, "c3", `{"patientId":"p2","consultationDateTime":"2026-02-01T10:00:00Z"}`)

	docs, err := s.List(ctx, Query{
		Collection: CollectionConsultations,
		Filters:    []Filter{{Field: "patientId", Op: "==", Value: "p1"}},
		OrderBy:    "consultationDateTime",
		Desc:       true,
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].ID != "c2" || docs[1].ID != "c1" {
		t.Errorf("expected reverse-chronological order c2,c1 got %s,%s", docs[0].ID, docs[1].ID)
	}

	docs, err = s.List(ctx, Query{Collection: CollectionConsultations, Limit: 1})
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected limit to apply, got %d docs", len(docs))
	}
}

func TestMemoryStoreNumericFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mustPut(t, s, CollectionInvoices, "i1", `{"amount":150.0}`)
	mustPut(t, s, CollectionInvoices, "i2", `{"amount":50.0}`)

	docs, err := s.List(ctx, Query{
		Collection: CollectionInvoices,
		Filters:    []Filter{{Field: "amount", Op: ">", Value: 100}},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "i1" {
		t.Errorf("expected only i1, got %+v", docs)
	}
}

func TestMemoryStorePatchMergesSingleField(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mustPut(t, s, CollectionPatientDocuments, "d1", `{"fileName":"scan.png","tags":[]}`)

	if err := s.Patch(ctx, CollectionPatientDocuments, "d1", map[string]any{"tags": []string{"x-ray"}}); err != nil {
		t.Fatalf("patch: %v", err)
	}

	doc, err := s.Get(ctx, CollectionPatientDocuments, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body struct {
		FileName string   `json:"fileName"`
		Tags     []string `json:"tags"`
	}
	if err := json.Unmarshal(doc.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FileName != "scan.png" {
		t.Errorf("patch must not touch other fields, fileName=%q", body.FileName)
	}
	if len(body.Tags) != 1 || body.Tags[0] != "x-ray" {
		t.Errorf("expected tags [x-ray], got %v", body.Tags)
	}

	if err := s.Patch(ctx, CollectionPatientDocuments, "missing", map[string]any{"tags": []string{}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing doc, got %v", err)
	}
}

func TestDocumentMergedInjectsID(t *testing.T) {
	doc := Document{ID: "a1", Data: json.RawMessage(`{"status":"Scheduled"}`)}
	merged, err := doc.Merged()
	if err != nil {
		t.Fatalf("merged: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(merged, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "a1" {
		t.Errorf("expected merged id a1, got %v", body["id"])
	}
	if body["status"] != "Scheduled" {
		t.Errorf("expected status preserved, got %v", body["status"])
	}
}
