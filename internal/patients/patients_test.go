package patients

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mwilkes/clinicdesk/internal/records"
)

func TestValidate(t *testing.T) {
	p := Patient{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.test", Gender: "female"}
	if err := p.Validate(); err != nil {
		t.Errorf("expected valid patient, got %v", err)
	}

	if err := (Patient{FirstName: "Ada"}).Validate(); err == nil {
		t.Error("expected missing last name to fail")
	}
	if err := (Patient{FirstName: "Ada", LastName: "L", Email: "not-an-email"}).Validate(); err == nil {
		t.Error("expected bad email to fail")
	}
}

func TestStoreListOrdersByLastName(t *testing.T) {
	recordStore := records.NewMemoryStore()
	ctx := context.Background()

	for _, p := range []Patient{
		{ID: "p1", FirstName: "Ada", LastName: "Zimmer"},
		{ID: "p2", FirstName: "Ben", LastName: "Abbott"},
	} {
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := recordStore.Put(ctx, records.CollectionPatients, p.ID, data); err != nil {
			t.Fatal(err)
		}
	}

	store := NewStore(recordStore)
	patients, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(patients) != 2 || patients[0].LastName != "Abbott" {
		t.Fatalf("unexpected ordering %+v", patients)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.FirstName != "Ada" {
		t.Errorf("unexpected patient %+v", got)
	}
}
