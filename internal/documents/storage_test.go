package documents

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type fakeObject struct {
	data        []byte
	contentType string
}

type fakeS3 struct {
	objects map[string]fakeObject
	// deleteMissingErr makes DeleteObject surface NoSuchKey for absent keys
	// the way some S3-compatible stores do.
	deleteMissingErr bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = fakeObject{
		data:        data,
		contentType: aws.ToString(params.ContentType),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: aws.String(obj.contentType),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(params.Key)
	if _, ok := f.objects[key]; !ok && f.deleteMissingErr {
		return nil, &s3types.NoSuchKey{}
	}
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestBlobStoreRoundTrip(t *testing.T) {
	s3fake := newFakeS3()
	blobs := NewBlobStore(s3fake, "clinic-documents", "https://files.example.com/", logging.Default())

	if err := blobs.Put(context.Background(), "documents/p1/1_scan.png", "image/png", []byte("png")); err != nil {
		t.Fatal(err)
	}

	data, contentType, err := blobs.Get(context.Background(), "documents/p1/1_scan.png")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png" || contentType != "image/png" {
		t.Errorf("unexpected blob %q %q", data, contentType)
	}

	if url := blobs.URL("documents/p1/1_scan.png"); url != "https://files.example.com/documents/p1/1_scan.png" {
		t.Errorf("unexpected URL %q", url)
	}
}

func TestBlobStoreDeleteMissingIsNotError(t *testing.T) {
	s3fake := newFakeS3()
	s3fake.deleteMissingErr = true
	blobs := NewBlobStore(s3fake, "clinic-documents", "https://files.example.com", logging.Default())

	if err := blobs.Delete(context.Background(), "documents/p1/gone.png"); err != nil {
		t.Fatalf("expected missing blob delete to succeed, got %v", err)
	}
}
