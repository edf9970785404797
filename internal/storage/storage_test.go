package storage

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

func testSnapshot(collection string) *indexer.Snapshot {
	return &indexer.Snapshot{
		Version:    indexer.SnapshotVersion,
		Collection: collection,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Graph: common.GraphData{
			Nodes: []common.GraphNode{{Key: "sarah", Name: "Sarah", Type: common.EntityCharacter, Mentions: 3}},
		},
		Documents: []indexer.DocumentInfo{{DocID: "ch1", State: indexer.StateIndexed, Chunks: 2}},
	}
}

func TestSnapshotName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"novel", "novel.json"},
		{"my novel/draft 2", "my_novel_draft_2.json"},
		{"../etc", "_etc.json"},
		{"", "_.json"},
	}
	for _, tt := range tests {
		if got := snapshotName(tt.in); got != tt.want {
			t.Errorf("snapshotName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	missing, err := store.Load(ctx, "novel")
	if err != nil || missing != nil {
		t.Fatalf("expected no snapshot, got %v, %v", missing, err)
	}

	want := testSnapshot("novel")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, testSnapshot("sequel")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "novel")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}

	names, err := store.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"novel", "sequel"}) {
		t.Fatalf("Collections = %v", names)
	}
}

func TestDecode_WrongCollection(t *testing.T) {
	data, err := encode(testSnapshot("novel"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decode(data, "other"); err == nil {
		t.Fatalf("expected collection mismatch error")
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{objects: map[string][]byte{"snapshots/nested/x.json": []byte("{}")}}
	store := NewS3Store(client, "bucket", "/snapshots/")

	missing, err := store.Load(ctx, "novel")
	if err != nil || missing != nil {
		t.Fatalf("expected no snapshot, got %v, %v", missing, err)
	}

	want := testSnapshot("novel")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := client.objects["snapshots/novel.json"]; !ok {
		t.Fatalf("expected object under prefix, have %v", client.objects)
	}

	got, err := store.Load(ctx, "novel")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}

	names, err := store.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"novel"}) {
		t.Fatalf("Collections = %v", names)
	}
}
