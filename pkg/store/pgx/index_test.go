package pgx

import (
	"io/fs"
	"reflect"
	"strings"
	"testing"
)

func TestChunkRange(t *testing.T) {
	tests := []struct {
		total int
		size  int
		want  [][2]int
	}{
		{total: 0, size: 10, want: nil},
		{total: 5, size: 2, want: [][2]int{{0, 2}, {2, 4}, {4, 5}}},
		{total: 3, size: 0, want: [][2]int{{0, 3}}},
	}
	for _, tt := range tests {
		var got [][2]int
		_ = chunkRange(tt.total, tt.size, func(start, end int) error {
			got = append(got, [2]int{start, end})
			return nil
		})
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("chunkRange(%d, %d) = %v, want %v", tt.total, tt.size, got, tt.want)
		}
	}
}

func TestChunkMetadata(t *testing.T) {
	raw, err := chunkMetadata(
		map[string]any{"title": "Chapter 1", "part": 1},
		map[string]any{"position": 3, "title": "override"},
	)
	if err != nil {
		t.Fatalf("chunkMetadata() error = %v", err)
	}
	md, err := decodeMetadata(raw)
	if err != nil {
		t.Fatalf("decodeMetadata() error = %v", err)
	}
	want := map[string]any{"title": "override", "part": float64(1), "position": float64(3)}
	if !reflect.DeepEqual(md, want) {
		t.Fatalf("metadata = %v, want %v", md, want)
	}
}

func TestMetadataFilter(t *testing.T) {
	if got, _ := metadataFilter(nil); string(got) != "{}" {
		t.Fatalf("empty filter = %s", got)
	}
	got, err := metadataFilter(map[string]any{"pov": "Emma"})
	if err != nil || string(got) != `{"pov":"Emma"}` {
		t.Fatalf("metadataFilter() = %s, %v", got, err)
	}
}

func TestMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil || len(files) == 0 {
		t.Fatalf("no embedded migrations: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups[strings.TrimSuffix(f, ".up.sql")] = true
		case strings.HasSuffix(f, ".down.sql"):
			downs[strings.TrimSuffix(f, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", f)
		}
	}
	if !reflect.DeepEqual(ups, downs) {
		t.Fatalf("unpaired migrations: up=%v down=%v", ups, downs)
	}
}
