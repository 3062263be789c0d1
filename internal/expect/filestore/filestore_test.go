package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/genkeep/internal/expect"
)

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "prefs.json")
	kv, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	st := expect.New(kv, "ResolverPrefs")
	ctx := context.Background()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	title, body := "Upscaling", "Step 3/9"
	if err := st.Set(ctx, true, &title, &body); err != nil {
		t.Fatalf("set: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]map[string]string
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["ResolverPrefs"][expect.KeyShouldRun] != "true" || doc["ResolverPrefs"][expect.KeyLastTitle] != "Upscaling" {
		t.Fatalf("unexpected document: %v", doc)
	}

	kv2, _ := New(path)
	got, err := expect.New(kv2, "ResolverPrefs").Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ShouldBeRunning || got.LastBody != "Step 3/9" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFileStoreMissingFileYieldsDefaults(t *testing.T) {
	kv, _ := New(filepath.Join(t.TempDir(), "none.json"))
	got, err := expect.New(kv, "").Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ShouldBeRunning || got.LastTitle != expect.DefaultTitle {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	kv, _ := New(path)
	got, err := expect.New(kv, "").Get(context.Background())
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if got.LastTitle != expect.DefaultTitle {
		t.Fatalf("defaults should accompany the error, got %+v", got)
	}
}
