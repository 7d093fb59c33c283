package store

import (
	"testing"

	"github.com/dukerupert/starchart/internal/database"
)

func setupKVTestDB(t *testing.T) *KVStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewKVStore(db)
}

func TestKVGetMissing(t *testing.T) {
	kv := setupKVTestDB(t)

	val, ok, err := kv.Get("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected ok = false for missing key")
	}
	if val != "" {
		t.Errorf("value = %q, want empty", val)
	}
}

func TestKVSetOverwrite(t *testing.T) {
	kv := setupKVTestDB(t)

	if err := kv.Set("cache", `{"v":1}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set("cache", `{"v":2}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	val, ok, err := kv.Get("cache")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != `{"v":2}` {
		t.Errorf("value = %q, want %q", val, `{"v":2}`)
	}
}

func TestKVSetMany(t *testing.T) {
	kv := setupKVTestDB(t)

	err := kv.SetMany(map[string]string{
		"star_cache":        "a",
		"pending_mutations": "b",
	})
	if err != nil {
		t.Fatalf("set many: %v", err)
	}

	for key, want := range map[string]string{"star_cache": "a", "pending_mutations": "b"} {
		got, ok, err := kv.Get(key)
		if err != nil {
			t.Fatalf("get %q: %v", key, err)
		}
		if !ok || got != want {
			t.Errorf("%s = %q (ok=%v), want %q", key, got, ok, want)
		}
	}
}

func TestKVDelete(t *testing.T) {
	kv := setupKVTestDB(t)

	kv.Set("k", "v")
	if err := kv.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get("k"); ok {
		t.Error("expected key to be gone after delete")
	}
}
