package cache

import (
	"testing"
)

func TestSyncRegistryRoundTrip(t *testing.T) {
	r := NewSyncRegistry(nil)

	a := NewBytes(8, 0, nil)
	defer a.Close()
	b := NewBytes(8, 0, nil)
	defer b.Close()

	r.Register("kernel_a", a)
	r.Register("kernel_b", b)

	a.Put("k", []byte("v"))
	r.SyncData("kernel_a", "kernel_b")

	got, ok := b.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("expected k copied to target, got %q (ok=%v)", got, ok)
	}
	if _, ok := a.Get("k"); !ok {
		t.Error("sync must not drain the source")
	}

	stats := r.Stats()
	if stats.SyncCount != 1 {
		t.Errorf("expected 1 sync, got %d", stats.SyncCount)
	}
}

func TestSyncRegistryMigrate(t *testing.T) {
	r := NewSyncRegistry(nil)

	a := NewBytes(8, 0, nil)
	defer a.Close()
	b := NewBytes(8, 0, nil)
	defer b.Close()

	r.Register("src", a)
	r.Register("dst", b)

	a.Put("m", []byte("data"))
	r.MigrateData("src", "dst")

	if _, ok := b.Get("m"); !ok {
		t.Error("expected migrated entry in target")
	}
	if r.Stats().MigrationCount != 1 {
		t.Error("expected migration counted")
	}
}

func TestSyncRegistryRejectsBadPairs(t *testing.T) {
	r := NewSyncRegistry(nil)

	a := NewBytes(8, 0, nil)
	defer a.Close()
	r.Register("only", a)

	// Same source and target, unknown ids: all no-ops.
	r.SyncData("only", "only")
	r.SyncData("only", "ghost")
	r.SyncData("ghost", "only")

	if r.Stats().SyncCount != 0 {
		t.Error("invalid pairs must not count as syncs")
	}
}

func TestSyncRegistrySyncAll(t *testing.T) {
	r := NewSyncRegistry(nil)

	a := NewBytes(8, 0, nil)
	defer a.Close()
	b := NewBytes(8, 0, nil)
	defer b.Close()

	r.Register("a", a)
	r.Register("b", b)

	a.Put("ka", []byte("1"))
	b.Put("kb", []byte("2"))

	r.SyncAll()

	if _, ok := a.Get("kb"); !ok {
		t.Error("expected kb propagated to a")
	}
	if _, ok := b.Get("ka"); !ok {
		t.Error("expected ka propagated to b")
	}
}

func TestSyncRegistryUnregister(t *testing.T) {
	r := NewSyncRegistry(nil)

	a := NewBytes(8, 0, nil)
	defer a.Close()

	r.Register("gone", a)
	r.Unregister("gone")
	r.SyncData("gone", "also-gone") // must not panic
}
