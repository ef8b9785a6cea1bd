package cache

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fixture struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// ---- read / write ----

func TestReadWrite_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	desc := Descriptor{Scope: "scrape", Provider: "dataroma", Key: "grand-portfolio_v2_0_max-all"}

	written, err := Write(s, desc, fixture{Name: "alpha", Count: 3})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if written.CreatedAt.IsZero() {
		t.Error("Write did not stamp CreatedAt")
	}

	got, ok := Read[fixture](s, desc)
	if !ok {
		t.Fatal("Read missed a freshly written entry")
	}
	if got.Payload.Name != "alpha" || got.Payload.Count != 3 {
		t.Errorf("payload = %+v, want {alpha 3}", got.Payload)
	}
	if got.Descriptor.Key != desc.Key {
		t.Errorf("descriptor key = %q, want %q", got.Descriptor.Key, desc.Key)
	}

	// The entry must live at <provider>/<scope>/<escaped key>.json.
	want := filepath.Join(s.Root(), "dataroma", "scrape", url.QueryEscape(desc.Key)+".json")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("entry file not at expected path: %v", err)
	}
}

func TestRead_MissingEntry(t *testing.T) {
	s := newTestStore(t)

	if _, ok := Read[fixture](s, Descriptor{Scope: "scrape", Provider: "dataroma", Key: "nope"}); ok {
		t.Error("Read reported a hit for an entry never written")
	}
}

func TestRead_ExpiredEntryIsRemoved(t *testing.T) {
	s := newTestStore(t)
	expired := time.Now().Add(-time.Minute)
	desc := Descriptor{Scope: "exchange-list", Provider: "eodhd", Key: "all", ExpiresAt: &expired}

	if _, err := Write(s, desc, fixture{Name: "stale"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, ok := Read[fixture](s, desc); ok {
		t.Fatal("Read returned an expired entry")
	}

	path := filepath.Join(s.Root(), "eodhd", "exchange-list", "all.json")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expired entry file still present: stat err = %v", err)
	}
}

func TestRead_FutureExpiryStillServed(t *testing.T) {
	s := newTestStore(t)
	desc := Descriptor{Scope: "symbols", Provider: "eodhd", Key: "US"}.WithTTL(time.Hour)

	if _, err := Write(s, desc, fixture{Name: "fresh"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := Read[fixture](s, desc); !ok {
		t.Error("Read missed an unexpired entry")
	}
}

func TestRead_CorruptFileTreatedAsMiss(t *testing.T) {
	s := newTestStore(t)
	desc := Descriptor{Scope: "scrape", Provider: "dataroma", Key: "broken"}

	path := filepath.Join(s.Root(), "dataroma", "scrape", "broken.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, ok := Read[fixture](s, desc); ok {
		t.Error("Read reported a hit for a corrupt entry")
	}
}

func TestRead_MemoryTierServesAfterFileRemoval(t *testing.T) {
	s := newTestStore(t)
	desc := Descriptor{Scope: "scrape", Provider: "dataroma", Key: "hot"}

	if _, err := Write(s, desc, fixture{Name: "hot"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.Remove(filepath.Join(s.Root(), "dataroma", "scrape", "hot.json")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok := Read[fixture](s, desc); !ok {
		t.Error("memory tier did not serve the entry after file removal")
	}
}

func TestClear_RemovesBothTiers(t *testing.T) {
	s := newTestStore(t)
	desc := Descriptor{Scope: "matches", Provider: "system", Key: "matches-1-1-all-abc"}

	if _, err := Write(s, desc, fixture{Name: "gone"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s.Clear(desc)

	if _, ok := Read[fixture](s, desc); ok {
		t.Error("Read reported a hit after Clear")
	}
	path := filepath.Join(s.Root(), "system", "matches", url.QueryEscape(desc.Key)+".json")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("entry file still present after Clear: stat err = %v", err)
	}
}

// ---- metrics ----

type recordingMetrics struct {
	hits   map[string]int
	misses map[string]int
}

func (r *recordingMetrics) RecordCacheHit(scope string)  { r.hits[scope]++ }
func (r *recordingMetrics) RecordCacheMiss(scope string) { r.misses[scope]++ }

func TestSetMetrics_RecordsReadOutcomesByScope(t *testing.T) {
	s := newTestStore(t)
	rec := &recordingMetrics{hits: map[string]int{}, misses: map[string]int{}}
	s.SetMetrics(rec)

	desc := Descriptor{Scope: "symbols", Provider: "eodhd", Key: "US"}

	if _, ok := Read[fixture](s, desc); ok {
		t.Fatal("Read reported a hit before any write")
	}
	if _, err := Write(s, desc, fixture{Name: "fresh"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := Read[fixture](s, desc); !ok {
		t.Fatal("Read missed a freshly written entry")
	}

	expired := time.Now().Add(-time.Minute)
	stale := Descriptor{Scope: "scrape", Provider: "dataroma", Key: "old", ExpiresAt: &expired}
	if _, err := Write(s, stale, fixture{Name: "stale"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := Read[fixture](s, stale); ok {
		t.Fatal("Read returned an expired entry")
	}

	if got := rec.hits["symbols"]; got != 1 {
		t.Errorf("symbols hits = %d, want 1", got)
	}
	if got := rec.misses["symbols"]; got != 1 {
		t.Errorf("symbols misses = %d, want 1", got)
	}
	if got := rec.misses["scrape"]; got != 1 {
		t.Errorf("scrape misses = %d, want 1", got)
	}
	if got := rec.hits["scrape"]; got != 0 {
		t.Errorf("scrape hits = %d, want 0", got)
	}
}

// ---- path derivation ----

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dataroma", "dataroma"},
		{"EODHD", "EODHD"},
		{"exchange-list", "exchange-list"},
		{"a/b", "a_b"},
		{"..", ".."},
		{"sp ace", "sp_ace"},
		{"", "default"},
		{"naïve", "na__ve"},
	}
	for _, tt := range tests {
		if got := sanitizeSegment(tt.in); got != tt.want {
			t.Errorf("sanitizeSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRelPath_DistinguishesAwkwardKeys(t *testing.T) {
	// Keys that collide after naive sanitization must still map to
	// distinct files via URL escaping.
	a := relPath(Descriptor{Scope: "s", Provider: "p", Key: "a/b"})
	b := relPath(Descriptor{Scope: "s", Provider: "p", Key: "a_b"})
	if a == b {
		t.Errorf("relPath collided: %q", a)
	}
}

func TestWriteRead_SanitizedSegmentsShareEntry(t *testing.T) {
	s := newTestStore(t)

	// Two descriptors whose provider sanitizes identically address the
	// same entry.
	first := Descriptor{Scope: "scrape", Provider: "data/roma", Key: "k"}
	second := Descriptor{Scope: "scrape", Provider: "data_roma", Key: "k"}

	if _, err := Write(s, first, fixture{Name: "one"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok := Read[fixture](s, second)
	if !ok {
		t.Fatal("Read missed entry addressed through equivalent descriptor")
	}
	if got.Payload.Name != "one" {
		t.Errorf("payload name = %q, want %q", got.Payload.Name, "one")
	}
}
