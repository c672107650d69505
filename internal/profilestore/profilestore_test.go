package profilestore

import (
	"testing"
	"time"
)

func TestOpenRejectsUnsupportedDriver(t *testing.T) {
	if _, err := Open(Driver("oracle"), ""); err == nil {
		t.Errorf("expected an error opening an unsupported driver")
	}
}

func openMemoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(SQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openMemoryStore(t)
	rec := Record{
		QualifiedName: "Widget.draw",
		UsageCount:    42,
		DeoptCount:    1,
		Optimizable:   true,
		UpdatedAt:     time.Now().Truncate(time.Second),
	}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, found, err := s.Load("Widget.draw")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatalf("expected the saved record to be found")
	}
	if got.UsageCount != 42 || got.DeoptCount != 1 || !got.Optimizable {
		t.Errorf("loaded record = %+v, want usage=42 deopt=1 optimizable=true", got)
	}
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := openMemoryStore(t)
	_, found, err := s.Load("Nobody.home")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Errorf("expected found=false for a record that was never saved")
	}
}

func TestSaveOverwritesExistingRecord(t *testing.T) {
	s := openMemoryStore(t)
	name := "Counter.tick"
	s.Save(Record{QualifiedName: name, UsageCount: 1, UpdatedAt: time.Now()})
	s.Save(Record{QualifiedName: name, UsageCount: 99, UpdatedAt: time.Now()})

	got, found, err := s.Load(name)
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if got.UsageCount != 99 {
		t.Errorf("UsageCount = %d, want 99 after overwrite", got.UsageCount)
	}
}

func TestHottestOrdersByUsageDescending(t *testing.T) {
	s := openMemoryStore(t)
	s.Save(Record{QualifiedName: "cold", UsageCount: 1, UpdatedAt: time.Now()})
	s.Save(Record{QualifiedName: "hot", UsageCount: 100, UpdatedAt: time.Now()})
	s.Save(Record{QualifiedName: "warm", UsageCount: 50, UpdatedAt: time.Now()})

	recs, err := s.Hottest(2)
	if err != nil {
		t.Fatalf("Hottest: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Hottest(2) returned %d records, want 2", len(recs))
	}
	if recs[0].QualifiedName != "hot" || recs[1].QualifiedName != "warm" {
		t.Errorf("Hottest order = %v, want [hot warm]", recs)
	}
}
