package storage

import (
	"testing"
	"time"

	"wyrmhole/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAddSent(t *testing.T, store *Store, name string, at time.Time) models.SentRecord {
	t.Helper()

	record := models.SentRecord{
		FileName:       name,
		FileSize:       42,
		FileExtension:  "gz",
		FilePaths:      []string{"/tmp/" + name + "/a.txt", "/tmp/" + name + "/b.txt"},
		SendTime:       at,
		ConnectionCode: "7-guitar-revenge",
	}
	if err := store.AddSentFile(record); err != nil {
		t.Fatalf("add sent file %q: %v", name, err)
	}
	return record
}
