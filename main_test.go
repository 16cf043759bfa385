package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wyrmhole/models"
	"wyrmhole/storage"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes ", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.input), &out, "Accept? "); got != tt.want {
			t.Fatalf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		assert.Equal(t, "Accept? ", out.String())
	}
}

func TestJoinName(t *testing.T) {
	assert.Equal(t, "notes.txt", joinName("notes", "txt"))
	assert.Equal(t, "Makefile", joinName("Makefile", ""))
	assert.Equal(t, "report.tar.gz", joinName("report.tar", "gz"))
}

func TestConsoleNotifierThrottlesProgress(t *testing.T) {
	n := newConsoleNotifier()
	for _, pct := range []int{0, 3, 9, 10, 15, 50, 100} {
		n.DownloadProgress(models.DownloadProgress{ID: "d", FileName: "a", Percentage: pct, Total: 100})
	}
	assert.Equal(t, 10, n.lastPercent["d"])

	n.SendProgress(models.SendProgress{ID: "s", Status: models.PhaseWaiting})
	_, seen := n.lastPercent["s"]
	assert.False(t, seen)
}

func TestNewAppCommands(t *testing.T) {
	app := newApp()
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"send", "receive", "history", "export", "relay-check", "settings"}, names)
}

func TestShowRecord(t *testing.T) {
	store, err := storage.OpenPath(filepath.Join(t.TempDir(), storage.DefaultDBFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.AddSentFile(models.SentRecord{
		ID:             "sent-1",
		FileName:       "notes",
		FileExtension:  "txt",
		FileSize:       5,
		FilePaths:      []string{"/tmp/notes.txt"},
		ConnectionCode: "7-guitar-revenge",
	}))

	var out bytes.Buffer
	require.NoError(t, showRecord(store, storage.HistorySent, "sent-1", &out))
	var got models.SentRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "notes", got.FileName)
	assert.Equal(t, "7-guitar-revenge", got.ConnectionCode)

	err = showRecord(store, storage.HistoryReceived, "sent-1", &out)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	assert.Error(t, showRecord(store, "other", "sent-1", &out))
}
