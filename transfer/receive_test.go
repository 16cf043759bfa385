package transfer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wyrmhole/archive"
	"wyrmhole/config"
	"wyrmhole/session"
)

func receiveOffer(t *testing.T, h *harness, offer *fakeOffer) string {
	t.Helper()
	h.transport.offer = offer
	summary, err := h.engine.BeginReceive(context.Background(), testCode, "conn-1")
	if err != nil {
		t.Fatalf("BeginReceive failed: %v", err)
	}
	return summary.ID
}

// packedArchive returns the bytes of an archive holding the given files
// under a "report" wrapper folder.
func packedArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	src := t.TempDir()
	var paths []string
	for name, content := range files {
		paths = append(paths, writeFile(t, filepath.Join(src, name), content))
	}
	sort.Strings(paths)

	_, path, err := archive.PackInto(context.Background(), t.TempDir(), paths, "report")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestReceiveRejectsEmptyCode(t *testing.T) {
	h := newHarness(t, nil)
	for _, input := range []string{"", "   ", "wormhole receive "} {
		_, err := h.engine.BeginReceive(context.Background(), input, "conn")
		require.ErrorIs(t, err, ErrInvalidCode, "input %q", input)
		assert.Equal(t, msgNoCode, err.Error())
	}
	assert.Equal(t, 0, h.engine.Registry().Connections.Len())
}

func TestReceiveRejectsMalformedCode(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.BeginReceive(context.Background(), "guitar-revenge", "conn")
	require.ErrorIs(t, err, ErrInvalidCode)
	assert.True(t, strings.HasPrefix(err.Error(), "Error parsing code"), err.Error())
}

func TestReceiveNoOffer(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.BeginReceive(context.Background(), "wormhole receive "+testCode, "conn")
	require.ErrorIs(t, err, ErrNoOffer)
	assert.Equal(t, msgNoOffer, err.Error())
	assert.Equal(t, 0, h.engine.Registry().Offers.Len())
	assert.Equal(t, 0, h.engine.Registry().Connections.Len())
}

func TestReceiveRequestFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.requestErr = errBoom
	_, err := h.engine.BeginReceive(context.Background(), testCode, "conn")
	require.ErrorIs(t, err, ErrTransportFailure)
	require.ErrorIs(t, err, errBoom)
}

func TestReceiveSingleFile(t *testing.T) {
	h := newHarness(t, nil)
	offer := &fakeOffer{name: "notes.txt", data: []byte("meeting notes")}

	h.transport.offer = offer
	summary, err := h.engine.BeginReceive(context.Background(), testCode, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", summary.FileName)
	assert.Equal(t, int64(13), summary.FileSize)
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, 1, h.engine.Registry().Offers.Len())
	assert.Equal(t, 0, h.engine.Registry().Connections.Len())

	message, err := h.engine.AcceptOffer(context.Background(), summary.ID)
	require.NoError(t, err)
	target := filepath.Join(h.downloads, "notes.txt")
	assert.Equal(t, "File transfer completed! File saved to "+target, message)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "meeting notes", string(data))

	records := h.history.receivedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "notes", records[0].FileName)
	assert.Equal(t, "txt", records[0].FileExtension)
	assert.Equal(t, int64(13), records[0].FileSize)
	assert.Equal(t, h.downloads, records[0].DownloadURL)
	assert.Equal(t, "relay (lan)", records[0].ConnectionType)
	assert.Equal(t, "192.0.2.9:4001", records[0].PeerAddress)

	last := h.notifier.downloadProgress[len(h.notifier.downloadProgress)-1]
	assert.Equal(t, 100, last.Percentage)
	assert.Equal(t, summary.ID, last.ID)
	assert.Equal(t, 0, h.engine.Registry().Downloads.Len())

	_, err = h.engine.AcceptOffer(context.Background(), summary.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestReceiveNameCollisionGetsSuffix(t *testing.T) {
	h := newHarness(t, nil)
	writeFile(t, filepath.Join(h.downloads, "notes.txt"), "existing")

	id := receiveOffer(t, h, &fakeOffer{name: "notes.txt", data: []byte("new")})
	_, err := h.engine.AcceptOffer(context.Background(), id)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(h.downloads, "notes(1).txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	existing, err := os.ReadFile(filepath.Join(h.downloads, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(existing))

	records := h.history.receivedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "notes(1)", records[0].FileName)
}

func TestReceivePeerNameCannotEscapeDownloadDir(t *testing.T) {
	h := newHarness(t, nil)
	id := receiveOffer(t, h, &fakeOffer{name: "../../escape.txt", data: []byte("x")})
	_, err := h.engine.AcceptOffer(context.Background(), id)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(h.downloads, "escape.txt"))
	require.NoError(t, err)
}

func TestReceiveArchiveAutoExtract(t *testing.T) {
	h := newHarness(t, nil)
	data := packedArchive(t, map[string]string{"a.txt": "alpha", "b.md": "bravo!"})

	id := receiveOffer(t, h, &fakeOffer{name: "report.tar.gz", data: data})
	message, err := h.engine.AcceptOffer(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Tarball extracted! 2 file(s) saved to "+h.downloads, message)

	_, err = os.Stat(filepath.Join(h.downloads, "report.tar.gz"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "archive should be removed after extraction")

	alpha, err := os.ReadFile(filepath.Join(h.downloads, "report", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(alpha))

	records := h.history.receivedRecords()
	require.Len(t, records, 2)
	byName := map[string]int64{}
	for _, r := range records {
		byName[r.FileName+"."+r.FileExtension] = r.FileSize
		assert.Equal(t, h.downloads, r.DownloadURL)
	}
	assert.Equal(t, map[string]int64{"a.txt": 5, "b.md": 6}, byName)
}

func TestReceiveArchiveWithoutAutoExtract(t *testing.T) {
	h := newHarness(t, func(s *config.Settings) {
		s.SetAutoExtract(false)
	})
	data := packedArchive(t, map[string]string{"a.txt": "alpha"})

	id := receiveOffer(t, h, &fakeOffer{name: "report.tar.gz", data: data})
	message, err := h.engine.AcceptOffer(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, message, "auto-extract is disabled")

	_, err = os.Stat(filepath.Join(h.downloads, "report.tar.gz"))
	require.NoError(t, err)

	records := h.history.receivedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "report.tar", records[0].FileName)
	assert.Equal(t, "gz", records[0].FileExtension)
	assert.Equal(t, int64(len(data)), records[0].FileSize)
}

func TestReceiveArchiveWithTraversalEntryFails(t *testing.T) {
	h := newHarness(t, nil)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	id := receiveOffer(t, h, &fakeOffer{name: "evil.tar.gz", data: buf.Bytes()})
	_, err = h.engine.AcceptOffer(context.Background(), id)
	require.ErrorIs(t, err, archive.ErrExtractionFailed)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(h.downloads), "evil.txt"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	_, statErr = os.Stat(filepath.Join(h.downloads, "evil.tar.gz"))
	require.NoError(t, statErr, "the downloaded archive stays on disk")

	assert.Empty(t, h.history.receivedRecords())
	require.Len(t, h.notifier.downloadErrors, 1)
	assert.Equal(t, "evil.tar.gz", h.notifier.downloadErrors[0].FileName)
}

func TestDenyOffer(t *testing.T) {
	h := newHarness(t, nil)
	offer := &fakeOffer{name: "notes.txt", data: []byte("x")}
	id := receiveOffer(t, h, offer)

	require.NoError(t, h.engine.DenyOffer(id))
	assert.Equal(t, int32(1), offer.rejected.Load())
	assert.Equal(t, 0, h.engine.Registry().Offers.Len())

	require.ErrorIs(t, h.engine.DenyOffer(id), session.ErrNotFound)
	_, err := h.engine.AcceptOffer(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestConcurrentAcceptAndDenyExactlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, nil)
		offer := &fakeOffer{name: "notes.txt", data: []byte("x")}
		id := receiveOffer(t, h, offer)

		var (
			wg                 sync.WaitGroup
			acceptErr, denyErr error
			start              = make(chan struct{})
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, acceptErr = h.engine.AcceptOffer(context.Background(), id)
		}()
		go func() {
			defer wg.Done()
			<-start
			denyErr = h.engine.DenyOffer(id)
		}()
		close(start)
		wg.Wait()

		accepted, rejected := offer.accepted.Load(), offer.rejected.Load()
		if accepted+rejected != 1 {
			t.Fatalf("accepted=%d rejected=%d, want exactly one answer", accepted, rejected)
		}
		if accepted == 1 {
			require.NoError(t, acceptErr)
			require.ErrorIs(t, denyErr, session.ErrNotFound)
		} else {
			require.NoError(t, denyErr)
			require.ErrorIs(t, acceptErr, session.ErrNotFound)
		}
	}
}

func TestCancelDownloadSuppressesErrorEvent(t *testing.T) {
	h := newHarness(t, nil)
	id := receiveOffer(t, h, &fakeOffer{name: "big.bin", data: []byte("0123456789"), block: true})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.AcceptOffer(context.Background(), id)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.engine.Registry().Downloads.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.engine.CancelDownload(id))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrUserCancelled)
	case <-time.After(2 * time.Second):
		t.Fatalf("download did not observe cancellation")
	}

	_, downloadErrors, _ := h.notifier.counts()
	assert.Equal(t, 0, downloadErrors)
	assertDirEmpty(t, h.downloads)
	assert.Empty(t, h.history.receivedRecords())
	require.ErrorIs(t, h.engine.CancelDownload(id), session.ErrNotFound)
}

func TestDownloadIdleTimeout(t *testing.T) {
	h := newHarness(t, func(s *config.Settings) {
		s.DownloadIdleTimeout = config.Duration(50 * time.Millisecond)
	})
	id := receiveOffer(t, h, &fakeOffer{name: "stall.bin", data: []byte("0123456789"), block: true})

	_, err := h.engine.AcceptOffer(context.Background(), id)
	require.ErrorIs(t, err, ErrIdleTimeout)
	assert.Equal(t, msgIdle, err.Error())

	require.Len(t, h.notifier.downloadErrors, 1)
	assert.Equal(t, "stall.bin", h.notifier.downloadErrors[0].FileName)
	assertDirEmpty(t, h.downloads)
}

func TestDownloadTransportFailureRemovesPartialFile(t *testing.T) {
	h := newHarness(t, nil)
	id := receiveOffer(t, h, &fakeOffer{name: "broken.bin", data: []byte("abc"), err: errBoom})

	_, err := h.engine.AcceptOffer(context.Background(), id)
	require.ErrorIs(t, err, ErrTransportFailure)
	require.ErrorIs(t, err, errBoom)
	require.Len(t, h.notifier.downloadErrors, 1)
	assertDirEmpty(t, h.downloads)
}

func TestCancelConnectionAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.connectGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.BeginReceive(context.Background(), testCode, "conn-wait")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.engine.Registry().Connections.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.engine.CancelConnectionAttempt("conn-wait"))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrUserCancelled)
	case <-time.After(2 * time.Second):
		t.Fatalf("receive did not observe cancellation")
	}
	assert.Equal(t, 0, h.engine.Registry().Connections.Len())
	require.ErrorIs(t, h.engine.CancelConnectionAttempt("conn-wait"), session.ErrNotFound)
}

func TestReceiveDuplicateConnectionID(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Registry().Connections.Insert("conn-dup", session.Connection{Token: session.NewCancelToken()}))

	_, err := h.engine.BeginReceive(context.Background(), testCode, "conn-dup")
	require.ErrorIs(t, err, session.ErrDuplicateID)
}

func TestReceiveConnectFailureReportsMailbox(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.connectErr = errors.New("nameplate not found")

	_, err := h.engine.BeginReceive(context.Background(), testCode, "conn")
	require.ErrorIs(t, err, ErrTransportFailure)
	assert.Equal(t, "Failed to create mailbox: nameplate not found", err.Error())
	assert.Equal(t, 0, h.engine.Registry().Connections.Len())
}

func TestReceiveLeadingDotNameCollision(t *testing.T) {
	h := newHarness(t, nil)
	writeFile(t, filepath.Join(h.downloads, ".bashrc"), "existing")

	id := receiveOffer(t, h, &fakeOffer{name: ".bashrc", data: []byte("alias ll='ls -l'")})
	_, err := h.engine.AcceptOffer(context.Background(), id)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(h.downloads, "(1).bashrc"))
	require.NoError(t, err)
	records := h.history.receivedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "", records[0].FileName)
	assert.Equal(t, "bashrc", records[0].FileExtension)
}
