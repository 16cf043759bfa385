package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// Pack writes sources into a new archive under os.TempDir(). See PackInto.
func Pack(ctx context.Context, sources []string, wrapper string) (int64, string, error) {
	return PackInto(ctx, os.TempDir(), sources, wrapper)
}

// PackInto writes every source under wrapper/<basename> into a new gzip
// tar archive created in dir, in the order given. Directories are added
// recursively. The returned size is read back from disk after all writers
// are closed. On any failure the partial archive is removed.
func PackInto(ctx context.Context, dir string, sources []string, wrapper string) (size int64, archivePath string, err error) {
	if err := ValidateWrapper(wrapper); err != nil {
		return 0, "", err
	}
	if len(sources) == 0 {
		return 0, "", errors.New("archive: at least one source is required")
	}

	started := time.Now()
	archivePath = filepath.Join(dir, tempPrefix+uuid.NewString()+"_"+wrapper+Extension)

	file, err := os.OpenFile(archivePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, "", fmt.Errorf("%w: create %s: %w", ErrArchiveWriteFailed, archivePath, err)
	}

	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(archivePath)
			archivePath = ""
			size = 0
		}
	}()

	gz, err := gzip.NewWriterLevel(file, gzip.BestSpeed)
	if err != nil {
		return 0, "", fmt.Errorf("%w: gzip writer: %w", ErrArchiveWriteFailed, err)
	}
	tw := tar.NewWriter(gz)

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
		if err := addSource(ctx, tw, source, wrapper); err != nil {
			return 0, "", err
		}
	}

	if err := tw.Close(); err != nil {
		return 0, "", fmt.Errorf("%w: finish tar: %w", ErrArchiveWriteFailed, err)
	}
	if err := gz.Close(); err != nil {
		return 0, "", fmt.Errorf("%w: finish gzip: %w", ErrArchiveWriteFailed, err)
	}
	if err := file.Sync(); err != nil {
		return 0, "", fmt.Errorf("%w: sync: %w", ErrArchiveWriteFailed, err)
	}
	if err := file.Close(); err != nil {
		return 0, "", fmt.Errorf("%w: close: %w", ErrArchiveWriteFailed, err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, "", fmt.Errorf("%w: stat: %w", ErrArchiveWriteFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "PackInto",
		"wrapper":  wrapper,
		"sources":  len(sources),
		"bytes":    info.Size(),
		"elapsed":  time.Since(started),
	}).Debug("archive created")

	return info.Size(), archivePath, nil
}

func addSource(ctx context.Context, tw *tar.Writer, source, wrapper string) error {
	// Sources may disappear between the request and packing. Stat follows
	// a symlinked source to what it points at.
	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: file or folder does not exist: %s", ErrSourceMissing, source)
		}
		return fmt.Errorf("%w: stat %s: %w", ErrArchiveWriteFailed, source, err)
	}

	prefix := path.Join(wrapper, filepath.Base(filepath.Clean(source)))
	return addPath(ctx, tw, source, prefix, info, map[string]bool{})
}

// addPath writes source under name. Symlinks are followed, so linked files
// are stored as regular files and linked folders are recursed into. open
// holds the resolved folders on the current branch to break link cycles.
func addPath(ctx context.Context, tw *tar.Writer, source, name string, info fs.FileInfo, open map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			logrus.WithFields(logrus.Fields{
				"function": "addPath",
				"path":     source,
				"mode":     info.Mode().String(),
			}).Debug("skipping non-regular file")
			return nil
		}
		return addEntry(tw, source, name, info)
	}

	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrArchiveWriteFailed, source, err)
	}
	if open[resolved] {
		logrus.WithFields(logrus.Fields{
			"function": "addPath",
			"path":     source,
		}).Warn("skipping symlink loop")
		return nil
	}
	open[resolved] = true
	defer delete(open, resolved)

	if err := addEntry(tw, source, name, info); err != nil {
		return err
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return fmt.Errorf("%w: read directory %s: %w", ErrArchiveWriteFailed, source, err)
	}
	for _, entry := range entries {
		child := filepath.Join(source, entry.Name())
		childInfo, err := os.Stat(child)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Dangling symlink.
				logrus.WithFields(logrus.Fields{
					"function": "addPath",
					"path":     child,
				}).Warn("skipping broken symlink")
				continue
			}
			return fmt.Errorf("%w: stat %s: %w", ErrArchiveWriteFailed, child, err)
		}
		if err := addPath(ctx, tw, child, path.Join(name, entry.Name()), childInfo, open); err != nil {
			return err
		}
	}
	return nil
}

func addEntry(tw *tar.Writer, source, name string, info fs.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("%w: header for %s: %w", ErrArchiveWriteFailed, source, err)
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("%w: write header %s: %w", ErrArchiveWriteFailed, name, err)
	}
	if info.IsDir() {
		return nil
	}

	file, err := os.Open(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: file or folder does not exist: %s", ErrSourceMissing, source)
		}
		return fmt.Errorf("%w: open %s: %w", ErrArchiveWriteFailed, source, err)
	}
	defer file.Close()

	// The header size came from the earlier stat; a file that grew since
	// must not overflow its entry.
	if _, err := io.Copy(tw, io.LimitReader(file, header.Size)); err != nil {
		return fmt.Errorf("%w: copy %s: %w", ErrArchiveWriteFailed, source, err)
	}
	return nil
}
