package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// Unpack extracts every regular file in archivePath under destDir,
// preserving relative paths. Directory entries are skipped. Files written
// before a failure are left on disk.
func Unpack(archivePath, destDir string) ([]Extracted, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrExtractionFailed, archivePath, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip header: %w", ErrExtractionFailed, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var extracted []Extracted
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("%w: read entry: %w", ErrExtractionFailed, err)
		}

		if header.Typeflag == tar.TypeDir {
			continue
		}
		if header.Typeflag != tar.TypeReg {
			logrus.WithFields(logrus.Fields{
				"function": "Unpack",
				"entry":    header.Name,
				"type":     string(header.Typeflag),
			}).Debug("skipping non-regular archive entry")
			continue
		}

		rel, err := safeRelativePath(header.Name)
		if err != nil {
			return extracted, err
		}

		target := filepath.Join(destDir, rel)
		size, err := writeEntry(tr, target, header.FileInfo().Mode().Perm())
		if err != nil {
			return extracted, err
		}

		extracted = append(extracted, Extracted{
			Name: path.Base(filepath.ToSlash(rel)),
			Path: target,
			Size: size,
		})
	}

	return extracted, nil
}

// safeRelativePath rejects absolute entries and entries that climb out of the destination.
func safeRelativePath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute entry path %q", ErrExtractionFailed, name)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: entry path escapes destination %q", ErrExtractionFailed, name)
	}
	return filepath.FromSlash(cleaned), nil
}

func writeEntry(r io.Reader, target string, perm os.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("%w: create directory for %s: %w", ErrExtractionFailed, target, err)
	}

	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrExtractionFailed, target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("%w: write %s: %w", ErrExtractionFailed, target, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("%w: close %s: %w", ErrExtractionFailed, target, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", ErrExtractionFailed, target, err)
	}
	return info.Size(), nil
}
