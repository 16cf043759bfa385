// Package archive packs one or more files and folders into a single
// gzip-compressed tar stream and unpacks such streams on receipt.
package archive

import (
	"errors"
	"fmt"
	"strings"
)

// Extension is appended to every archive this package writes.
const Extension = ".gz"

// tempPrefix names temporary archives so leftovers are recognisable in the temp dir.
const tempPrefix = "wyrmhole_send_"

var (
	// ErrSourceMissing indicates a source path vanished before it could be packed.
	ErrSourceMissing = errors.New("archive: source missing")
	// ErrArchiveWriteFailed indicates a local I/O failure while writing an archive.
	ErrArchiveWriteFailed = errors.New("archive: write failed")
	// ErrInvalidWrapper indicates a wrapper folder name that is not a single path element.
	ErrInvalidWrapper = errors.New("archive: invalid wrapper name")
	// ErrExtractionFailed indicates an entry could not be read or written during unpack.
	ErrExtractionFailed = errors.New("archive: extraction failed")
)

// Extracted describes one regular file written by Unpack.
type Extracted struct {
	// Name is the final path component only.
	Name string
	// Path is where the file was written.
	Path string
	Size int64
}

var archiveSuffixes = []string{".tar.gz", ".tgz", ".gz"}

// IsArchiveName reports whether name carries a suffix that auto-extraction recognises.
func IsArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// ValidateWrapper checks that name can be used as the top-level folder of an
// archive: non-empty, not "." or "..", and free of path separators.
func ValidateWrapper(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: folder name is required", ErrInvalidWrapper)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidWrapper, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidWrapper, name)
	}
	return nil
}
