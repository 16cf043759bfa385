package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxSuffixAttempts bounds the numbered-suffix search before UniquePath falls back to a timestamp.
const MaxSuffixAttempts = 10000

// now is swapped in tests to pin the fallback timestamp.
var now = time.Now

// UniquePath returns dir/name, or the first free "stem(n)ext" variant when
// dir/name already exists. It never creates the file.
func UniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate
	}

	stem, ext := SplitExtension(name)
	for n := 1; n <= MaxSuffixAttempts; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", stem, n, ext))
		if !exists(candidate) {
			return candidate
		}
	}

	stamp := now().UTC().Format("20060102_150405")
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, stamp, ext))
}

// SplitExtension splits name on its final dot. The returned extension keeps
// the dot. Names without a dot have an empty extension; a leading-dot name
// such as ".bashrc" has an empty stem.
func SplitExtension(name string) (stem, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}

// StemAndExtension is SplitExtension without the dot on the extension, the
// shape stored in transfer history.
func StemAndExtension(name string) (stem, ext string) {
	stem, ext = SplitExtension(name)
	return stem, strings.TrimPrefix(ext, ".")
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	if err == nil {
		return true
	}
	// Permission and other stat errors count as taken so we never clobber.
	return !errors.Is(err, fs.ErrNotExist)
}
