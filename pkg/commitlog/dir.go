package commitlog

import "os"

// ensureDir creates path (and parents) if missing and returns it
// unchanged, so callers can chain it into a filepath.Join expression.
func ensureDir(path string) string {
	_ = os.MkdirAll(path, 0755)
	return path
}
