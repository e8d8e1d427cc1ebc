// Package scope builds the absolute file and folder lists that restrict a
// fetch to the parts of the enlistment the caller wants materialized.
//
// Folder entries always carry exactly one trailing separator and never contain
// a wildcard. File entries may start with a single "*" (a suffix match that is
// interpreted by the diff stage) and must not end with a separator.
package scope

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	entrySeparator = ";"
	commentPrefix  = "#"
	wildcard       = "*"
)

// ErrInvalidScope is matched by every InvalidScopeError.
var ErrInvalidScope = errors.New("invalid scope")

// InvalidScopeError reports a file or folder entry that cannot be used to
// restrict a fetch.
type InvalidScopeError struct {
	Entry  string
	Reason string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid scope entry '%s': %s", e.Entry, e.Reason)
}

func (e *InvalidScopeError) Unwrap() error {
	return ErrInvalidScope
}

// LoadFolders parses a semicolon separated folder list, optionally extended by
// the lines of listFile, into absolute folder paths under root.
func LoadFolders(root, folders, listFile string) ([]string, error) {
	entries := splitEntries(folders)
	if listFile != "" {
		listed, err := readListFile(listFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, listed...)
	}

	result := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, wildcard) {
			return nil, &InvalidScopeError{Entry: entry, Reason: "wildcards are not supported for folders"}
		}
		abs := ToAbsolutePath(root, entry, true)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		result = append(result, abs)
	}
	return result, nil
}

// LoadFiles parses a semicolon separated file list into absolute file paths
// under root. A leading "*" is kept verbatim.
func LoadFiles(root, files string) ([]string, error) {
	entries := splitEntries(files)

	result := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if strings.LastIndex(entry, wildcard) > 0 {
			return nil, &InvalidScopeError{Entry: entry, Reason: "wildcards are only supported as the first character"}
		}
		if endsWithSeparator(entry) {
			return nil, &InvalidScopeError{Entry: entry, Reason: "file entries must not end with a path separator — use folders instead"}
		}
		abs := ToAbsolutePath(root, entry, false)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		result = append(result, abs)
	}
	return result, nil
}

// ToAbsolutePath converts a scope entry into an absolute path under root.
// Entries starting with "*" are returned unchanged. Folders get exactly one
// trailing separator. Applying it to its own output is a no-op.
func ToAbsolutePath(root, path string, isFolder bool) string {
	if strings.HasPrefix(path, wildcard) {
		return path
	}

	root = filepath.Clean(root)
	normalized := normalizeSeparators(path)

	var abs string
	if normalized == root || strings.HasPrefix(normalized, root+string(filepath.Separator)) {
		abs = filepath.Clean(normalized)
	} else {
		abs = filepath.Join(root, strings.TrimLeft(normalized, string(filepath.Separator)))
	}

	if isFolder {
		return strings.TrimRight(abs, string(filepath.Separator)) + string(filepath.Separator)
	}
	return abs
}

func splitEntries(raw string) []string {
	var entries []string
	for _, part := range strings.Split(raw, entrySeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		entries = append(entries, part)
	}
	return entries
}

func readListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, &InvalidScopeError{Entry: path, Reason: "folder list file does not exist"}
	}
	if err != nil {
		return nil, fmt.Errorf("opening folder list %s: %w", path, err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading folder list %s: %w", path, err)
	}
	return entries, nil
}

func normalizeSeparators(path string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return filepath.Separator
		}
		return r
	}, path)
}

func endsWithSeparator(path string) bool {
	return strings.HasSuffix(path, "/") || strings.HasSuffix(path, "\\")
}
