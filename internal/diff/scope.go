package diff

import (
	"path/filepath"
	"strings"
)

// Scope restricts a diff to the paths a caller materializes. Files and
// Folders hold absolute entries under Root as built by the scope package;
// folder entries end with a separator and file entries may start with "*".
type Scope struct {
	Root    string
	Files   []string
	Folders []string
}

// matcher holds a Scope converted to repository-relative slash paths.
type matcher struct {
	all      bool
	folders  []string // "src/app/"
	files    map[string]bool
	suffixes []string // from "*.txt" → ".txt"
}

func newMatcher(s Scope) *matcher {
	m := &matcher{files: make(map[string]bool)}
	if len(s.Files) == 0 && len(s.Folders) == 0 {
		m.all = true
		return m
	}

	for _, f := range s.Folders {
		rel := relative(s.Root, f)
		if rel == "" {
			m.all = true
			continue
		}
		m.folders = append(m.folders, strings.TrimSuffix(rel, "/")+"/")
	}
	for _, f := range s.Files {
		if strings.HasPrefix(f, "*") {
			m.suffixes = append(m.suffixes, filepath.ToSlash(f[1:]))
			continue
		}
		if rel := relative(s.Root, f); rel != "" {
			m.files[rel] = true
		}
	}
	return m
}

// relative converts an absolute scope entry to a slash path under root.
func relative(root, p string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	p = filepath.ToSlash(p)
	if p == "." || p == "./" {
		return ""
	}
	keepSlash := strings.HasSuffix(p, "/")
	p = strings.Trim(p, "/")
	if p != "" && keepSlash {
		p += "/"
	}
	return p
}

// matchFile reports whether the blob at path is in scope.
func (m *matcher) matchFile(path string) bool {
	if m.all || m.files[path] {
		return true
	}
	for _, f := range m.folders {
		if strings.HasPrefix(path, f) {
			return true
		}
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// matchDir reports whether anything under dir (ending in "/") can be in scope.
func (m *matcher) matchDir(dir string) bool {
	if m.all || len(m.suffixes) > 0 {
		return true
	}
	for _, f := range m.folders {
		if strings.HasPrefix(f, dir) || strings.HasPrefix(dir, f) {
			return true
		}
	}
	for f := range m.files {
		if strings.HasPrefix(f, dir) {
			return true
		}
	}
	return false
}
