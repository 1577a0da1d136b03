// Package pathcodec implements the server's path construction, lexical
// resolution, and wire encoding. Resolution is purely lexical — it never
// consults the filesystem to follow symlinks — because FTP's "cd .." must
// undo a "cd symlink" logically, not physically (see ftpd's resolvePath).
package pathcodec

import (
	"fmt"
	"strings"
)

// StatDir reports whether a resolved path's parent is a directory. Callers
// supply this so the package stays filesystem-agnostic; the server wires it
// to its Driver.
type StatDir func(dir string) (isDir bool, err error)

// BuildPath builds an absolute path from a current working directory and a
// command argument. If arg is absolute it is used as-is; otherwise it is
// joined to cwd. Consecutive slashes are then coalesced.
func BuildPath(cwd, arg string) string {
	var path string
	if strings.HasPrefix(arg, "/") {
		path = arg
	} else {
		path = cwd + "/" + arg
	}

	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DirName returns everything before the final '/' in path, or "/" for a
// top-level path.
func DirName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// ErrNotDir is returned by Resolve when the immediate parent of path is not
// a directory.
var ErrNotDir = fmt.Errorf("not a directory")

// Resolve lexically collapses "." and ".." components of an absolute path,
// never climbing above "/", and returns the canonical absolute form: no ".",
// no "..", no doubled slashes, a single leading slash, no trailing slash
// unless the result is "/" itself.
//
// statDir is consulted on the resolved path's immediate parent directory
// (via DirName on the *input* path, matching ftpd's resolvePath) before any
// resolution happens; if that parent is not a directory, Resolve fails with
// ErrNotDir.
func Resolve(path string, statDir StatDir) (string, error) {
	if path == "" || path[0] != '/' {
		return "", fmt.Errorf("pathcodec: Resolve requires an absolute path, got %q", path)
	}

	if statDir != nil {
		isDir, err := statDir(DirName(path))
		if err != nil {
			return "", err
		}
		if !isDir {
			return "", ErrNotDir
		}
	}

	var components []string
	for _, c := range strings.Split(path, "/") {
		switch c {
		case "", ".":
			// drop
		case "..":
			if len(components) > 0 {
				components = components[:len(components)-1]
			}
		default:
			components = append(components, c)
		}
	}

	if len(components) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(components, "/"), nil
}

// EncodePath encodes a path for the wire: embedded '\n' becomes NUL (the
// server's internal sentinel for a literal newline in a filename), and, if
// quotes is true, every '"' is doubled — the quoting PWD/MKD/XMKD replies
// need per RFC 959.
func EncodePath(s string, quotes bool) string {
	if !strings.ContainsRune(s, '\n') && (!quotes || !strings.ContainsRune(s, '"')) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteByte(0)
		case quotes && r == '"':
			b.WriteString(`""`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DecodePath is the inverse of EncodePath's newline handling: inbound NUL
// bytes become '\n'. It operates on raw bytes, since inbound command text
// may contain arbitrary bytes before decoding.
func DecodePath(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c == 0 {
			out[i] = '\n'
		} else {
			out[i] = c
		}
	}
	return out
}
