package server

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// listMode selects which of the four textual shapes formatEntry renders,
// matching the session's xferDirMode.
type listMode int

const (
	modeNLST listMode = iota
	modeLIST
	modeSTAT
	modeMLSx
)

// formatEntry renders one directory entry exactly as ftpd's fillDirent
// does, honoring the enabled MLST facts. displayPath is the path text
// written after the fact/permission fields (already encodePath'd by the
// caller).
func formatEntry(mode listMode, info os.FileInfo, displayPath string, facts map[string]bool, now time.Time) string {
	switch mode {
	case modeNLST:
		return displayPath + "\r\n"
	case modeMLSx:
		return mlsxFactLine(info, displayPath, facts)
	default: // modeLIST, modeSTAT
		return lsLine(info, displayPath, now)
	}
}

// mlsxFactLine builds the "Type=...;Size=...;... path\r\n" line MLSD/MLST
// emit. The caller prepends a leading space for MLST (the line then sits
// inside a "250-" continuation); MLSD lines have no leading space.
func mlsxFactLine(info os.FileInfo, displayPath string, facts map[string]bool) string {
	var b strings.Builder

	if facts["type"] {
		b.WriteString("Type=")
		b.WriteString(entryType(info))
		b.WriteByte(';')
	}
	if facts["size"] {
		fmt.Fprintf(&b, "Size=%d;", info.Size())
	}
	if facts["modify"] {
		b.WriteString("Modify=")
		b.WriteString(info.ModTime().UTC().Format("20060102150405"))
		b.WriteByte(';')
	}
	if facts["perm"] {
		b.WriteString("Perm=")
		b.WriteString(permFacts(info))
		b.WriteByte(';')
	}
	if facts["unix.mode"] {
		bits, _ := platformModeBits(info)
		fmt.Fprintf(&b, "UNIX.mode=0%o;", bits)
	}

	b.WriteByte(' ')
	b.WriteString(displayPath)
	b.WriteString("\r\n")
	return b.String()
}

func entryType(info os.FileInfo) string {
	mode := info.Mode()
	switch {
	case mode.IsDir():
		return "dir"
	case mode.IsRegular():
		return "file"
	case mode&os.ModeSymlink != 0:
		return "os.unix=symlink"
	case mode&os.ModeCharDevice != 0:
		return "os.unix=character"
	case mode&os.ModeDevice != 0:
		return "os.unix=block"
	case mode&os.ModeNamedPipe != 0:
		return "os.unix=fifo"
	case mode&os.ModeSocket != 0:
		return "os.unix=socket"
	default:
		return "???"
	}
}

// permFacts derives the RFC 3659 Perm= subset from the entry's type and
// owner write/read/execute bits, mirroring fillDirent's bit tests
// exactly: a writable regular file gets "a" (append) and "w" (write); a
// readable one gets "r"; a writable directory gets "c" (create),
// "m"/"p" (mkdir/purge); a readable+executable directory gets "l"
// (list) and "e" (chdir); "d" (delete) and "f" (rename) always hold.
func permFacts(info os.FileInfo) string {
	mode := info.Mode()
	isDir := mode.IsDir()
	isRegular := mode.IsRegular()
	ownerRead := mode.Perm()&0400 != 0
	ownerWrite := mode.Perm()&0200 != 0
	ownerExec := mode.Perm()&0100 != 0

	var b strings.Builder
	if isRegular && ownerWrite {
		b.WriteByte('a')
	}
	if isDir && ownerWrite {
		b.WriteByte('c')
	}
	b.WriteByte('d')
	if isDir && ownerExec {
		b.WriteByte('e')
	}
	b.WriteByte('f')
	if isDir && ownerRead {
		b.WriteByte('l')
	}
	if isDir && ownerWrite {
		b.WriteByte('m')
	}
	if isDir && ownerWrite {
		b.WriteByte('p')
	}
	if isRegular && ownerRead {
		b.WriteByte('r')
	}
	if isRegular && ownerWrite {
		b.WriteByte('w')
	}
	return b.String()
}

// lsLine renders the "ls -l"-style line LIST and STAT-with-argument use.
func lsLine(info os.FileInfo, displayPath string, now time.Time) string {
	owner, group := platformOwnerGroup(info)

	var timeField string
	age := now.Sub(info.ModTime())
	const sixMonths = 183 * 24 * time.Hour
	if age >= sixMonths || age < 0 {
		timeField = info.ModTime().Format("Jan _2  2006")
	} else {
		timeField = info.ModTime().Format("Jan _2 15:04")
	}

	return fmt.Sprintf("%s %d %s %s %d %s %s\r\n",
		lsModeString(info), 1, owner, group, info.Size(), timeField, displayPath)
}

// lsModeString renders the type+rwx triad ls -l shows, e.g. "drwxr-xr-x".
func lsModeString(info os.FileInfo) string {
	mode := info.Mode()

	var typeChar byte
	switch {
	case mode.IsDir():
		typeChar = 'd'
	case mode&os.ModeSymlink != 0:
		typeChar = 'l'
	case mode&os.ModeCharDevice != 0:
		typeChar = 'c'
	case mode&os.ModeDevice != 0:
		typeChar = 'b'
	case mode&os.ModeNamedPipe != 0:
		typeChar = 'p'
	case mode&os.ModeSocket != 0:
		typeChar = 's'
	default:
		typeChar = '-'
	}

	perm := mode.Perm()
	bits := [9]byte{'r', 'w', 'x', 'r', 'w', 'x', 'r', 'w', 'x'}
	for i := range bits {
		shift := uint(8 - i)
		if perm&(1<<shift) == 0 {
			bits[i] = '-'
		}
	}

	return string(typeChar) + string(bits[:])
}
