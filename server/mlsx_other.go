//go:build !unix

package server

import "os"

// platformModeBits has no kernel stat structure to consult on this
// platform; fall back to the portable permission bits Go already parsed.
func platformModeBits(info os.FileInfo) (uint32, bool) {
	return uint32(info.Mode().Perm()), false
}

// platformOwnerGroup renders constant tokens on platforms with no notion
// of uid/gid, matching the spec's "constant tokens on constrained
// platforms" requirement.
func platformOwnerGroup(os.FileInfo) (owner, group string) {
	return "ftpd", "ftpd"
}
