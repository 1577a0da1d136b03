package server

import (
	"github.com/gonzalop/goftpd/internal/pathcodec"
)

// resolveArg turns a command argument into the canonical absolute virtual
// path it names, per PathCodec: build against cwd, then lexically resolve
// (after verifying the parent is a directory) without ever following
// symlinks.
func (s *session) resolveArg(arg string) (string, error) {
	built := pathcodec.BuildPath(s.cwd, arg)
	return pathcodec.Resolve(built, s.statDir)
}

func (s *session) statDir(dir string) (bool, error) {
	info, err := s.fs.GetFileInfo(dir)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
