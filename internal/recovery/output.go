package recovery

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubifs"
)

// WriteTree writes fs's live directory tree (rooted at inode 1) into dir,
// and, when result is non-nil, a sibling "deleted/" subtree holding every
// recovered object, per spec.md §4.4's "Output for recovery command".
func WriteTree(fs *ubifs.FS, dir string, result *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeLiveDir(fs, 1, dir); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	deletedDir := filepath.Join(dir, "deleted")
	if err := os.MkdirAll(deletedDir, 0o755); err != nil {
		return err
	}
	for _, df := range result.Deleted {
		name := df.Name
		if name == "" {
			name = fmt.Sprintf("inode_%d", df.Inode)
		}
		if err := os.WriteFile(filepath.Join(deletedDir, sanitizeName(name)), df.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// writeLiveDir recursively writes the live contents of the directory at
// inum into dir.
func writeLiveDir(fs *ubifs.FS, inum uint32, dir string) error {
	dents, err := fs.ListDir(inum)
	if err != nil {
		return err
	}
	for _, d := range dents {
		name := sanitizeName(string(d.Name))
		child := uint32(d.Inum)
		ino, err := fs.StatInode(child)
		if err != nil {
			continue
		}
		if ino.Type() == types.ITypeDir {
			sub := filepath.Join(dir, name)
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return err
			}
			if err := writeLiveDir(fs, child, sub); err != nil {
				return err
			}
			continue
		}
		if ino.Type() == types.ITypeLnk {
			if err := os.Symlink(fs.ReadSymlink(ino), filepath.Join(dir, name)); err != nil {
				continue
			}
			continue
		}
		content, err := fs.ReadFile(child, ino.Size)
		if err != nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeName strips any path separators a recovered name might carry so
// a malformed on-flash name can never escape the output directory.
func sanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	base := filepath.Base(filepath.Clean(string(filepath.Separator) + name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "_"
	}
	return base
}
