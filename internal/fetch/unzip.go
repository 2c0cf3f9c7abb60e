package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/koustreak/dbfill/internal/errs"
)

// Unzip extracts every entry of the archive src into destDir. Entries whose
// path would land outside destDir are rejected. When removeSrc is set the
// archive is deleted after a successful extraction.
func Unzip(src, destDir string, removeSrc bool) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Wrap(errs.ErrKindNotFound, fmt.Sprintf("archive %s", src), err)
		}
		return errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("open archive %s", src), err)
	}
	defer r.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "resolve destination", err)
	}

	for _, f := range r.File {
		target := filepath.Join(root, f.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return errs.Newf(errs.ErrKindInvalidInput, "archive entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errs.Wrap(errs.ErrKindQueryFailed, "create folder", err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}

	if removeSrc {
		r.Close()
		if err := os.Remove(src); err != nil {
			return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("remove archive %s", src), err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "create folder", err)
	}
	rc, err := f.Open()
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("open entry %s", f.Name), err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode().Perm()|0o600)
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("create %s", target), err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("extract %s", f.Name), err)
	}
	return out.Close()
}
