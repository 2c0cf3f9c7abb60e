// Package fetch holds the leaf I/O helpers fillers call while preparing:
// HTTP download, zip extraction, spreadsheet to CSV conversion and git
// repository clone/update. They know nothing about databases or fillers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/koustreak/dbfill/internal/errs"
)

// DownloadOptions tweaks Download.
type DownloadOptions struct {
	// Gzip compresses the payload while writing it to disk.
	Gzip bool

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// FileNameFromURL returns the last path segment of rawURL, the default
// destination name of a download.
func FileNameFromURL(rawURL string) string {
	return path.Base(rawURL)
}

// Download fetches url into dest. The body is streamed into a temporary file
// next to dest which is renamed on success, so an interrupted download never
// leaves a truncated artifact behind.
func Download(ctx context.Context, url, dest string, opts DownloadOptions) error {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "invalid download url", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, fmt.Sprintf("download %s failed", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := errs.ErrKindQueryFailed
		if resp.StatusCode == http.StatusNotFound {
			kind = errs.ErrKindNotFound
		}
		return errs.Newf(kind, "download %s: unexpected status %s", url, resp.Status)
	}

	return writeAtomic(dest, func(w io.Writer) error {
		if !opts.Gzip {
			_, err := io.Copy(w, resp.Body)
			return err
		}
		zw := gzip.NewWriter(w)
		if _, err := io.Copy(zw, resp.Body); err != nil {
			return err
		}
		return zw.Close()
	})
}

// writeAtomic writes dest through a temporary file in the same folder.
func writeAtomic(dest string, write func(w io.Writer) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "create destination folder", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "create temporary file", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("write %s", dest), err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("write %s", dest), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("move %s into place", dest), err)
	}
	return nil
}
