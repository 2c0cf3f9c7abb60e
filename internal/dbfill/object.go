package dbfill

import (
	"context"
	"path/filepath"

	"github.com/koustreak/dbfill/internal/errs"
)

// ObjectFiller fetches one object from the database's object store into the
// data folder and records it. Paired with a download filler inside a
// CoalesceFiller it serves as a mirror.
//
// With Prefix set instead of Key, every object under Prefix is fetched into
// the folder File, keeping the key layout.
type ObjectFiller struct {
	Base

	Bucket string
	Key    string
	Prefix string

	// File defaults to the key's base name. In prefix mode it is the
	// destination folder and defaults to the data folder itself.
	File string

	// FileCode, when set, records the fetched file in file_hash. Unused in
	// prefix mode.
	FileCode string
}

func NewObjectFiller(opts BaseOptions, bucket, key string) *ObjectFiller {
	f := &ObjectFiller{Base: NewBase(opts), Bucket: bucket, Key: key}
	f.AddRelevant("object", func() string { return f.Bucket + "/" + f.Key + f.Prefix })
	return f
}

// NewObjectPrefixFiller fetches every object of bucket under prefix.
func NewObjectPrefixFiller(opts BaseOptions, bucket, prefix string) *ObjectFiller {
	f := NewObjectFiller(opts, bucket, "")
	f.Prefix = prefix
	return f
}

func (f *ObjectFiller) file() string {
	if f.File == "" {
		return filepath.Base(f.Key)
	}
	return f.File
}

func (f *ObjectFiller) Prepare(ctx context.Context) error {
	if err := f.Base.Prepare(ctx); err != nil {
		return err
	}
	if f.Bucket == "" || (f.Key == "") == (f.Prefix == "") {
		return errs.Newf(errs.ErrKindInvalidInput, "filler %s: a bucket and exactly one of key or prefix are required", f.Name())
	}
	if f.Prefix != "" {
		_, err := f.FetchPrefix(ctx, f.Bucket, f.Prefix, f.File)
		return err
	}
	if err := f.FetchObject(ctx, f.Bucket, f.Key, f.file()); err != nil {
		return err
	}
	if f.FileCode == "" {
		return nil
	}
	return f.RecordFile(ctx, f.file(), f.FileCode)
}
