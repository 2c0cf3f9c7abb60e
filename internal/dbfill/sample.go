package dbfill

import (
	"context"

	"github.com/koustreak/dbfill/internal/fetch"
)

const (
	// SampleURL is the artifact SampleFiller downloads by default.
	SampleURL = "https://www.google.fr/images/branding/googlelogo/1x/googlelogo_color_272x92dp.png"

	// SampleFileCode is the file_hash code SampleFiller records under.
	SampleFileCode = "test_file"
)

// SampleFiller downloads one file and records its hash. It exercises the
// whole lifecycle without touching user tables.
type SampleFiller struct {
	Base

	// URL defaults to SampleURL.
	URL string
}

func NewSampleFiller(opts BaseOptions) *SampleFiller {
	f := &SampleFiller{Base: NewBase(opts)}
	f.AddRelevant("url", f.url)
	return f
}

func (f *SampleFiller) url() string {
	if f.URL == "" {
		return SampleURL
	}
	return f.URL
}

func (f *SampleFiller) Prepare(ctx context.Context) error {
	if err := f.Base.Prepare(ctx); err != nil {
		return err
	}
	name := fetch.FileNameFromURL(f.url())
	if err := f.Download(ctx, f.url(), name, false); err != nil {
		return err
	}
	return f.RecordFile(ctx, name, SampleFileCode)
}
