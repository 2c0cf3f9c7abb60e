package dbfill

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/koustreak/dbfill/internal/errs"
	"github.com/koustreak/dbfill/internal/fetch"
	"github.com/koustreak/dbfill/internal/filestore"
	"github.com/koustreak/dbfill/internal/logger"
)

// Filler is one step of the fill queue. Implementations embed Base and
// override the hooks they need; embedding Base is the only way to satisfy
// the interface.
type Filler interface {
	Name() string
	Done() bool

	// Prepare acquires the filler's inputs (downloads, conversions). It may
	// mark the filler done to skip Apply.
	Prepare(ctx context.Context) error

	// CheckRequirements is consulted between Prepare and Apply. false halts
	// the run.
	CheckRequirements(ctx context.Context) (bool, error)

	// Apply writes to the database.
	Apply(ctx context.Context) error

	// AfterInsert runs once when the filler is registered.
	AfterInsert(ctx context.Context) error

	// PostApply runs after a successful Apply, once done is set.
	PostApply(ctx context.Context) error

	// RelevantAttrString is stored as the args of the filler's run records.
	RelevantAttrString() string

	base() *Base
}

type ownership int

const (
	ownedByNone ownership = iota
	ownedByDatabase
	ownedByComposite
)

// BaseOptions configures a Base. The zero value is usable.
type BaseOptions struct {
	// Name defaults to the filler's type name.
	Name string

	// DataFolder defaults to the owner database's data folder.
	DataFolder string

	// UniqueName makes AddFiller skip a second filler of the same name.
	UniqueName bool

	// Encoding of text inputs, as an IANA/WHATWG label. Defaults to utf-8.
	Encoding string

	// Delimiter of delimited text inputs. Defaults to ','.
	Delimiter rune
}

type relevantAttr struct {
	name  string
	value func() string
}

// Base carries the state and default hooks shared by every filler.
type Base struct {
	name       string
	class      string
	done       bool
	uniqueName bool
	encoding   string
	delimiter  rune
	dataFolder string

	relevant []relevantAttr

	db    *Database
	owner ownership
	log   *logger.Logger
}

// NewBase returns a Base configured by opts.
func NewBase(opts BaseOptions) Base {
	return Base{
		name:       opts.Name,
		uniqueName: opts.UniqueName,
		encoding:   opts.Encoding,
		delimiter:  opts.Delimiter,
		dataFolder: opts.DataFolder,
	}
}

func (b *Base) base() *Base { return b }

func (b *Base) Name() string { return b.name }
func (b *Base) Done() bool   { return b.done }

// MarkDone flags the filler as applied; FillDB will skip it.
func (b *Base) MarkDone() { b.done = true }

func (b *Base) UniqueName() bool { return b.uniqueName }

func (b *Base) Encoding() string {
	if b.encoding == "" {
		return "utf-8"
	}
	return b.encoding
}

func (b *Base) Delimiter() rune {
	if b.delimiter == 0 {
		return ','
	}
	return b.delimiter
}

// DataFolder is the filler's artifact folder.
func (b *Base) DataFolder() string {
	if b.dataFolder != "" {
		return b.dataFolder
	}
	if b.db != nil {
		return b.db.dataFolder
	}
	return ""
}

// DB is the owner database, nil until registration.
func (b *Base) DB() *Database { return b.db }

// Logger is the filler's logger, tagged with its name.
func (b *Base) Logger() *logger.Logger {
	if b.log == nil {
		return logger.Nop()
	}
	return b.log
}

// AddRelevant appends an attribute to RelevantAttrString. value is evaluated
// each time the string is built.
func (b *Base) AddRelevant(name string, value func() string) {
	b.relevant = append(b.relevant, relevantAttr{name: name, value: value})
}

// RelevantAttrString renders "name:value" lines, data_folder first.
func (b *Base) RelevantAttrString() string {
	lines := []string{"data_folder:" + b.DataFolder()}
	for _, a := range b.relevant {
		lines = append(lines, a.name+":"+a.value())
	}
	return strings.Join(lines, "\n")
}

// Prepare creates the data folder.
func (b *Base) Prepare(ctx context.Context) error {
	if b.db == nil {
		return errs.Newf(errs.ErrKindInvalidInput, "filler %s is not attached to a database", b.name)
	}
	if err := os.MkdirAll(b.DataFolder(), 0o755); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("create data folder %s", b.DataFolder()), err)
	}
	return nil
}

func (b *Base) CheckRequirements(ctx context.Context) (bool, error) { return true, nil }
func (b *Base) Apply(ctx context.Context) error                      { return nil }
func (b *Base) AfterInsert(ctx context.Context) error                { return nil }
func (b *Base) PostApply(ctx context.Context) error                  { return nil }

// initIdentity sets the class from the concrete type and defaults the name
// to it.
func (b *Base) initIdentity(f Filler) {
	if b.class == "" {
		b.class = fillerClass(f)
	}
	if b.name == "" {
		b.name = b.class
	}
}

func (b *Base) attach(db *Database, owner ownership, parent *logger.Logger) {
	b.db = db
	b.owner = owner
	b.log = parent.Named(b.name)
}

func (b *Base) detach() {
	b.db = nil
	b.owner = ownedByNone
	b.log = nil
}

func fillerClass(f Filler) string {
	t := reflect.TypeOf(f)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Path resolves rel against the data folder. Absolute paths are returned
// unchanged.
func (b *Base) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(b.DataFolder(), rel)
}

// --- I/O helpers; relative paths resolve against the data folder ---

// Download fetches url into dest. An empty dest uses the URL's last path
// segment.
func (b *Base) Download(ctx context.Context, url, dest string, gzip bool) error {
	if dest == "" {
		dest = fetch.FileNameFromURL(url)
	}
	opts := fetch.DownloadOptions{Gzip: gzip}
	if b.db != nil {
		opts.Client = b.db.httpClient
	}
	b.Logger().Infof("downloading %s", url)
	return fetch.Download(ctx, url, b.Path(dest), opts)
}

// Unzip extracts src into destDir.
func (b *Base) Unzip(src, destDir string, removeSrc bool) error {
	return fetch.Unzip(b.Path(src), b.Path(destDir), removeSrc)
}

// ConvertSpreadsheet writes the first sheet of src as CSV.
func (b *Base) ConvertSpreadsheet(src, dest string, removeSrc bool) error {
	if dest != "" {
		dest = b.Path(dest)
	}
	return fetch.ConvertSpreadsheet(b.Path(src), dest, removeSrc)
}

// ConvertSpreadsheetSheets writes the selected sheets of src as CSV files.
func (b *Base) ConvertSpreadsheetSheets(src, destDir string, names []string, rename map[string]string, removeSrc bool) error {
	if destDir != "" {
		destDir = b.Path(destDir)
	}
	return fetch.ConvertSpreadsheetSheets(b.Path(src), destDir, names, rename, removeSrc)
}

// ExtractSpreadsheetSheets returns the cells of the selected sheets of src.
func (b *Base) ExtractSpreadsheetSheets(src string, names []string) (map[string][][]string, error) {
	return fetch.ExtractSheets(b.Path(src), names)
}

// CloneRepo clones repoURL into folder, or the repository name when folder
// is empty.
func (b *Base) CloneRepo(ctx context.Context, repoURL, folder string, opts fetch.CloneOptions) (fetch.CloneResult, error) {
	if folder == "" {
		folder = fetch.RepoFolderName(repoURL)
	}
	res, err := fetch.CloneRepo(ctx, repoURL, b.Path(folder), opts)
	if err != nil {
		return "", err
	}
	b.Logger().Infof("repository %s %s", repoURL, res)
	return res, nil
}

// FetchObject downloads bucket/key from the database's object store into
// dest, or the key's base name when dest is empty.
func (b *Base) FetchObject(ctx context.Context, bucket, key, dest string) error {
	if b.db == nil || b.db.store == nil {
		return errs.New(errs.ErrKindInvalidInput, "no object store configured")
	}
	if dest == "" {
		dest = filepath.Base(key)
	}
	if _, err := b.db.store.Download(ctx, bucket, key, b.Path(dest)); err != nil {
		return err
	}
	b.Logger().Infof("fetched object %s/%s", bucket, key)
	return nil
}

// FetchPrefix downloads every object of bucket under prefix into the folder
// dest, keeping the key layout below prefix. It returns the fetched files
// relative to the data folder.
func (b *Base) FetchPrefix(ctx context.Context, bucket, prefix, dest string) ([]string, error) {
	if b.db == nil || b.db.store == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "no object store configured")
	}
	objects, err := b.db.store.ListObjects(ctx, bucket, filestore.ListOptions{Prefix: prefix, Recursive: true})
	if err != nil {
		return nil, err
	}

	var files []string
	for _, obj := range objects {
		if obj.IsDir {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			rel = path.Base(obj.Key)
		}
		if !filepath.IsLocal(rel) {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "object key %s escapes %s", obj.Key, dest)
		}
		file := filepath.Join(dest, rel)
		if _, err := b.db.store.Download(ctx, bucket, obj.Key, b.Path(file)); err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "no object under %s/%s", bucket, prefix)
	}
	b.Logger().Infof("fetched %d objects under %s/%s", len(files), bucket, prefix)
	return files, nil
}

// RecordFile records the hash of a file of the data folder.
func (b *Base) RecordFile(ctx context.Context, filename, filecode string) error {
	if b.db == nil {
		return errs.Newf(errs.ErrKindInvalidInput, "filler %s is not attached to a database", b.name)
	}
	return b.db.RecordFile(ctx, filename, filecode, b.DataFolder())
}
