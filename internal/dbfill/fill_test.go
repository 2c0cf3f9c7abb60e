package dbfill

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/dbfill/internal/database/dbtest"
	"github.com/koustreak/dbfill/internal/errs"
)

// stubFiller counts hook calls and fails on demand.
type stubFiller struct {
	Base

	afterInsertErr error
	prepareErr     error
	applyErr       error
	unmet          bool
	doneEarly      bool

	prepares, applies, postApplies, afterInserts int
	trail                                        *[]string
}

func newStub(name string) *stubFiller {
	return &stubFiller{Base: NewBase(BaseOptions{Name: name})}
}

func (f *stubFiller) note(s string) {
	if f.trail != nil {
		*f.trail = append(*f.trail, f.Name()+":"+s)
	}
}

func (f *stubFiller) AfterInsert(context.Context) error {
	f.afterInserts++
	return f.afterInsertErr
}

func (f *stubFiller) Prepare(ctx context.Context) error {
	f.prepares++
	f.note("prepare")
	if err := f.Base.Prepare(ctx); err != nil {
		return err
	}
	if f.doneEarly {
		f.MarkDone()
	}
	return f.prepareErr
}

func (f *stubFiller) CheckRequirements(context.Context) (bool, error) { return !f.unmet, nil }

func (f *stubFiller) Apply(context.Context) error {
	f.applies++
	f.note("apply")
	return f.applyErr
}

func (f *stubFiller) PostApply(context.Context) error {
	f.postApplies++
	return nil
}

type runRecord struct {
	class, status string
	args          any
}

func runRecords(conn *dbtest.Conn) []runRecord {
	var out []runRecord
	for _, s := range conn.Matching("INSERT INTO _fillers_info") {
		out = append(out, runRecord{class: s.Args[0].(string), args: s.Args[1], status: s.Args[2].(string)})
	}
	return out
}

func statuses(recs []runRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.status
	}
	return out
}

func TestFillDB_Trail(t *testing.T) {
	db, conn := newTestDB(t, Options{})
	f := newStub("stub")
	require.NoError(t, db.AddFiller(context.Background(), f))

	require.NoError(t, db.FillDB(context.Background()))

	recs := runRecords(conn)
	assert.Equal(t, []string{
		StatusStartFillDB,
		StatusInitPrepare, StatusEndPrepare, StatusInitApply, StatusEndApply,
		StatusEndFillDB,
	}, statuses(recs))

	assert.Equal(t, fillDBClass, recs[0].class)
	assert.Nil(t, recs[0].args)
	assert.Equal(t, "stubFiller", recs[1].class)
	assert.Equal(t, "data_folder:"+db.DataFolder(), recs[1].args)

	assert.True(t, f.Done())
	assert.Equal(t, 1, f.postApplies)
	assert.Equal(t, len(recs), conn.Commits, "each run record commits on its own")
}

func TestFillDB_AppliesOnce(t *testing.T) {
	db, conn := newTestDB(t, Options{})
	f := newStub("stub")
	require.NoError(t, db.AddFiller(context.Background(), f))

	require.NoError(t, db.FillDB(context.Background()))
	require.NoError(t, db.FillDB(context.Background()))

	assert.Equal(t, 1, f.prepares)
	assert.Equal(t, 1, f.applies)
	assert.Equal(t, []string{
		StatusStartFillDB, StatusInitPrepare, StatusEndPrepare, StatusInitApply, StatusEndApply, StatusEndFillDB,
		StatusStartFillDB, StatusEndFillDB,
	}, statuses(runRecords(conn)))
}

func TestFillDB_RegistrationOrder(t *testing.T) {
	db, _ := newTestDB(t, Options{})
	var trail []string
	for _, name := range []string{"first", "second", "third"} {
		f := newStub(name)
		f.trail = &trail
		require.NoError(t, db.AddFiller(context.Background(), f))
	}

	require.NoError(t, db.FillDB(context.Background()))

	assert.Equal(t, []string{
		"first:prepare", "first:apply",
		"second:prepare", "second:apply",
		"third:prepare", "third:apply",
	}, trail)
}

func TestFillDB_DoneDuringPrepareSkipsApply(t *testing.T) {
	db, conn := newTestDB(t, Options{})
	f := newStub("stub")
	f.doneEarly = true
	f.unmet = true
	require.NoError(t, db.AddFiller(context.Background(), f))

	require.NoError(t, db.FillDB(context.Background()))

	assert.Zero(t, f.applies)
	assert.Equal(t, []string{StatusStartFillDB, StatusInitPrepare, StatusEndPrepare, StatusEndFillDB},
		statuses(runRecords(conn)))
}

func TestFillDB_RequirementsUnmetHalts(t *testing.T) {
	db, conn := newTestDB(t, Options{})
	blocked := newStub("blocked")
	blocked.unmet = true
	next := newStub("next")
	require.NoError(t, db.AddFiller(context.Background(), blocked))
	require.NoError(t, db.AddFiller(context.Background(), next))

	err := db.FillDB(context.Background())

	require.Error(t, err)
	assert.True(t, errs.IsRequirementsUnmet(err))
	assert.Contains(t, err.Error(), "blocked")
	assert.Zero(t, blocked.applies)
	assert.Zero(t, next.prepares)
	assert.False(t, blocked.Done())
	assert.Equal(t, []string{StatusStartFillDB, StatusInitPrepare, StatusEndPrepare},
		statuses(runRecords(conn)))
}

func TestFillDB_FailureHaltsAndStaysPending(t *testing.T) {
	db, _ := newTestDB(t, Options{})
	broken := newStub("broken")
	broken.applyErr = errs.New(errs.ErrKindQueryFailed, "duplicate key")
	next := newStub("next")
	require.NoError(t, db.AddFiller(context.Background(), broken))
	require.NoError(t, db.AddFiller(context.Background(), next))

	err := db.FillDB(context.Background())

	assert.True(t, errs.IsFillerFailed(err))
	assert.True(t, errs.HasKind(err, errs.ErrKindQueryFailed))
	assert.False(t, broken.Done())
	assert.Zero(t, next.prepares)

	broken.applyErr = nil
	require.NoError(t, db.FillDB(context.Background()), "a later run resumes the queue")
	assert.True(t, broken.Done())
	assert.True(t, next.Done())
}

func TestFillDB_RunRecordFailure(t *testing.T) {
	db, conn := newTestDB(t, Options{})
	conn.Failing("_fillers_info", errors.New("relation \"_fillers_info\" does not exist"))
	f := newStub("stub")
	require.NoError(t, db.AddFiller(context.Background(), f))

	assert.Error(t, db.FillDB(context.Background()))
	assert.Zero(t, f.prepares)
}

func TestAddFiller(t *testing.T) {
	db, _ := newTestDB(t, Options{})
	f := &stubFiller{}

	require.NoError(t, db.AddFiller(context.Background(), f))

	assert.Equal(t, "stubFiller", f.Name(), "name defaults to the type name")
	assert.Equal(t, 1, f.afterInserts)
	assert.Same(t, db, f.DB())
	assert.Equal(t, db.DataFolder(), f.DataFolder())
	assert.Equal(t, []Filler{f}, db.Fillers())
}

func TestAddFiller_UniqueName(t *testing.T) {
	db, _ := newTestDB(t, Options{})
	first := &stubFiller{Base: NewBase(BaseOptions{Name: "communes", UniqueName: true})}
	second := &stubFiller{Base: NewBase(BaseOptions{Name: "communes", UniqueName: true})}
	other := newStub("communes")
	other.uniqueName = false

	require.NoError(t, db.AddFiller(context.Background(), first))
	require.NoError(t, db.AddFiller(context.Background(), second))

	assert.Len(t, db.Fillers(), 1)
	assert.Zero(t, second.afterInserts)
	assert.Nil(t, second.DB())

	require.NoError(t, db.AddFiller(context.Background(), other))
	assert.Len(t, db.Fillers(), 1, "a registered unique name blocks any filler of that name")
}

func TestAddFiller_OtherDatabase(t *testing.T) {
	db1, _ := newTestDB(t, Options{})
	db2, _ := newTestDB(t, Options{})
	f := newStub("stub")
	require.NoError(t, db1.AddFiller(context.Background(), f))

	err := db2.AddFiller(context.Background(), f)

	assert.True(t, errs.IsInvalidInput(err))
	assert.Empty(t, db2.Fillers())
}

func TestAddFiller_AfterInsertFailureReleasesFiller(t *testing.T) {
	db1, _ := newTestDB(t, Options{})
	db2, _ := newTestDB(t, Options{})
	f := newStub("stub")
	f.afterInsertErr = errs.New(errs.ErrKindNotFound, "lookup table missing")

	err := db1.AddFiller(context.Background(), f)

	assert.True(t, errs.IsFillerFailed(err))
	assert.Empty(t, db1.Fillers())
	assert.Nil(t, f.DB())

	f.afterInsertErr = nil
	require.NoError(t, db2.AddFiller(context.Background(), f))
	assert.Same(t, db2, f.DB())
	assert.Equal(t, []Filler{f}, db2.Fillers())
}

func TestBase_RelevantAttrString(t *testing.T) {
	b := NewBase(BaseOptions{DataFolder: "/data"})
	b.AddRelevant("table", func() string { return "communes" })

	assert.Equal(t, "data_folder:/data\ntable:communes", b.RelevantAttrString())
	assert.Equal(t, "utf-8", b.Encoding())
	assert.Equal(t, ',', b.Delimiter())
}

func TestBase_PrepareRequiresOwner(t *testing.T) {
	f := newStub("orphan")
	assert.True(t, errs.IsInvalidInput(f.Base.Prepare(context.Background())))
}
