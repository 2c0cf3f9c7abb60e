package dbfill

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/koustreak/dbfill/internal/errs"
	"github.com/koustreak/dbfill/internal/logger"
)

// AddFiller registers f at the end of the queue and calls its AfterInsert.
// A filler belonging to a CoalesceFiller or to another database is refused.
// When a unique-name filler of the same name is already queued, f is skipped
// with a warning.
func (db *Database) AddFiller(ctx context.Context, f Filler) error {
	b := f.base()
	switch {
	case b.owner == ownedByComposite:
		return errs.Newf(errs.ErrKindInvalidInput, "filler %s belongs to a coalesce filler and cannot be added directly", b.name)
	case b.owner == ownedByDatabase && b.db != db:
		return errs.Newf(errs.ErrKindInvalidInput, "filler %s is already registered with another database", b.name)
	}
	b.initIdentity(f)

	for _, other := range db.fillers {
		if other.base().uniqueName && other.Name() == b.name {
			db.log.Warnf("filler %s already present, skipping", b.name)
			return nil
		}
	}

	b.attach(db, ownedByDatabase, db.log)
	db.fillers = append(db.fillers, f)
	if err := f.AfterInsert(ctx); err != nil {
		db.fillers = db.fillers[:len(db.fillers)-1]
		b.detach()
		return errs.Wrap(errs.ErrKindFillerFailed, fmt.Sprintf("filler %s: after insert failed", b.name), err)
	}
	db.log.Debugf("added filler %s", b.name)
	return nil
}

// FillDB prepares and applies every pending filler in registration order.
// Fillers already done are skipped, so a second call applies nothing new.
// The first failure halts the queue.
func (db *Database) FillDB(ctx context.Context) (err error) {
	runID := uuid.NewString()
	log := db.log.With().Str("run_id", runID).Int("fillers", len(db.fillers)).Logger()

	ctx, span := db.tracer.Start(ctx, "dbfill.FillDB", trace.WithAttributes(
		attribute.String("dbfill.run_id", runID),
		attribute.Int("dbfill.fillers", len(db.fillers)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := db.recordRun(ctx, fillDBClass, nil, StatusStartFillDB); err != nil {
		return err
	}
	log.Info("filling database")

	for _, f := range db.fillers {
		if err := db.runFiller(ctx, f, log); err != nil {
			log.ErrorWith("fill interrupted", err, map[string]any{"filler": f.Name()})
			return err
		}
	}

	if err := db.recordRun(ctx, fillDBClass, nil, StatusEndFillDB); err != nil {
		return err
	}
	log.Info("database filled")
	return nil
}

func (db *Database) runFiller(ctx context.Context, f Filler, log *logger.Logger) error {
	b := f.base()
	if b.done {
		log.Debugf("filler %s already done, skipping", b.name)
		return nil
	}

	record := func(status string) error {
		args := f.RelevantAttrString()
		return db.recordRun(ctx, b.class, &args, status)
	}

	if err := record(StatusInitPrepare); err != nil {
		return err
	}
	if err := db.phase(ctx, f, "prepare", f.Prepare); err != nil {
		return err
	}
	log.Infof("prepared filler %s", b.name)
	if err := record(StatusEndPrepare); err != nil {
		return err
	}

	if !b.done {
		ok, err := f.CheckRequirements(ctx)
		if err != nil {
			return errs.Wrap(errs.ErrKindFillerFailed, fmt.Sprintf("filler %s: requirements check failed", b.name), err)
		}
		if !ok {
			return errs.Newf(errs.ErrKindRequirementsUnmet, "requirements not fulfilled for filler %s", b.name)
		}

		if err := record(StatusInitApply); err != nil {
			return err
		}
		if err := db.phase(ctx, f, "apply", f.Apply); err != nil {
			return err
		}
		b.done = true
		if err := db.phase(ctx, f, "post_apply", f.PostApply); err != nil {
			return err
		}
		if err := record(StatusEndApply); err != nil {
			return err
		}
	}
	log.Infof("filled with filler %s", b.name)
	return nil
}

// phase runs one lifecycle hook inside a child span.
func (db *Database) phase(ctx context.Context, f Filler, name string, fn func(context.Context) error) error {
	ctx, span := db.tracer.Start(ctx, "dbfill."+name, trace.WithAttributes(
		attribute.String("dbfill.filler", f.Name()),
		attribute.String("dbfill.class", f.base().class),
	))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errs.Wrap(errs.ErrKindFillerFailed, fmt.Sprintf("filler %s: %s failed", f.Name(), name), err)
	}
	return nil
}
