package dbfill

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/dbfill/internal/errs"
)

// CoalesceFiller wraps alternative fillers producing the same result and
// keeps the first that works.
//
// In single mode (coalesceApply false) Prepare stops at the first
// alternative that prepares and Apply runs that one. In multi mode every
// alternative is prepared and Apply tries the prepared ones in order until
// one applies.
type CoalesceFiller struct {
	Base

	subs          []Filler
	coalesceApply bool

	prepared []Filler
	failures []error
	selected Filler
}

// NewCoalesce groups subs under one queue entry. The sub-fillers become
// owned by the returned filler and cannot be added to a database directly.
func NewCoalesce(opts BaseOptions, coalesceApply bool, subs ...Filler) (*CoalesceFiller, error) {
	for _, s := range subs {
		sb := s.base()
		sb.initIdentity(s)
		if sb.owner != ownedByNone {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "filler %s already has an owner", sb.name)
		}
	}
	for _, s := range subs {
		s.base().owner = ownedByComposite
	}

	c := &CoalesceFiller{Base: NewBase(opts), subs: subs, coalesceApply: coalesceApply}
	c.AddRelevant("alternatives", func() string {
		names := make([]string, len(c.subs))
		for i, s := range c.subs {
			names[i] = s.Name()
		}
		return strings.Join(names, ",")
	})
	c.AddRelevant("coalesce_apply", func() string { return strconv.FormatBool(c.coalesceApply) })
	return c, nil
}

// Selected is the alternative kept, nil until one is chosen.
func (c *CoalesceFiller) Selected() Filler { return c.selected }

// Alternatives returns the sub-fillers in order.
func (c *CoalesceFiller) Alternatives() []Filler {
	out := make([]Filler, len(c.subs))
	copy(out, c.subs)
	return out
}

// AfterInsert attaches the sub-fillers to the owner database.
func (c *CoalesceFiller) AfterInsert(ctx context.Context) error {
	for _, s := range c.subs {
		s.base().attach(c.db, ownedByComposite, c.Logger())
	}
	return nil
}

func (c *CoalesceFiller) Prepare(ctx context.Context) error {
	if err := c.Base.Prepare(ctx); err != nil {
		return err
	}
	c.selected, c.prepared, c.failures = nil, nil, nil

	for _, s := range c.subs {
		if err := s.Prepare(ctx); err != nil {
			c.Logger().WarnWith("alternative failed to prepare", err, map[string]any{"alternative": s.Name()})
			c.failures = append(c.failures, err)
			continue
		}
		if c.coalesceApply {
			c.prepared = append(c.prepared, s)
			continue
		}
		c.selected = s
		c.Logger().Infof("selected alternative %s", s.Name())
		if s.Done() {
			c.MarkDone()
		}
		return nil
	}

	if !c.coalesceApply && len(c.failures) > 0 {
		return errs.Aggregate(c.exhaustedMessage("prepare", c.subs), c.failures)
	}
	return nil
}

// CheckRequirements consults the alternatives. In single mode it is the
// selected alternative's check. In multi mode prepared alternatives whose
// check fails are dropped, and the requirements hold while one remains.
func (c *CoalesceFiller) CheckRequirements(ctx context.Context) (bool, error) {
	if !c.coalesceApply {
		if c.selected == nil {
			return false, nil
		}
		return c.selected.CheckRequirements(ctx)
	}
	if len(c.prepared) == 0 {
		// Apply reports the preparation failures.
		return true, nil
	}

	kept := c.prepared[:0]
	for _, s := range c.prepared {
		if s.Done() {
			kept = append(kept, s)
			continue
		}
		ok, err := s.CheckRequirements(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			c.Logger().Warnf("requirements not fulfilled for alternative %s, dropping it", s.Name())
			continue
		}
		kept = append(kept, s)
	}
	c.prepared = kept
	return len(kept) > 0, nil
}

func (c *CoalesceFiller) Apply(ctx context.Context) error {
	if !c.coalesceApply {
		if c.selected == nil {
			return errs.New(errs.ErrKindInvalidInput, "no alternative selected, prepare first")
		}
		if err := c.selected.Apply(ctx); err != nil {
			return err
		}
		c.selected.base().MarkDone()
		return nil
	}

	if len(c.prepared) == 0 {
		if len(c.failures) > 0 {
			return errs.Aggregate(c.exhaustedMessage("prepare", c.subs), c.failures)
		}
		return errs.New(errs.ErrKindInvalidInput, "no alternative prepared")
	}

	var failures []error
	for _, s := range c.prepared {
		if s.Done() {
			c.selected = s
			c.Logger().Infof("alternative %s already done", s.Name())
			return nil
		}
		if err := s.Apply(ctx); err != nil {
			c.Logger().WarnWith("alternative failed to apply", err, map[string]any{"alternative": s.Name()})
			failures = append(failures, err)
			continue
		}
		s.base().MarkDone()
		c.selected = s
		c.Logger().Infof("selected alternative %s", s.Name())
		return nil
	}
	return errs.Aggregate(c.exhaustedMessage("apply", c.prepared), failures)
}

func (c *CoalesceFiller) PostApply(ctx context.Context) error {
	if c.selected == nil {
		return nil
	}
	return c.selected.PostApply(ctx)
}

func (c *CoalesceFiller) exhaustedMessage(phase string, tried []Filler) string {
	names := make([]string, len(tried))
	for i, s := range tried {
		names[i] = s.Name()
	}
	return fmt.Sprintf("coalesce filler %s: all %d alternatives failed to %s (%s)",
		c.Name(), len(tried), phase, strings.Join(names, ", "))
}
