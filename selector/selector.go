// Package selector picks fortification and undermining targets. All
// functions are pure reads over a session: the dispatcher composes them
// into replies, the store owns the data.
package selector

import (
	"context"
	"strings"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// DefaultDeferThreshold is the merit shortfall under which a target is
// left for drive-by completion rather than called as the current target.
const DefaultDeferThreshold = 1500

// eligible reports whether a fort-kind target is worth calling: not
// done, not deliberately skipped, not close enough to finish itself.
func eligible(t bastion.FortTarget, deferThreshold int) bool {
	if t.Kind != bastion.FortKindFort {
		return false
	}
	if t.IsFortified() || t.IsSkipped() {
		return false
	}
	return t.Missing() > deferThreshold
}

// Current returns the targets to call now: the primary, a medium-pad
// secondary when the primary itself is medium-only, and the open prep
// targets appended.
//
// A manual order overrides everything: the first unfortified override
// target is the whole answer until the override list is exhausted, then
// selection falls back to sheet order.
func Current(ctx context.Context, sess *store.Session, deferThreshold int) ([]bastion.FortTarget, error) {
	targets, err := sess.FortTargets(ctx)
	if err != nil {
		return nil, err
	}
	order, err := sess.FortOrder(ctx)
	if err != nil {
		return nil, err
	}

	if len(order) > 0 {
		byName := map[string]bastion.FortTarget{}
		for _, t := range targets {
			byName[strings.ToLower(t.Name)] = t
		}
		for _, name := range order {
			t, ok := byName[strings.ToLower(name)]
			if !ok {
				continue
			}
			if !t.IsFortified() && !t.IsSkipped() {
				return []bastion.FortTarget{t}, nil
			}
		}
		// Every override target is done; fall through to sheet order.
	}

	var out []bastion.FortTarget
	primary, ok := firstEligible(targets, deferThreshold, nil)
	if ok {
		if primary.IsMedium() {
			// Large ships need somewhere to go too: pair the medium with
			// the next non-medium still open.
			if big, found := firstEligible(targets, deferThreshold, func(t bastion.FortTarget) bool {
				return !t.IsMedium()
			}); found {
				out = append(out, big)
			}
		}
		out = append(out, primary)
	}

	for _, t := range targets {
		if t.Kind == bastion.FortKindPrep && !t.IsFortified() {
			out = append(out, t)
		}
	}
	return out, nil
}

func firstEligible(targets []bastion.FortTarget, deferThreshold int, extra func(bastion.FortTarget) bool) (bastion.FortTarget, bool) {
	for _, t := range targets {
		if !eligible(t, deferThreshold) {
			continue
		}
		if extra != nil && !extra(t) {
			continue
		}
		return t, true
	}
	return bastion.FortTarget{}, false
}

// Next returns up to n eligible targets after the current primary, in
// selection order.
func Next(ctx context.Context, sess *store.Session, n, deferThreshold int) ([]bastion.FortTarget, error) {
	if n < 1 {
		return nil, bastion.Argf("need a positive count, got %d", n)
	}
	targets, err := sess.FortTargets(ctx)
	if err != nil {
		return nil, err
	}
	var out []bastion.FortTarget
	skippedPrimary := false
	for _, t := range targets {
		if !eligible(t, deferThreshold) {
			continue
		}
		if !skippedPrimary {
			skippedPrimary = true
			continue
		}
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// Deferred returns targets left for drive-by completion: short of the
// trigger but within the deferral threshold.
func Deferred(ctx context.Context, sess *store.Session, deferThreshold int) ([]bastion.FortTarget, error) {
	targets, err := sess.FortTargets(ctx)
	if err != nil {
		return nil, err
	}
	var out []bastion.FortTarget
	for _, t := range targets {
		if t.Kind != bastion.FortKindFort || t.IsFortified() || t.IsSkipped() {
			continue
		}
		if m := t.Missing(); m > 0 && m <= deferThreshold {
			out = append(out, t)
		}
	}
	return out, nil
}

// MissUnder returns non-fortified, non-skipped targets missing at most n
// merits.
func MissUnder(ctx context.Context, sess *store.Session, n int) ([]bastion.FortTarget, error) {
	targets, err := sess.FortTargets(ctx)
	if err != nil {
		return nil, err
	}
	var out []bastion.FortTarget
	for _, t := range targets {
		if t.Kind != bastion.FortKindFort || t.IsFortified() || t.IsSkipped() {
			continue
		}
		if t.Missing() <= n {
			out = append(out, t)
		}
	}
	return out, nil
}

// States partitions every fort target by outcome. A target can appear in
// more than one bucket: fortified and undermined together mean
// cancelled.
type States struct {
	Cancelled  []bastion.FortTarget
	Fortified  []bastion.FortTarget
	Undermined []bastion.FortTarget
	Skipped    []bastion.FortTarget
	Left       []bastion.FortTarget
}

// ByState builds the per-outcome partition used by the status summary.
func ByState(ctx context.Context, sess *store.Session) (States, error) {
	var s States
	targets, err := sess.FortTargets(ctx)
	if err != nil {
		return s, err
	}
	for _, t := range targets {
		fortified, undermined := t.IsFortified(), t.IsUndermined()
		switch {
		case fortified && undermined:
			s.Cancelled = append(s.Cancelled, t)
		case fortified:
			s.Fortified = append(s.Fortified, t)
		case undermined:
			s.Undermined = append(s.Undermined, t)
		}
		notes := strings.ToLower(t.Notes)
		if strings.Contains(notes, "skip") {
			s.Skipped = append(s.Skipped, t)
		}
		if strings.Contains(notes, "leave") {
			s.Left = append(s.Left, t)
		}
	}
	return s, nil
}

// UmProgress returns the undermine targets of one sheet (or both for "")
// for the progress report, priority targets first.
func UmProgress(ctx context.Context, sess *store.Session, sheet bastion.UmSheet) ([]bastion.UmTarget, error) {
	targets, err := sess.UmTargets(ctx, sheet)
	if err != nil {
		return nil, err
	}
	var priority, rest []bastion.UmTarget
	for _, t := range targets {
		if t.Priority != "" {
			priority = append(priority, t)
		} else {
			rest = append(rest, t)
		}
	}
	return append(priority, rest...), nil
}
