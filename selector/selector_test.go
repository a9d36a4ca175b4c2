package selector

import (
	"context"
	"testing"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.Open(":memory:")
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func seed(t *testing.T, s *store.Store, targets []bastion.FortTarget) {
	t.Helper()
	if err := s.With(context.Background(), func(sess *store.Session) error {
		return sess.InsertFortTargets(context.Background(), targets)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func names(targets []bastion.FortTarget) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Name
	}
	return out
}

func TestCurrentSheetOrder(t *testing.T) {
	s := testStore(t)
	seed(t, s, []bastion.FortTarget{
		{Name: "Done", Kind: bastion.FortKindFort, FortStatus: 5000, Trigger: 5000, Column: "D", SheetOrder: 1},
		{Name: "Skipme", Kind: bastion.FortKindFort, Trigger: 5000, Notes: "leave for now", Column: "E", SheetOrder: 2},
		{Name: "Close", Kind: bastion.FortKindFort, FortStatus: 4000, Trigger: 5000, Column: "F", SheetOrder: 3},
		{Name: "Open", Kind: bastion.FortKindFort, Trigger: 5000, Column: "G", SheetOrder: 4},
		{Name: "Prep", Kind: bastion.FortKindPrep, Trigger: 2000, Column: "H", SheetOrder: 5},
	})

	err := s.With(context.Background(), func(sess *store.Session) error {
		got, err := Current(context.Background(), sess, DefaultDeferThreshold)
		if err != nil {
			return err
		}
		// Done is fortified, Skipme is left, Close is within the deferral
		// threshold; Open is the call, preps ride along.
		want := []string{"Open", "Prep"}
		if g := names(got); len(g) != len(want) || g[0] != want[0] || g[1] != want[1] {
			t.Errorf("current = %v, want %v", g, want)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCurrentMediumGetsLargeSecondary(t *testing.T) {
	s := testStore(t)
	seed(t, s, []bastion.FortTarget{
		{Name: "Small", Kind: bastion.FortKindFort, Trigger: 5000, Notes: "s/m", Column: "D", SheetOrder: 1},
		{Name: "Big", Kind: bastion.FortKindFort, Trigger: 5000, Column: "E", SheetOrder: 2},
	})
	err := s.With(context.Background(), func(sess *store.Session) error {
		got, err := Current(context.Background(), sess, 0)
		if err != nil {
			return err
		}
		g := names(got)
		if len(g) != 2 || g[0] != "Big" || g[1] != "Small" {
			t.Errorf("current = %v, want [Big Small]", g)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// The override scenario: order Sol,Rana; Sol first, Rana once Sol is
// fortified, default order once both are done.
func TestCurrentOverrideOrder(t *testing.T) {
	s := testStore(t)
	seed(t, s, []bastion.FortTarget{
		{Name: "First", Kind: bastion.FortKindFort, Trigger: 5000, Column: "D", SheetOrder: 1},
		{Name: "Sol", Kind: bastion.FortKindFort, Trigger: 5000, Column: "E", SheetOrder: 2},
		{Name: "Rana", Kind: bastion.FortKindFort, Trigger: 5000, Column: "F", SheetOrder: 3},
	})
	ctx := context.Background()

	current := func() []string {
		var got []string
		s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
			targets, err := Current(ctx, sess, 0)
			if err != nil {
				t.Fatalf("current: %v", err)
			}
			got = names(targets)
			return nil
		})
		return got
	}
	fortify := func(name string) {
		if err := s.With(ctx, func(sess *store.Session) error {
			target, err := sess.FortTargetByExactName(ctx, name)
			if err != nil {
				return err
			}
			return sess.UpdateFortTargetStatus(ctx, target.ID, target.Trigger, 0)
		}); err != nil {
			t.Fatalf("fortify %s: %v", name, err)
		}
	}

	if err := s.With(ctx, func(sess *store.Session) error {
		return sess.ReplaceFortOrder(ctx, []string{"Sol", "Rana"})
	}); err != nil {
		t.Fatalf("order: %v", err)
	}

	if got := current(); len(got) != 1 || got[0] != "Sol" {
		t.Fatalf("current = %v, want [Sol]", got)
	}
	fortify("Sol")
	if got := current(); len(got) != 1 || got[0] != "Rana" {
		t.Fatalf("after Sol = %v, want [Rana]", got)
	}
	fortify("Rana")
	if got := current(); len(got) != 1 || got[0] != "First" {
		t.Fatalf("after both = %v, want default order [First]", got)
	}
}

func TestNextContinuesAfterCurrent(t *testing.T) {
	s := testStore(t)
	seed(t, s, []bastion.FortTarget{
		{Name: "A", Kind: bastion.FortKindFort, Trigger: 5000, Column: "D", SheetOrder: 1},
		{Name: "B", Kind: bastion.FortKindFort, Trigger: 5000, Column: "E", SheetOrder: 2},
		{Name: "C", Kind: bastion.FortKindFort, Trigger: 5000, Column: "F", SheetOrder: 3},
		{Name: "D", Kind: bastion.FortKindFort, Trigger: 5000, Column: "G", SheetOrder: 4},
	})
	err := s.With(context.Background(), func(sess *store.Session) error {
		got, err := Next(context.Background(), sess, 2, 0)
		if err != nil {
			return err
		}
		g := names(got)
		if len(g) != 2 || g[0] != "B" || g[1] != "C" {
			t.Errorf("next = %v, want [B C]", g)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeferredAndMissUnder(t *testing.T) {
	s := testStore(t)
	seed(t, s, []bastion.FortTarget{
		{Name: "Nearly", Kind: bastion.FortKindFort, FortStatus: 4800, Trigger: 5000, Column: "D", SheetOrder: 1},
		{Name: "Far", Kind: bastion.FortKindFort, FortStatus: 100, Trigger: 5000, Column: "E", SheetOrder: 2},
		{Name: "Done", Kind: bastion.FortKindFort, FortStatus: 5000, Trigger: 5000, Column: "F", SheetOrder: 3},
	})
	err := s.With(context.Background(), func(sess *store.Session) error {
		ctx := context.Background()
		deferred, err := Deferred(ctx, sess, 500)
		if err != nil {
			return err
		}
		if g := names(deferred); len(g) != 1 || g[0] != "Nearly" {
			t.Errorf("deferred = %v, want [Nearly]", g)
		}
		miss, err := MissUnder(ctx, sess, 300)
		if err != nil {
			return err
		}
		if g := names(miss); len(g) != 1 || g[0] != "Nearly" {
			t.Errorf("missUnder = %v, want [Nearly]", g)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestByStatePartition(t *testing.T) {
	s := testStore(t)
	seed(t, s, []bastion.FortTarget{
		{Name: "Won", Kind: bastion.FortKindFort, FortStatus: 5000, Trigger: 5000, Column: "D", SheetOrder: 1},
		{Name: "Lost", Kind: bastion.FortKindFort, Trigger: 5000, Undermine: 1, Column: "E", SheetOrder: 2},
		{Name: "Wash", Kind: bastion.FortKindFort, FortStatus: 5000, Trigger: 5000, Undermine: 1, Column: "F", SheetOrder: 3},
		{Name: "Ignored", Kind: bastion.FortKindFort, Trigger: 5000, Notes: "skip this cycle", Column: "G", SheetOrder: 4},
	})
	err := s.With(context.Background(), func(sess *store.Session) error {
		states, err := ByState(context.Background(), sess)
		if err != nil {
			return err
		}
		if g := names(states.Fortified); len(g) != 1 || g[0] != "Won" {
			t.Errorf("fortified = %v", g)
		}
		if g := names(states.Undermined); len(g) != 1 || g[0] != "Lost" {
			t.Errorf("undermined = %v", g)
		}
		if g := names(states.Cancelled); len(g) != 1 || g[0] != "Wash" {
			t.Errorf("cancelled = %v", g)
		}
		if g := names(states.Skipped); len(g) != 1 || g[0] != "Ignored" {
			t.Errorf("skipped = %v", g)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
