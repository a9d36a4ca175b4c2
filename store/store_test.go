package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bastionbot/bastion"
)

// testSession opens an in-memory store and hands back one session. The
// session is rolled back on cleanup, so tests never leak state.
func testSession(t *testing.T) *Session {
	t.Helper()
	s := Open(":memory:")
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	sess, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() {
		sess.Rollback() //nolint:errcheck
		s.Close()       //nolint:errcheck
	})
	return sess
}

func TestEnsureUserKeepsPrefNameOnReconnect(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	if err := sess.EnsureUser(ctx, bastion.ChatUser{ID: "u1", DisplayName: "Alice"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := sess.SetPrefName(ctx, "u1", "CMDR Alice"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	// Reconnect with a changed display name must not reset the rename.
	if err := sess.EnsureUser(ctx, bastion.ChatUser{ID: "u1", DisplayName: "alice2"}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	u, err := sess.User(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PrefName != "CMDR Alice" {
		t.Errorf("pref name = %q, want CMDR Alice", u.PrefName)
	}
	if u.DisplayName != "alice2" {
		t.Errorf("display name = %q, want alice2", u.DisplayName)
	}
}

func TestEnsureUserPrefNameCollisionFallsBack(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	if err := sess.EnsureUser(ctx, bastion.ChatUser{ID: "u1", DisplayName: "Twin"}); err != nil {
		t.Fatalf("ensure first: %v", err)
	}
	if err := sess.EnsureUser(ctx, bastion.ChatUser{ID: "u2", DisplayName: "Twin"}); err != nil {
		t.Fatalf("ensure second: %v", err)
	}
	u, err := sess.User(ctx, "u2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PrefName != "Twin#u2" {
		t.Errorf("pref name = %q, want Twin#u2", u.PrefName)
	}
}

func TestSetPrefNameCollision(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	sess.EnsureUser(ctx, bastion.ChatUser{ID: "u1", DisplayName: "A"}) //nolint:errcheck
	sess.EnsureUser(ctx, bastion.ChatUser{ID: "u2", DisplayName: "B"}) //nolint:errcheck

	err := sess.SetPrefName(ctx, "u2", "A")
	var integrity *bastion.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
}

func TestNextFreeRowReusesHoles(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	contributors := []bastion.FortContributor{
		{Name: "a", Row: 11},
		{Name: "b", Row: 12},
		{Name: "c", Row: 14},
	}
	if err := sess.InsertFortContributors(ctx, contributors); err != nil {
		t.Fatalf("insert: %v", err)
	}
	row, err := sess.NextFreeFortRow(ctx, 11)
	if err != nil {
		t.Fatalf("next free: %v", err)
	}
	if row != 13 {
		t.Errorf("next free row = %d, want 13", row)
	}
}

func TestNextFreeRowEmptySheet(t *testing.T) {
	sess := testSession(t)
	row, err := sess.NextFreeUmRow(context.Background(), bastion.UmSheetMain, 14)
	if err != nil {
		t.Fatalf("next free: %v", err)
	}
	if row != 14 {
		t.Errorf("next free row = %d, want 14", row)
	}
}

func TestEmptyTablesSparesPermanent(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	sess.EnsureUser(ctx, bastion.ChatUser{ID: "u1", DisplayName: "A"}) //nolint:errcheck
	if err := sess.InsertFortContributors(ctx, []bastion.FortContributor{{Name: "A", Row: 11}}); err != nil {
		t.Fatalf("insert contributor: %v", err)
	}

	if err := sess.EmptyTables(ctx, false); err != nil {
		t.Fatalf("empty: %v", err)
	}

	if _, err := sess.User(ctx, "u1"); err != nil {
		t.Errorf("user gone after scan-owned wipe: %v", err)
	}
	contributors, err := sess.FortContributors(ctx)
	if err != nil {
		t.Fatalf("list contributors: %v", err)
	}
	if len(contributors) != 0 {
		t.Errorf("contributors survived scan-owned wipe: %d rows", len(contributors))
	}
}

func TestGlobalMonotonicUpdatedAt(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	newer := bastion.Global{Cycle: 42, Consolidation: 60, UpdatedAt: time.Unix(2000, 0)}
	if err := sess.SetGlobal(ctx, newer); err != nil {
		t.Fatalf("set: %v", err)
	}
	stale := bastion.Global{Cycle: 41, Consolidation: 55, UpdatedAt: time.Unix(1000, 0)}
	var vErr *bastion.ValidationError
	if err := sess.SetGlobal(ctx, stale); !errors.As(err, &vErr) {
		t.Fatalf("stale set err = %v, want ValidationError", err)
	}

	g, err := sess.Global(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g.Cycle != 42 {
		t.Errorf("cycle = %d, stale write was applied", g.Cycle)
	}
}

func TestKosAddIgnoresDuplicate(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	added, err := sess.AddKos(ctx, bastion.KosEntry{Cmdr: "BadGuy", Reason: "ganking"})
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	// Same commander, different case: first entry wins.
	added, err = sess.AddKos(ctx, bastion.KosEntry{Cmdr: "badguy", Reason: "other"})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Error("duplicate report was added")
	}

	entries, err := sess.SearchKos(ctx, "bad")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != "ganking" {
		t.Errorf("entries = %+v, want single original entry", entries)
	}
}

func TestTopMeritsRanking(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	if err := sess.InsertFortContributors(ctx, []bastion.FortContributor{
		{Name: "alice", Row: 11}, {Name: "bob", Row: 12}, {Name: "carol", Row: 13},
	}); err != nil {
		t.Fatalf("contributors: %v", err)
	}
	if err := sess.InsertFortTargets(ctx, []bastion.FortTarget{
		{Name: "Sol", Kind: bastion.FortKindFort, Trigger: 5000, Column: "D", SheetOrder: 1},
	}); err != nil {
		t.Fatalf("targets: %v", err)
	}
	target, err := sess.FortTargetByName(ctx, "sol")
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	contributors, _ := sess.FortContributors(ctx)
	byName := map[string]int64{}
	for _, c := range contributors {
		byName[c.Name] = c.ID
	}
	if err := sess.InsertFortContributions(ctx, []bastion.FortContribution{
		{ContributorID: byName["alice"], TargetID: target.ID, Amount: 300},
		{ContributorID: byName["bob"], TargetID: target.ID, Amount: 500},
		{ContributorID: byName["carol"], TargetID: target.ID, Amount: 500},
	}); err != nil {
		t.Fatalf("contributions: %v", err)
	}

	ranked, err := sess.TopFortMerits(ctx, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	want := []RankedAmount{
		{Rank: 1, Name: "bob", Amount: 500},
		{Rank: 1, Name: "carol", Amount: 500},
		{Rank: 2, Name: "alice", Amount: 300},
	}
	if len(ranked) != len(want) {
		t.Fatalf("got %d rows, want %d", len(ranked), len(want))
	}
	for i := range want {
		if ranked[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, ranked[i], want[i])
		}
	}
}
