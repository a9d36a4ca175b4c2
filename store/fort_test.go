package store

import (
	"context"
	"errors"
	"testing"

	"github.com/bastionbot/bastion"
)

func seedFortTargets(t *testing.T, sess *Session) {
	t.Helper()
	targets := []bastion.FortTarget{
		{Name: "Sol", Kind: bastion.FortKindFort, FortStatus: 1000, Trigger: 5000, Column: "D", SheetOrder: 1},
		{Name: "Achenar", Kind: bastion.FortKindFort, Trigger: 3000, Column: "F", SheetOrder: 2},
		{Name: "Alioth", Kind: bastion.FortKindPrep, Trigger: 2000, Column: "H", SheetOrder: 3},
	}
	if err := sess.InsertFortTargets(context.Background(), targets); err != nil {
		t.Fatalf("insert targets: %v", err)
	}
}

func TestFortTargetSubstringLookup(t *testing.T) {
	sess := testSession(t)
	seedFortTargets(t, sess)
	ctx := context.Background()

	got, err := sess.FortTargetByName(ctx, "ache")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Name != "Achenar" {
		t.Errorf("matched %q, want Achenar", got.Name)
	}

	_, err = sess.FortTargetByName(ctx, "xyzzy")
	var noMatch *bastion.NoMatchError
	if !errors.As(err, &noMatch) {
		t.Errorf("err = %v, want NoMatchError", err)
	}

	// "a" is a substring of all three names.
	_, err = sess.FortTargetByName(ctx, "a")
	var ambiguous *bastion.AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Errorf("err = %v, want AmbiguousError", err)
	}
}

func TestFortTargetExactMatchBeatsSubstring(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()
	targets := []bastion.FortTarget{
		{Name: "Luyten", Kind: bastion.FortKindFort, Trigger: 100, Column: "D", SheetOrder: 1},
		{Name: "Luyten's Star", Kind: bastion.FortKindFort, Trigger: 100, Column: "F", SheetOrder: 2},
	}
	if err := sess.InsertFortTargets(ctx, targets); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := sess.FortTargetByName(ctx, "LUYTEN")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Name != "Luyten" {
		t.Errorf("matched %q, want the exact-name target", got.Name)
	}
}

func TestDropFortAccumulatesAndClamps(t *testing.T) {
	sess := testSession(t)
	seedFortTargets(t, sess)
	ctx := context.Background()

	if err := sess.InsertFortContributors(ctx, []bastion.FortContributor{{Name: "alice", Row: 11}}); err != nil {
		t.Fatalf("contributor: %v", err)
	}
	contributor, err := sess.FortContributorByName(ctx, "alice")
	if err != nil {
		t.Fatalf("get contributor: %v", err)
	}
	target, err := sess.FortTargetByName(ctx, "sol")
	if err != nil {
		t.Fatalf("get target: %v", err)
	}

	got, err := sess.DropFort(ctx, contributor.ID, target.ID, 700)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if got.FortStatus != 1700 || got.CmdrMerits != 700 {
		t.Errorf("after drop: status=%d merits=%d, want 1700/700", got.FortStatus, got.CmdrMerits)
	}

	// A correction larger than the balance clamps both sides at zero.
	got, err = sess.DropFort(ctx, contributor.ID, target.ID, -2500)
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	if got.CmdrMerits != 0 {
		t.Errorf("contribution = %d, want clamp at 0", got.CmdrMerits)
	}
	if got.FortStatus != 0 {
		t.Errorf("status = %d, want clamp at 0", got.FortStatus)
	}
}

func TestCurrentStatusPrefersLarger(t *testing.T) {
	sess := testSession(t)
	seedFortTargets(t, sess)
	ctx := context.Background()

	if err := sess.InsertFortContributors(ctx, []bastion.FortContributor{{Name: "alice", Row: 11}}); err != nil {
		t.Fatalf("contributor: %v", err)
	}
	contributor, _ := sess.FortContributorByName(ctx, "alice")
	target, _ := sess.FortTargetByName(ctx, "ache")

	// Sheet status stays at 0; only tracked contributions move.
	if err := sess.InsertFortContributions(ctx, []bastion.FortContribution{
		{ContributorID: contributor.ID, TargetID: target.ID, Amount: 3200},
	}); err != nil {
		t.Fatalf("contribution: %v", err)
	}
	got, err := sess.FortTarget(ctx, target.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentStatus() != 3200 {
		t.Errorf("current status = %d, want 3200", got.CurrentStatus())
	}
	if !got.IsFortified() {
		t.Error("target with merits past trigger not reported fortified")
	}
}

func TestReplaceFortOrder(t *testing.T) {
	sess := testSession(t)
	seedFortTargets(t, sess)
	ctx := context.Background()

	if err := sess.ReplaceFortOrder(ctx, []string{"alioth", "sol"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	order, err := sess.FortOrder(ctx)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(order) != 2 || order[0] != "Alioth" || order[1] != "Sol" {
		t.Errorf("order = %v, want [Alioth Sol]", order)
	}

	// Unknown names reject the whole replacement.
	if err := sess.ReplaceFortOrder(ctx, []string{"sol", "nowhere"}); err == nil {
		t.Error("replacement with unknown name succeeded")
	}

	// An empty list clears the override.
	if err := sess.ReplaceFortOrder(ctx, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	order, _ = sess.FortOrder(ctx)
	if len(order) != 0 {
		t.Errorf("order after clear = %v, want empty", order)
	}
}

func TestFortContributionsForOrdering(t *testing.T) {
	sess := testSession(t)
	seedFortTargets(t, sess)
	ctx := context.Background()

	if err := sess.InsertFortContributors(ctx, []bastion.FortContributor{
		{Name: "zed", Row: 11}, {Name: "amy", Row: 12}, {Name: "bob", Row: 13},
	}); err != nil {
		t.Fatalf("contributors: %v", err)
	}
	target, _ := sess.FortTargetByName(ctx, "sol")
	contributors, _ := sess.FortContributors(ctx)
	byName := map[string]int64{}
	for _, c := range contributors {
		byName[c.Name] = c.ID
	}
	if err := sess.InsertFortContributions(ctx, []bastion.FortContribution{
		{ContributorID: byName["zed"], TargetID: target.ID, Amount: 200},
		{ContributorID: byName["amy"], TargetID: target.ID, Amount: 200},
		{ContributorID: byName["bob"], TargetID: target.ID, Amount: 900},
	}); err != nil {
		t.Fatalf("contributions: %v", err)
	}

	list, err := sess.FortContributionsFor(ctx, target.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantNames := []string{"bob", "amy", "zed"}
	if len(list) != 3 {
		t.Fatalf("got %d rows, want 3", len(list))
	}
	for i, w := range wantNames {
		if list[i].Name != w {
			t.Errorf("row %d = %q, want %q", i, list[i].Name, w)
		}
	}
}

func TestInsertFortTargetValidation(t *testing.T) {
	sess := testSession(t)
	ctx := context.Background()

	bad := []bastion.FortTarget{{Name: "NoTrigger", Kind: bastion.FortKindFort, Trigger: 0, Column: "D", SheetOrder: 1}}
	err := sess.InsertFortTargets(ctx, bad)
	var validation *bastion.ValidationError
	if !errors.As(err, &validation) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}
