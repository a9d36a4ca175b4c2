package bastion

import (
	"fmt"
	"strings"
	"time"
)

// FortKind discriminates fortification targets.
type FortKind string

const (
	FortKindFort FortKind = "fort"
	FortKindPrep FortKind = "prep"
)

// UmSheet names the two undermine documents.
type UmSheet string

const (
	UmSheetMain  UmSheet = "main"
	UmSheetSnipe UmSheet = "snipe"
)

// UmKind discriminates undermine targets.
type UmKind string

const (
	UmKindControl   UmKind = "control"
	UmKindExpansion UmKind = "expansion"
	UmKindOppose    UmKind = "oppose"
)

// ChatUser is a person known to the bot. Created on first command, never
// destroyed by normal flows. PrefName is unique across all users and links
// the chat identity to the sheet contributor rows.
type ChatUser struct {
	ID          string
	DisplayName string
	PrefName    string
	PrefCry     string
}

// FortContributor is a row in the fortification sheet. Its lifecycle is
// tied to a scan: a full rescan replaces all contributors wholesale.
type FortContributor struct {
	ID   int64
	Name string // equals some ChatUser.PrefName
	Row  int    // 1-based sheet row, unique per document
	Cry  string
}

// UmContributor is a row in one of the two undermine sheets.
type UmContributor struct {
	ID    int64
	Sheet UmSheet
	Name  string
	Row   int // unique per (Sheet, Row)
}

// FortTarget is one system column in the fortification sheet.
//
// CmdrMerits is a derived view: the sum of contribution amounts for this
// target, populated by store queries, never written directly.
type FortTarget struct {
	ID           int64
	Name         string // unique
	Kind         FortKind
	FortStatus   int
	Trigger      int     // >= 1
	FortOverride float64 // [0, 1]
	UmStatus     int
	Undermine    float64 // [0, 1]
	Distance     float64 // light years from headquarters
	Notes        string
	Column       string // A1-style, unique
	SheetOrder   int
	ManualOrder  *int

	CmdrMerits int
}

// CurrentStatus is the authoritative fort progress: the sheet status or the
// summed contributions, whichever is larger.
func (t *FortTarget) CurrentStatus() int {
	if t.CmdrMerits > t.FortStatus {
		return t.CmdrMerits
	}
	return t.FortStatus
}

// Missing is the merit shortfall to the trigger, floored at zero.
func (t *FortTarget) Missing() int {
	m := t.Trigger - t.CurrentStatus()
	if m < 0 {
		return 0
	}
	return m
}

// IsFortified reports completion. The override-aware form is authoritative:
// a sheet override of 100% counts even when raw status is short.
func (t *FortTarget) IsFortified() bool {
	return t.FortOverride >= 1 || t.CurrentStatus() >= t.Trigger
}

// IsUndermined reports whether the enemy completed their bar.
func (t *FortTarget) IsUndermined() bool { return t.Undermine >= 1 }

// IsMedium reports a medium-pad-only system ("s/m" in the notes).
func (t *FortTarget) IsMedium() bool {
	return strings.Contains(strings.ToLower(t.Notes), "s/m")
}

// IsPriority reports a leadership priority note.
func (t *FortTarget) IsPriority() bool {
	return strings.Contains(strings.ToLower(t.Notes), "priority")
}

// IsSkipped reports a "leave"/"skip" note: the target is deliberately not
// fortified this cycle.
func (t *FortTarget) IsSkipped() bool {
	notes := strings.ToLower(t.Notes)
	return strings.Contains(notes, "leave") || strings.Contains(notes, "skip")
}

// UmTarget is one system column pair in an undermine sheet.
//
// HeldSum and RedeemedSum are derived views populated by store queries.
type UmTarget struct {
	ID               int64
	Sheet            UmSheet
	Name             string
	Kind             UmKind
	Column           string // unique within Sheet
	Goal             int
	Security         string
	Notes            string
	CloseControl     string
	Priority         string
	ProgressUs       int
	ProgressThem     float64
	MapOffset        int
	ExpansionTrigger int

	HeldSum     int
	RedeemedSum int
}

// Merits is our summed undermining progress including the map offset.
func (t *UmTarget) Merits() int {
	return t.HeldSum + t.RedeemedSum + t.MapOffset
}

// Missing is the remaining merits to the goal for control systems. It goes
// negative once the goal is exceeded.
func (t *UmTarget) Missing() int {
	merits := t.Merits()
	if t.ProgressUs > merits {
		merits = t.ProgressUs
	}
	return t.Goal - merits
}

// IsUndermined reports completion. Expansions are never undermined here;
// they resolve only at the cycle tick.
func (t *UmTarget) IsUndermined() bool {
	if t.Kind != UmKindControl {
		return false
	}
	return t.Missing() <= 0
}

// ExpansionDelta is the lead (positive) or deficit (negative) of an
// expansion as a percentage of the opposing progress.
func (t *UmTarget) ExpansionDelta() float64 {
	us := float64(t.ProgressUs)
	if m := float64(t.Merits()); m > us {
		us = m
	}
	return us/float64(max(t.ExpansionTrigger, 1))*100 - t.ProgressThem*100
}

// Descriptor renders the completion line for replies.
func (t *UmTarget) Descriptor() string {
	if t.Kind == UmKindControl {
		if t.IsUndermined() {
			return "Undermined"
		}
		return fmt.Sprintf("%d needed", t.Missing())
	}
	d := t.ExpansionDelta()
	if d >= 0 {
		return fmt.Sprintf("leading by %.1f%%", d)
	}
	return fmt.Sprintf("behind by %.1f%%", -d)
}

// FortContribution records one contributor's merits against one fort
// target. Amounts are signed at input and clamped to >= 0 after
// accumulation.
type FortContribution struct {
	ID            int64
	ContributorID int64
	TargetID      int64
	Amount        int
}

// UmContribution records one contributor's held and redeemed merits
// against one undermine target.
type UmContribution struct {
	ID            int64
	Sheet         UmSheet
	ContributorID int64
	TargetID      int64
	Held          int // >= 0
	Redeemed      int // >= 0
}

// FortOrderOverride pins a fort target into a manual priority order.
// Ordinals form a gapless permutation 1..k.
type FortOrderOverride struct {
	Ordinal int
	Name    string // FortTarget.Name
}

// AdminPermission marks a user as a bot admin. CreatedAt orders seniority:
// only an earlier admin may remove a later one.
type AdminPermission struct {
	UserID    string
	CreatedAt time.Time
}

// ChannelPermission restricts a command to a channel within a guild.
// Zero rows for (Cmd, Guild) means the command runs anywhere.
type ChannelPermission struct {
	Cmd     string
	Guild   string
	Channel string
}

// RolePermission restricts a command to holders of a role within a guild.
type RolePermission struct {
	Cmd   string
	Guild string
	Role  string
}

// KosEntry is one kill-on-sight (or friendly-whitelisted) commander.
// Cmdr is unique.
type KosEntry struct {
	ID       int64
	Cmdr     string
	Squad    string
	Reason   string
	Friendly bool
}

// TrackedSystem is a watch centre: carrier jumps within DistanceLY of it
// raise alerts.
type TrackedSystem struct {
	Name       string
	DistanceLY float64 // >= 0
}

// TrackedSystemCached is one concrete system covered by at least one watch
// centre. OverlapsWith lists the centres covering it; when the set empties
// the row is deleted.
type TrackedSystemCached struct {
	Name         string
	OverlapsWith []string
}

// CarrierIDLen is the fixed length of a fleet carrier callsign (ABC-123).
const CarrierIDLen = 7

// TrackedCarrier is a hostile fleet carrier last seen in a watched system.
// Rows with Override false and UpdatedAt older than CarrierReapAge are
// reaped by the summary task.
type TrackedCarrier struct {
	ID         string // 7-character callsign
	Squad      string
	System     string
	PrevSystem string
	Override   bool // keep tracking outside watched space
	UpdatedAt  time.Time
}

// CarrierReapAge is how long a non-override carrier may go unseen before
// its row is dropped.
const CarrierReapAge = 4 * 24 * time.Hour

// SpySystem is a feed snapshot of a control system's fort/um bars.
type SpySystem struct {
	Name      string
	Power     string
	Fort      int
	FortTrig  int
	Um        int
	UmTrig    int
	Income    int
	Upkeep    int
	UpdatedAt time.Time
}

// SpyVote is a power's consolidation vote percentage snapshot.
type SpyVote struct {
	Power     string
	Vote      int
	UpdatedAt time.Time
}

// SpyPrep is a preparation-merit snapshot for a candidate system.
type SpyPrep struct {
	System    string
	Power     string
	Merits    int
	UpdatedAt time.Time
}

// SpyTraffic is a daily ship-traffic count snapshot for a system.
type SpyTraffic struct {
	System    string
	Day       int
	Total     int
	UpdatedAt time.Time
}

// SpyBounty is one row of a system's top-bounty table.
type SpyBounty struct {
	System    string
	Pos       int
	Cmdr      string
	Ship      string
	Bounty    int64
	UpdatedAt time.Time
}

// Global is the per-cycle singleton: cycle number and consolidation vote.
// UpdatedAt is strictly non-decreasing; stale writes are rejected.
type Global struct {
	Cycle         int
	Consolidation int
	UpdatedAt     time.Time
}
