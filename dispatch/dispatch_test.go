package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/scan"
	"github.com/bastionbot/bastion/store"
)

// fakeTransport records outgoing chat traffic.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []string // channel + "|" + text
	ttl     []string
	deleted []string
}

func (f *fakeTransport) Poll(ctx context.Context) (<-chan bastion.Event, error) {
	ch := make(chan bastion.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeTransport) Send(ctx context.Context, channel, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, channel+"|"+text)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeTransport) SendTTL(ctx context.Context, channel, text string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = append(f.ttl, channel+"|"+text)
	return fmt.Sprintf("ttl-%d", len(f.ttl)), nil
}

func (f *fakeTransport) Delete(ctx context.Context, channel, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msgID)
	return nil
}

func (f *fakeTransport) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) lastTTL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ttl) == 0 {
		return ""
	}
	return f.ttl[len(f.ttl)-1]
}

var _ bastion.Transport = (*fakeTransport)(nil)

// fakeSheet is a minimal document backend for the scanners under test.
type fakeSheet struct {
	mu        sync.Mutex
	cells     [][]string
	batches   [][]bastion.Update
	tab       string
	changeErr error
}

func (f *fakeSheet) Title(ctx context.Context) (string, error) { return "fake", nil }

func (f *fakeSheet) WholeSheet(ctx context.Context) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cells, nil
}

func (f *fakeSheet) BatchGet(ctx context.Context, ranges []string) ([][][]string, error) {
	return nil, nil
}

func (f *fakeSheet) BatchUpdate(ctx context.Context, updates []bastion.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, updates)
	return nil
}

func (f *fakeSheet) ChangeWorksheet(ctx context.Context, tab string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeErr != nil {
		return f.changeErr
	}
	f.tab = tab
	return nil
}

func (f *fakeSheet) Worksheet() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tab
}

var _ bastion.SheetClient = (*fakeSheet)(nil)

// fakeCatalog serves canned coverage and distances. With no dist map
// every pair is 42.5 ly apart.
type fakeCatalog struct {
	within map[string][]string
	dist   map[string]float64
}

func (f *fakeCatalog) SystemsWithin(centre string, ly float64) ([]string, error) {
	if sys, ok := f.within[centre]; ok {
		return sys, nil
	}
	return nil, fmt.Errorf("unknown system %q", centre)
}

func (f *fakeCatalog) Distance(a, b string) (float64, error) {
	if f.dist == nil {
		return 42.5, nil
	}
	if d, ok := f.dist[a+"|"+b]; ok {
		return d, nil
	}
	if d, ok := f.dist[b+"|"+a]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown pair %q %q", a, b)
}

type harness struct {
	d          *Dispatcher
	store      *store.Store
	transport  *fakeTransport
	catalog    *fakeCatalog
	fortSheet  *fakeSheet
	umSheet    *fakeSheet
	snipeSheet *fakeSheet
	kosSheet   *fakeSheet
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.Open(":memory:")
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	h := &harness{
		store:      st,
		transport:  &fakeTransport{},
		fortSheet:  &fakeSheet{},
		umSheet:    &fakeSheet{},
		snipeSheet: &fakeSheet{},
		kosSheet:   &fakeSheet{},
	}
	scanners := Scanners{
		Fort:     scan.NewFort(h.fortSheet),
		UmMain:   scan.NewUm(bastion.UmSheetMain, h.umSheet),
		UmSnipe:  scan.NewUm(bastion.UmSheetSnipe, h.snipeSheet),
		Kos:      scan.NewKos(h.kosSheet),
		Carriers: scan.NewCarriers(&fakeSheet{}),
		Recruits: scan.NewRecruits(&fakeSheet{}),
	}
	h.catalog = &fakeCatalog{within: map[string][]string{
		"Rana": {"Rana", "Frey", "LTT 1345"},
	}}
	h.d = New(Config{
		Prefix:  "!",
		TTL:     20 * time.Millisecond,
		MaxDrop: 800,
		Leaders: []string{"zed"},
	}, st, h.transport, scanners,
		WithCatalog(h.catalog))
	return h
}

func (h *harness) seedUser(t *testing.T, id, name string) {
	t.Helper()
	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		return sess.EnsureUser(context.Background(), bastion.ChatUser{ID: id, DisplayName: name})
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (h *harness) seedAdmin(t *testing.T, id string, at time.Time) {
	t.Helper()
	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		return sess.AddAdmin(context.Background(), id, at)
	}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
}

func (h *harness) seedFort(t *testing.T) {
	t.Helper()
	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		ctx := context.Background()
		err := sess.InsertFortTargets(ctx, []bastion.FortTarget{
			{Name: "Frey", Kind: bastion.FortKindFort, FortStatus: 4210, Trigger: 4910, Column: "F", SheetOrder: 1},
			{Name: "Rana", Kind: bastion.FortKindFort, Trigger: 5000, Column: "G", SheetOrder: 2},
		})
		if err != nil {
			return err
		}
		_, err = sess.AddFortContributor(ctx, bastion.FortContributor{Name: "alice", Row: 11, Cry: "For the Federation!"})
		return err
	}); err != nil {
		t.Fatalf("seed fort: %v", err)
	}
}

func (h *harness) seedUm(t *testing.T) {
	t.Helper()
	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		ctx := context.Background()
		err := sess.InsertUmTargets(ctx, []bastion.UmTarget{
			{Sheet: bastion.UmSheetMain, Name: "Rhea", Kind: bastion.UmKindControl, Column: "D", Goal: 9000},
		})
		if err != nil {
			return err
		}
		_, err = sess.AddUmContributor(ctx, bastion.UmContributor{Sheet: bastion.UmSheetMain, Name: "alice", Row: 14})
		return err
	}); err != nil {
		t.Fatalf("seed um: %v", err)
	}
}

func event(author, name, content string) bastion.Event {
	return bastion.Event{
		ID: "m1", Guild: "guild", Channel: "chan",
		Author: author, AuthorName: name, Content: content,
	}
}

func TestDropFortifiesWithBanner(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedFort(t)

	h.d.Handle(context.Background(), event("u1", "alice", "!drop 700 Frey"))

	got := h.transport.lastSent()
	if !strings.Contains(got, "4,910/4,910") {
		t.Errorf("reply = %q, want completed status", got)
	}
	if !strings.Contains(got, "Frey is fortified!") {
		t.Errorf("reply = %q, want fortification banner", got)
	}
	if !strings.Contains(got, "For the Federation!") {
		t.Errorf("reply = %q, want the dropper's cry", got)
	}
	if !strings.Contains(got, "alice with 700") {
		t.Errorf("reply = %q, want top contributor", got)
	}
	if !strings.Contains(got, "Next target: Rana") {
		t.Errorf("reply = %q, want next call", got)
	}
}

func TestDropWritesCellsThroughFlusher(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedFort(t)

	h.d.Handle(context.Background(), event("u1", "alice", "!drop 300 Frey"))
	if err := h.d.scanners.Fort.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	h.fortSheet.mu.Lock()
	defer h.fortSheet.mu.Unlock()
	if len(h.fortSheet.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(h.fortSheet.batches))
	}
	var ranges []string
	for _, u := range h.fortSheet.batches[0] {
		ranges = append(ranges, u.Range)
	}
	joined := strings.Join(ranges, " ")
	// The contribution cell and both status cells of column F.
	if !strings.Contains(joined, "F11") || !strings.Contains(joined, "F3") {
		t.Errorf("ranges = %v, want F11 and F3 writes", ranges)
	}
}

func TestDropAutoEnrollsContributor(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u2", "bob")
	h.seedFort(t)

	h.d.Handle(context.Background(), event("u2", "bob", "!drop 100 Rana"))

	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		c, err := sess.FortContributorByName(context.Background(), "bob")
		if err != nil {
			return err
		}
		// alice holds 11, so bob lands on the next free row.
		if c.Row != 12 {
			t.Errorf("row = %d, want 12", c.Row)
		}
		return nil
	}); err != nil {
		t.Fatalf("bob not enrolled: %v", err)
	}
}

func TestDropOverMaxRejected(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedFort(t)

	h.d.Handle(context.Background(), event("u1", "alice", "!drop 900 Frey"))

	if got := h.transport.lastTTL(); !strings.Contains(got, "outside") {
		t.Errorf("transient = %q, want amount rejection", got)
	}
	// The bad invocation is deleted after the TTL.
	deadline := time.After(time.Second)
	for {
		h.transport.mu.Lock()
		n := len(h.transport.deleted)
		h.transport.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("original message never deleted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDoubleMentionRejected(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedFort(t)

	ev := event("u1", "alice", "!drop 100 Frey")
	ev.Mentions = []bastion.Mention{{ID: "u2", Name: "bob"}, {ID: "u3", Name: "carol"}}
	h.d.Handle(context.Background(), ev)

	if got := h.transport.lastTTL(); !strings.Contains(got, "at most one") {
		t.Errorf("transient = %q, want mention rejection", got)
	}
}

func TestMentionDelegatesActor(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedFort(t)

	ev := event("u1", "alice", "!drop 200 Frey")
	ev.Mentions = []bastion.Mention{{ID: "u2", Name: "bob"}}
	h.d.Handle(context.Background(), ev)

	if got := h.transport.lastSent(); !strings.Contains(got, "bob drops 200") {
		t.Errorf("reply = %q, want bob as actor", got)
	}
}

func TestChannelGate(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedFort(t)
	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		return sess.AddChannelPerm(context.Background(),
			bastion.ChannelPermission{Cmd: "fort", Guild: "guild", Channel: "ops-only"})
	}); err != nil {
		t.Fatal(err)
	}

	h.d.Handle(context.Background(), event("u1", "alice", "!fort"))
	if got := h.transport.lastTTL(); !strings.Contains(got, "not allowed in this channel") {
		t.Errorf("transient = %q, want channel denial", got)
	}

	ev := event("u1", "alice", "!fort")
	ev.Channel = "ops-only"
	h.d.Handle(context.Background(), ev)
	if got := h.transport.lastSent(); !strings.Contains(got, "Current fort targets") {
		t.Errorf("reply = %q, want target list", got)
	}
}

func TestAdminGateAndSeniority(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "elder", "elder")
	h.seedUser(t, "junior", "junior")

	h.d.Handle(context.Background(), event("junior", "junior", "!admin info"))
	if got := h.transport.lastTTL(); !strings.Contains(got, "admins only") {
		t.Errorf("transient = %q, want admin denial", got)
	}

	h.seedAdmin(t, "elder", time.Unix(1000, 0))
	h.seedAdmin(t, "junior", time.Unix(2000, 0))

	// A junior admin cannot demote their elder.
	ev := event("junior", "junior", "!admin remove @elder")
	ev.Mentions = []bastion.Mention{{ID: "elder", Name: "elder"}}
	h.d.Handle(context.Background(), ev)
	if got := h.transport.lastTTL(); !strings.Contains(got, "earlier admin") {
		t.Errorf("transient = %q, want seniority denial", got)
	}

	// The elder can demote the junior.
	ev = event("elder", "elder", "!admin remove @junior")
	ev.Mentions = []bastion.Mention{{ID: "junior", Name: "junior"}}
	h.d.Handle(context.Background(), ev)
	if got := h.transport.lastSent(); !strings.Contains(got, "no longer a bot admin") {
		t.Errorf("reply = %q, want demotion", got)
	}
}

func TestNearListsOpenTargetsByDistance(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedFort(t)
	h.catalog.dist = map[string]float64{
		"Home|Home": 0,
		"Home|Frey": 10.2,
		"Home|Rana": 61.8,
	}

	h.d.Handle(context.Background(), event("u1", "alice", "!near Home"))
	got := h.transport.lastSent()
	if !strings.Contains(got, "Frey") {
		t.Errorf("reply = %q, want Frey in range", got)
	}
	if strings.Contains(got, "Rana") {
		t.Errorf("reply = %q, want Rana outside the default radius", got)
	}

	// A wider radius brings Rana in.
	h.d.Handle(context.Background(), event("u1", "alice", "!near Home --ly 100"))
	if got := h.transport.lastSent(); !strings.Contains(got, "Rana") {
		t.Errorf("reply = %q, want Rana within 100 ly", got)
	}

	h.d.Handle(context.Background(), event("u1", "alice", "!near Nowhere"))
	if got := h.transport.lastTTL(); !strings.Contains(got, "no system") {
		t.Errorf("transient = %q, want unknown system", got)
	}
}

func TestRouteTotalsLegs(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")

	h.d.Handle(context.Background(), event("u1", "alice", "!route Rana, Frey, Sol"))
	got := h.transport.lastSent()
	if !strings.Contains(got, "Rana to Frey: 42.50 ly") {
		t.Errorf("reply = %q, want first leg", got)
	}
	if !strings.Contains(got, "total: 85.00 ly over 2 legs") {
		t.Errorf("reply = %q, want total", got)
	}

	h.d.Handle(context.Background(), event("u1", "alice", "!route Rana"))
	if got := h.transport.lastTTL(); !strings.Contains(got, "usage") {
		t.Errorf("transient = %q, want usage", got)
	}
}

func TestScoutReportsFeedSnapshot(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		return sess.UpsertSpySystem(context.Background(), bastion.SpySystem{
			Name: "Rhea", Power: "Zachary Hudson",
			Fort: 4200, FortTrig: 4910, Um: 900, UmTrig: 9000,
			UpdatedAt: time.Now().Add(-30 * time.Minute),
		})
	}); err != nil {
		t.Fatal(err)
	}

	h.d.Handle(context.Background(), event("u1", "alice", "!scout Rhea"))
	got := h.transport.lastSent()
	if !strings.Contains(got, "Rhea (Zachary Hudson)") {
		t.Errorf("reply = %q, want system and power", got)
	}
	if !strings.Contains(got, "fort 4,200/4,910") || !strings.Contains(got, "um 900/9,000") {
		t.Errorf("reply = %q, want snapshot numbers", got)
	}
}

func TestAdminCycleDerivesNextTab(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedAdmin(t, "u1", time.Unix(1000, 0))
	h.fortSheet.cells = [][]string{{"", "", "", "", "Frey", "Rana"}}
	h.fortSheet.tab = "Cycle 42"
	h.umSheet.tab = "Cycle 42"
	h.snipeSheet.tab = "Cycle 42"

	h.d.Handle(context.Background(), event("u1", "alice", "!admin cycle"))

	got := h.transport.lastSent()
	if !strings.Contains(got, `tab "Cycle 43"`) || !strings.Contains(got, "cycle 1 begins") {
		t.Fatalf("reply = %q", got)
	}
	for _, sheet := range []*fakeSheet{h.fortSheet, h.umSheet, h.snipeSheet} {
		if tab := sheet.Worksheet(); tab != "Cycle 43" {
			t.Errorf("tab = %q, want Cycle 43", tab)
		}
	}
}

func TestAdminCycleExplicitTabStillAccepted(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedAdmin(t, "u1", time.Unix(1000, 0))
	h.fortSheet.cells = [][]string{{"", "", "", "", "Frey", "Rana"}}

	h.d.Handle(context.Background(), event("u1", "alice", "!admin cycle Snipe Week"))
	if got := h.transport.lastSent(); !strings.Contains(got, `tab "Snipe Week"`) {
		t.Fatalf("reply = %q", got)
	}
	if tab := h.fortSheet.Worksheet(); tab != "Snipe Week" {
		t.Errorf("tab = %q", tab)
	}
}

func TestAdminCycleUnparsableTab(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedAdmin(t, "u1", time.Unix(1000, 0))
	h.fortSheet.tab = "Operations"

	h.d.Handle(context.Background(), event("u1", "alice", "!admin cycle"))
	if got := h.transport.lastTTL(); !strings.Contains(got, "cannot derive the next tab") {
		t.Fatalf("transient = %q", got)
	}
	if tab := h.fortSheet.Worksheet(); tab != "Operations" {
		t.Errorf("tab = %q, want untouched", tab)
	}
}

func TestAdminCycleRevertsOnFailure(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedAdmin(t, "u1", time.Unix(1000, 0))
	h.fortSheet.tab = "Cycle 7"
	h.umSheet.tab = "Cycle 7"
	h.snipeSheet.tab = "Cycle 7"
	h.snipeSheet.changeErr = errors.New("no such tab")

	h.d.Handle(context.Background(), event("u1", "alice", "!admin cycle"))

	// The documents switched before the failure come back.
	if tab := h.fortSheet.Worksheet(); tab != "Cycle 7" {
		t.Errorf("fort tab = %q, want reverted", tab)
	}
	if tab := h.umSheet.Worksheet(); tab != "Cycle 7" {
		t.Errorf("um tab = %q, want reverted", tab)
	}
	var cycle int
	h.store.With(context.Background(), func(sess *store.Session) error { //nolint:errcheck
		g, err := sess.Global(context.Background())
		if err != nil {
			t.Fatalf("global: %v", err)
		}
		cycle = g.Cycle
		return nil
	})
	if cycle != 0 {
		t.Errorf("cycle = %d, want unchanged", cycle)
	}
}

func TestNextTab(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Cycle 42", "Cycle 43"},
		{"C99", "C100"},
		{"7", "8"},
	}
	for _, c := range cases {
		got, err := nextTab(c.in)
		if err != nil || got != c.want {
			t.Errorf("nextTab(%q) = %q, %v, want %q", c.in, got, err, c.want)
		}
	}
	for _, bad := range []string{"", "Operations", "Week one"} {
		if _, err := nextTab(bad); err == nil {
			t.Errorf("nextTab(%q) succeeded, want error", bad)
		}
	}
}

func TestFortOrderOverride(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedAdmin(t, "u1", time.Unix(1000, 0))
	h.seedFort(t)

	h.d.Handle(context.Background(), event("u1", "alice", "!fort --order Rana,Frey"))
	if got := h.transport.lastSent(); !strings.Contains(got, "manual fort order set") {
		t.Fatalf("reply = %q", got)
	}

	h.d.Handle(context.Background(), event("u1", "alice", "!fort"))
	got := h.transport.lastSent()
	if !strings.Contains(got, "Rana") || strings.Contains(got, "Frey") {
		t.Errorf("reply = %q, want only the override head Rana", got)
	}
}

func TestHoldSetAndRedeem(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedUm(t)

	h.d.Handle(context.Background(), event("u1", "alice", "!hold 400 Rhea"))
	if got := h.transport.lastSent(); !strings.Contains(got, "alice holds 400 at Rhea") {
		t.Fatalf("reply = %q", got)
	}

	h.d.Handle(context.Background(), event("u1", "alice", "!hold --redeem"))
	if got := h.transport.lastSent(); !strings.Contains(got, "alice redeems 400") {
		t.Fatalf("reply = %q", got)
	}

	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		holds, err := sess.HoldsFor(context.Background(), "alice")
		if err != nil {
			return err
		}
		if len(holds) != 1 || holds[0].Held != 0 || holds[0].Redeemed != 400 {
			t.Errorf("holds = %+v, want 0 held / 400 redeemed", holds)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHoldDiedZeroesHoldings(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedUm(t)

	h.d.Handle(context.Background(), event("u1", "alice", "!hold 250 Rhea"))
	h.d.Handle(context.Background(), event("u1", "alice", "!hold --died"))
	if got := h.transport.lastSent(); !strings.Contains(got, "250 held merits lost") {
		t.Fatalf("reply = %q", got)
	}
}

func TestKosReportDuplicate(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")

	h.d.Handle(context.Background(), event("u1", "alice", "!kos report Baddie --reason ganking"))
	if got := h.transport.lastSent(); !strings.Contains(got, "added to the kill-on-sight list") {
		t.Fatalf("reply = %q", got)
	}
	h.d.Handle(context.Background(), event("u1", "alice", "!kos report baddie"))
	if got := h.transport.lastSent(); !strings.Contains(got, "already on the list") {
		t.Errorf("reply = %q, want duplicate notice", got)
	}
}

func TestTrackAddMergesCoverage(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.seedAdmin(t, "u1", time.Unix(1000, 0))

	h.d.Handle(context.Background(), event("u1", "alice", "!track add 15 Rana"))
	if got := h.transport.lastSent(); !strings.Contains(got, "3 systems within 15 ly") {
		t.Fatalf("reply = %q", got)
	}

	if err := h.store.With(context.Background(), func(sess *store.Session) error {
		watched, _, err := sess.IsWatched(context.Background(), "LTT 1345")
		if err != nil {
			return err
		}
		if !watched {
			t.Error("LTT 1345 not in the coverage cache")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.d.Handle(context.Background(), event("u1", "alice", "!bogus"))
	if got := h.transport.lastTTL(); !strings.Contains(got, "unknown command") {
		t.Errorf("transient = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("line of text\n", 400)
	parts := splitMessage(long, bastion.MaxMessageLen)
	if len(parts) < 2 {
		t.Fatalf("parts = %d, want several", len(parts))
	}
	for i, p := range parts {
		if len(p) > bastion.MaxMessageLen {
			t.Errorf("part %d is %d chars", i, len(p))
		}
		if !strings.Contains(p, "line of text") {
			t.Errorf("part %d lost content", i)
		}
	}
}

func TestDistUsesCatalog(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "u1", "alice")
	h.d.Handle(context.Background(), event("u1", "alice", "!dist Sol, Rana"))
	if got := h.transport.lastSent(); !strings.Contains(got, "42.50 ly") {
		t.Errorf("reply = %q", got)
	}
}

func TestCycleTick(t *testing.T) {
	// A Tuesday maps to the Thursday of the same week.
	now := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	tick := cycleTick(now)
	if tick.Weekday() != time.Thursday || tick.Hour() != 7 {
		t.Errorf("tick = %v", tick)
	}
	if tick.Day() != 20 {
		t.Errorf("tick day = %d, want 20", tick.Day())
	}
	// Just past the tick rolls a full week.
	after := time.Date(2026, 8, 20, 7, 0, 1, 0, time.UTC)
	if got := cycleTick(after); got.Day() != 27 {
		t.Errorf("tick after tick = %v, want the 27th", got)
	}
}
