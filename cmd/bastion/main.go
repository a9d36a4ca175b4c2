// Command bastion runs the faction's chat-ops bot: the Telegram command
// dispatcher, the document scanners, the EDDN ingester, and the
// periodic task supervisor, all over one SQLite cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/dispatch"
	"github.com/bastionbot/bastion/eddn"
	"github.com/bastionbot/bastion/feed"
	"github.com/bastionbot/bastion/frontend/telegram"
	"github.com/bastionbot/bastion/galaxy"
	"github.com/bastionbot/bastion/internal/config"
	"github.com/bastionbot/bastion/observer"
	"github.com/bastionbot/bastion/scan"
	"github.com/bastionbot/bastion/sheets"
	"github.com/bastionbot/bastion/store"
	"github.com/bastionbot/bastion/tasks"
)

// drainWindow bounds how long shutdown waits for in-flight work.
const drainWindow = 26 * time.Second

func main() {
	configPath := flag.String("config", "bastion.toml", "config file path")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, logger); err != nil {
		logger.Error("bastion: exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg := config.Load(configPath)
	if cfg.Chat.Token == "" {
		return errors.New("no chat token configured (chat.token or BASTION_CHAT_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The admin halt command cancels the same context the signals do.
	ctx, halt := context.WithCancel(ctx)
	defer halt()

	// Metrics are optional; when off, the nil observer disables recording.
	var obs *observer.Observer
	if cfg.Observer.Enabled {
		o, shutdown, err := observer.Init(ctx, cfg.Observer.Endpoint)
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		obs = o
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("observer: shutdown failed", "error", err)
			}
		}()
	}

	st := store.Open(cfg.Database.Path, store.WithLogger(logger))
	defer st.Close() //nolint:errcheck
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	catalog, err := galaxy.Open(ctx, cfg.Galaxy.Path, logger)
	if err != nil {
		// dist, trigger, and track add degrade without the catalog.
		logger.Warn("galaxy: catalog unavailable", "path", cfg.Galaxy.Path, "error", err)
		catalog = nil
	}

	transport := telegram.New(cfg.Chat.Token, telegram.WithLogger(logger))

	sheetFor := func(doc string) bastion.SheetClient {
		return bastion.WithRetry(
			sheets.New(doc, cfg.Sheets.Tab, cfg.Sheets.APIKey, sheets.WithLogger(logger)),
			bastion.RetryLogger(logger),
		)
	}
	flushDelay := time.Duration(cfg.Sheets.FlushDelayMS) * time.Millisecond
	scanOpts := []scan.Option{scan.WithLogger(logger), scan.WithFlushDelay(flushDelay)}

	scanners := dispatch.Scanners{}
	if cfg.Sheets.FortDoc != "" {
		scanners.Fort = scan.NewFort(sheetFor(cfg.Sheets.FortDoc), scanOpts...)
	}
	if cfg.Sheets.UmDoc != "" {
		scanners.UmMain = scan.NewUm(bastion.UmSheetMain, sheetFor(cfg.Sheets.UmDoc), scanOpts...)
	}
	if cfg.Sheets.SnipeDoc != "" {
		scanners.UmSnipe = scan.NewUm(bastion.UmSheetSnipe, sheetFor(cfg.Sheets.SnipeDoc), scanOpts...)
	}
	if cfg.Sheets.KosDoc != "" {
		scanners.Kos = scan.NewKos(sheetFor(cfg.Sheets.KosDoc), scanOpts...)
	}
	if cfg.Sheets.CarrierDoc != "" {
		scanners.Carriers = scan.NewCarriers(sheetFor(cfg.Sheets.CarrierDoc), scanOpts...)
	}
	if cfg.Sheets.RecruitDoc != "" {
		scanners.Recruits = scan.NewRecruits(sheetFor(cfg.Sheets.RecruitDoc), scanOpts...)
	}

	stream := eddn.New(cfg.Feed.Endpoint, eddn.WithLogger(logger))
	feedOpts := []feed.Option{
		feed.WithLogger(logger),
		feed.WithReconnectDelay(time.Duration(cfg.Feed.ReconnectSecs) * time.Second),
		feed.WithAlertChannel(cfg.Feed.AlertChannel),
	}
	if cfg.Feed.RawDir != "" {
		if err := os.MkdirAll(cfg.Feed.RawDir, 0o755); err != nil {
			return fmt.Errorf("feed raw dir: %w", err)
		}
		feedOpts = append(feedOpts, feed.WithRawDir(cfg.Feed.RawDir))
	}
	if obs != nil {
		feedOpts = append(feedOpts, feed.WithMetrics(obs))
	}
	ingester := feed.New(stream, st, transport, feedOpts...)

	sup := tasks.New(tasks.WithLogger(logger))

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithHalt(halt),
		dispatch.WithAlertChannelSink(ingester.SetAlertChannel),
		dispatch.WithSupervisor(sup),
	}
	if catalog != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithCatalog(catalog))
	}
	if obs != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMetrics(obs))
	}
	dispatcher := dispatch.New(dispatch.Config{
		Prefix:         cfg.Chat.Prefix,
		TTL:            time.Duration(cfg.Bot.ReplyTTLSecs) * time.Second,
		MaxDrop:        cfg.Bot.MaxDrop,
		DeferThreshold: cfg.Bot.DeferThreshold,
		Maintainer:     cfg.Chat.MaintainerID,
		HomeSystem:     cfg.Galaxy.HomeSystem,
		Leaders:        cfg.Chat.Leaders,
		BroadcastChan:  cfg.Chat.BroadcastChannel,
	}, st, transport, scanners, dispatchOpts...)

	scanInterval := time.Duration(cfg.Sheets.ScanSecs) * time.Second
	registerScanTasks(sup, st, obs, scanners, scanInterval)
	sup.Add("feed summary", time.Duration(cfg.Feed.SummarySecs)*time.Second, ingester.Summarize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return ingester.Run(gctx) })
	g.Go(func() error {
		sup.Start(gctx)
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, configPath, logger, func(next config.Config) {
			// Most settings need a restart; the alert channel applies live.
			if next.Feed.AlertChannel != "" {
				ingester.SetAlertChannel(next.Feed.AlertChannel)
			}
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	logger.Info("bastion: running", "prefix", cfg.Chat.Prefix, "db", cfg.Database.Path)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		select {
		case runErr = <-done:
		case <-time.After(drainWindow):
			logger.Warn("bastion: drain window expired, exiting")
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("bastion: stopped, o7")
	return nil
}

// registerScanTasks gives every configured scanner a periodic refresh
// task named "scan <doc>".
func registerScanTasks(sup *tasks.Supervisor, st *store.Store, obs *observer.Observer, scanners dispatch.Scanners, interval time.Duration) {
	for _, sc := range eachScanner(scanners) {
		sup.Add("scan "+sc.Name(), interval, func(ctx context.Context) error {
			start := time.Now()
			err := refresh(ctx, st, sc)
			if obs != nil {
				obs.Scan(ctx, sc.Name(), err == nil, time.Since(start))
			}
			return err
		})
	}
}

func refresh(ctx context.Context, st *store.Store, sc scan.Scanner) error {
	if err := sc.UpdateCells(ctx); err != nil {
		return err
	}
	return st.With(ctx, func(sess *store.Session) error {
		return sc.Scan(ctx, sess)
	})
}

func eachScanner(s dispatch.Scanners) []scan.Scanner {
	var out []scan.Scanner
	if s.Fort != nil {
		out = append(out, s.Fort)
	}
	if s.UmMain != nil {
		out = append(out, s.UmMain)
	}
	if s.UmSnipe != nil {
		out = append(out, s.UmSnipe)
	}
	if s.Kos != nil {
		out = append(out, s.Kos)
	}
	if s.Carriers != nil {
		out = append(out, s.Carriers)
	}
	if s.Recruits != nil {
		out = append(out, s.Recruits)
	}
	return out
}
