package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"blastbot/internal/app"
	"blastbot/internal/config"
	"blastbot/internal/eventbus"
	"blastbot/internal/run"
	logx "blastbot/pkg/logx"
)

func main() {
	var (
		cfgPath      string
		campaignPath string
		resumeID     string
		exportID     string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&campaignPath, "campaign", "", "campaign file to run; exits when the run finishes")
	flag.StringVar(&resumeID, "resume", "", "run ID to resume (requires -campaign)")
	flag.StringVar(&exportID, "export", "", "export artifacts for a recorded run ID and exit")
	flag.Parse()

	if err := realMain(cfgPath, campaignPath, resumeID, exportID); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func realMain(cfgPath, campaignPath, resumeID, exportID string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	cfgMgr.SetLogger(log)

	bus := eventbus.New()
	mgr, err := app.New(cfg, log, logSvc, bus)
	if err != nil {
		return err
	}

	if exportID != "" {
		art, err := mgr.Export(ctx, exportID)
		if err != nil {
			mgr.Stop(context.Background())
			return err
		}
		fmt.Printf("sent=%d failed=%d skipped=%d\n%s\n%s\n%s\n",
			art.Sent, art.Failed, art.Skipped,
			art.SuccessPath, art.FailedPath, art.LogPath)
		mgr.Stop(context.Background())
		return nil
	}

	mgr.Start(ctx)

	// Mirror bus traffic into the log so an operator tailing it sees
	// every run transition and delivery outcome without a subscriber
	// of their own.
	events, unsub := bus.Subscribe(64)
	defer unsub()
	go func() {
		for ev := range events {
			logEvent(log, ev)
		}
	}()

	// Config changes apply live where they can (log level, pacing).
	cfgCh := cfgMgr.Subscribe(4)
	defer cfgMgr.Unsubscribe(cfgCh)
	go func() {
		for c := range cfgCh {
			mgr.ApplyConfig(c)
		}
	}()
	go func() {
		if err := cfgMgr.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var runErr error
	if campaignPath != "" {
		runErr = runCampaign(ctx, mgr, log, campaignPath, resumeID)
	} else {
		log.Info("service ready, waiting for work")
		<-ctx.Done()
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	mgr.Stop(stopCtx)
	return runErr
}

func logEvent(log logx.Logger, ev eventbus.Event) {
	switch data := ev.Data.(type) {
	case eventbus.RunEvent:
		log.Info("run event",
			logx.String("type", ev.Type),
			logx.String("run", data.RunID),
			logx.String("status", data.Status),
			logx.Int("sent", data.Sent),
			logx.Int("failed", data.Failed))
	case eventbus.SendEvent:
		emit := log.Debug
		if ev.Type == eventbus.TypeSendFailed {
			emit = log.Warn
		}
		emit("send event",
			logx.String("type", ev.Type),
			logx.String("run", data.RunID),
			logx.String("target", data.Target),
			logx.String("outcome", data.Outcome),
			logx.String("error", data.Error))
	case eventbus.AccountEvent:
		log.Warn("account event",
			logx.String("type", ev.Type),
			logx.String("account", data.Handle),
			logx.String("status", data.Status))
	default:
		log.Debug("event", logx.String("type", ev.Type))
	}
}

// runCampaign executes one campaign to its terminal state and writes
// the export artifacts next to the result log.
func runCampaign(ctx context.Context, mgr *app.Manager, log logx.Logger, path, resumeID string) error {
	c, err := config.LoadCampaign(path)
	if err != nil {
		return err
	}

	var ctl *run.Controller
	if resumeID != "" {
		ctl, err = mgr.ResumeRun(ctx, resumeID, c)
	} else {
		ctl, err = mgr.StartRun(ctx, c)
	}
	if err != nil {
		return err
	}

	select {
	case <-ctl.Done():
	case <-ctx.Done():
		ctl.Stop("interrupted")
		<-ctl.Done()
	}

	p := ctl.Progress()
	log.Info("campaign finished",
		logx.String("run", ctl.ID()),
		logx.String("status", string(p.Status)),
		logx.Int("sent", p.Sent),
		logx.Int("failed", p.Failed),
		logx.Int("skipped", p.Skipped),
		logx.Int("remaining", p.Remaining))

	art, err := mgr.Export(context.Background(), ctl.ID())
	if err != nil {
		return fmt.Errorf("export run %s: %w", ctl.ID(), err)
	}
	fmt.Printf("run %s: %s (sent=%d failed=%d skipped=%d)\nartifacts: %s\n",
		ctl.ID(), p.Status, p.Sent, p.Failed, p.Skipped, art.LogPath)

	if p.Status == run.StatusFailed {
		return fmt.Errorf("run %s failed: %s", ctl.ID(), p.Reason)
	}
	return nil
}
