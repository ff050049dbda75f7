// Package app assembles the delivery service: account pool, transport,
// result log, event bus and the currently active run. It is the layer
// the command binary and the control surface talk to.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"blastbot/internal/account"
	"blastbot/internal/config"
	"blastbot/internal/eventbus"
	"blastbot/internal/message"
	"blastbot/internal/run"
	"blastbot/internal/sink"
	"blastbot/internal/target"
	"blastbot/internal/transport/telegram"
	logx "blastbot/pkg/logx"
)

// ErrRunActive is returned when a run is started while another one is
// still in a non-terminal state.
var ErrRunActive = errors.New("app: another run is active")

// ErrNoRun is returned for control operations without a matching run.
var ErrNoRun = errors.New("app: no such run")

// Manager wires configuration into long-lived components and tracks runs.
type Manager struct {
	log    logx.Logger
	logSvc *logx.Service
	bus    eventbus.Bus

	pool   *account.Pool
	sender *telegram.Adapter
	store  sink.Store
	resets *account.ResetScheduler
	export string

	mu      sync.Mutex
	dispCfg config.DispatchConfig
	active  *run.Controller
	runs    map[string]*run.Controller
	order   []string // run IDs, oldest first
}

// historyLimit bounds how many finished runs stay queryable in memory.
// The durable log keeps everything; this is just the hot view.
const historyLimit = 50

// New builds a Manager from validated configuration. It opens the
// result log but performs no network activity.
func New(cfg *config.Config, log logx.Logger, logSvc *logx.Service, bus eventbus.Bus) (*Manager, error) {
	if bus == nil {
		bus = eventbus.New()
	}

	loc := time.UTC
	if cfg.Accounts.ResetLocation != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Accounts.ResetLocation)
		if err != nil {
			return nil, fmt.Errorf("accounts.reset_location: %w", err)
		}
	}
	cooldownBase, _ := config.ParseDurationOrDefault("accounts.cooldown_base", cfg.Accounts.CooldownBase, 5*time.Minute)
	cooldownMax, _ := config.ParseDurationOrDefault("accounts.cooldown_max", cfg.Accounts.CooldownMax, 2*time.Hour)

	seeds := make([]account.Seed, 0, len(cfg.Accounts.Entries))
	tokens := make([]telegram.Account, 0, len(cfg.Accounts.Entries))
	for _, e := range cfg.Accounts.Entries {
		h := strings.TrimSpace(e.Handle)
		seeds = append(seeds, account.Seed{Handle: h, DailyLimit: e.DailyLimit})
		tokens = append(tokens, telegram.Account{Handle: h, Token: e.Token})
	}

	pool, err := account.NewPool(account.Config{
		DailyLimit:       cfg.Accounts.DailyLimit,
		FailureThreshold: cfg.Accounts.FailureThreshold,
		CooldownBase:     cooldownBase,
		CooldownMax:      cooldownMax,
		Location:         loc,
	}, seeds, log, bus)
	if err != nil {
		return nil, fmt.Errorf("account pool: %w", err)
	}

	apiTimeout, _ := config.ParseDurationOrDefault("telegram.api_timeout", cfg.Telegram.APITimeout, 30*time.Second)
	sender, err := telegram.New(telegram.Config{APITimeout: apiTimeout}, tokens, log)
	if err != nil {
		return nil, fmt.Errorf("telegram transport: %w", err)
	}

	busyTimeout, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	store, err := sink.Open(sink.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("result log: %w", err)
	}

	resets, err := account.NewResetScheduler(pool, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reset scheduler: %w", err)
	}

	exportDir := cfg.Export.Dir
	if exportDir == "" {
		exportDir = "./export"
	}

	return &Manager{
		log:     log,
		logSvc:  logSvc,
		bus:     bus,
		pool:    pool,
		sender:  sender,
		store:   store,
		resets:  resets,
		dispCfg: cfg.Dispatch,
		export:  exportDir,
		runs:    make(map[string]*run.Controller),
	}, nil
}

// Bus exposes the event stream for control surfaces.
func (m *Manager) Bus() eventbus.Bus { return m.bus }

// Accounts returns read-only snapshots of the pool.
func (m *Manager) Accounts() []account.Snapshot { return m.pool.Snapshots() }

// Start launches background upkeep (daily quota reset).
func (m *Manager) Start(ctx context.Context) { m.resets.Start(ctx) }

// Stop ends the active run, stops upkeep and closes the result log.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil {
		active.Stop("service shutting down")
		_ = active.Wait(ctx)
	}
	m.resets.Stop(ctx)
	if err := m.store.Close(); err != nil {
		m.log.Warn("closing result log", logx.Err(err))
	}
}

// runConfig translates a campaign into a run configuration, filling
// unset knobs from the dispatch defaults.
func (m *Manager) runConfig(c *config.Campaign) (run.Config, error) {
	m.mu.Lock()
	disp := m.dispCfg
	m.mu.Unlock()

	intervalMin, err := config.ParseDurationOrDefault("interval_min",
		firstNonEmpty(c.IntervalMin, disp.IntervalMin), 30*time.Second)
	if err != nil {
		return run.Config{}, err
	}
	intervalMax, err := config.ParseDurationOrDefault("interval_max",
		firstNonEmpty(c.IntervalMax, disp.IntervalMax), 60*time.Second)
	if err != nil {
		return run.Config{}, err
	}

	workers := c.Workers
	if workers <= 0 {
		workers = disp.Workers
	}
	if workers <= 0 {
		workers = 2
	}
	retryMax := c.RetryMax
	if retryMax <= 0 {
		retryMax = disp.RetryMax
	}
	if retryMax <= 0 {
		retryMax = 3
	}
	ratePerSec := c.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = disp.RatePerSec
	}

	format := message.FormatPlain
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "html":
		format = message.FormatHTML
	case "markdown":
		format = message.FormatMarkdown
	}

	specs := make([]target.Spec, 0, len(c.Targets))
	for _, t := range c.Targets {
		specs = append(specs, target.Spec{
			Identifier: t.Identifier,
			FirstName:  t.FirstName,
			LastName:   t.LastName,
		})
	}

	return run.Config{
		Template:    c.Template,
		Format:      format,
		IntervalMin: intervalMin,
		IntervalMax: intervalMax,
		Workers:     workers,
		RetryMax:    retryMax,
		Force:       c.Force,
		RatePerSec:  ratePerSec,
		Targets:     specs,
		Accounts:    c.Accounts,
	}, nil
}

// StartRun validates a campaign and starts it. One run at a time.
func (m *Manager) StartRun(ctx context.Context, c *config.Campaign) (*run.Controller, error) {
	cfg, err := m.runConfig(c)
	if err != nil {
		return nil, err
	}
	return m.launch(ctx, cfg)
}

// ResumeRun reconstructs an interrupted run from the result log and
// continues it under the same identifier. The campaign must be the
// one the original run was started with.
func (m *Manager) ResumeRun(ctx context.Context, runID string, c *config.Campaign) (*run.Controller, error) {
	cfg, err := m.runConfig(c)
	if err != nil {
		return nil, err
	}
	recovered, err := sink.Recover(ctx, m.store, runID)
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}
	if len(recovered) == 0 {
		return nil, fmt.Errorf("%w: %s has no recorded history", ErrNoRun, runID)
	}
	for key, rec := range recovered {
		if rec.Ambiguous {
			m.log.Warn("in-flight attempt recovered as pending, may double-send",
				logx.String("run", runID), logx.String("target", key))
		}
	}
	cfg.ID = runID
	cfg.Recovered = recovered
	return m.launch(ctx, cfg)
}

func (m *Manager) launch(ctx context.Context, cfg run.Config) (*run.Controller, error) {
	ctl, err := run.New(cfg, run.Deps{
		Pool:   m.pool,
		Sender: m.sender,
		Store:  m.store,
		Bus:    m.bus,
		Log:    m.log,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active != nil && !m.active.Status().Terminal() {
		m.mu.Unlock()
		return nil, ErrRunActive
	}
	m.active = ctl
	if _, seen := m.runs[ctl.ID()]; !seen {
		m.order = append(m.order, ctl.ID())
	}
	m.runs[ctl.ID()] = ctl
	for len(m.order) > historyLimit {
		delete(m.runs, m.order[0])
		m.order = m.order[1:]
	}
	m.mu.Unlock()

	if err := ctl.Start(ctx); err != nil {
		return nil, err
	}
	return ctl, nil
}

func (m *Manager) lookup(runID string) (*run.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if runID == "" {
		if m.active == nil {
			return nil, ErrNoRun
		}
		return m.active, nil
	}
	ctl, ok := m.runs[runID]
	if !ok {
		return nil, ErrNoRun
	}
	return ctl, nil
}

// PauseRun pauses the named run, or the active one when runID is empty.
func (m *Manager) PauseRun(runID string) error {
	ctl, err := m.lookup(runID)
	if err != nil {
		return err
	}
	return ctl.Pause()
}

// ResumeDispatch resumes a paused run.
func (m *Manager) ResumeDispatch(runID string) error {
	ctl, err := m.lookup(runID)
	if err != nil {
		return err
	}
	return ctl.Resume()
}

// StopRun requests a graceful stop and returns without waiting.
func (m *Manager) StopRun(runID, reason string) error {
	ctl, err := m.lookup(runID)
	if err != nil {
		return err
	}
	ctl.Stop(reason)
	return nil
}

// Progress reports counters for the named run, or the active one.
func (m *Manager) Progress(runID string) (run.Progress, error) {
	ctl, err := m.lookup(runID)
	if err != nil {
		return run.Progress{}, err
	}
	return ctl.Progress(), nil
}

// History returns progress for the remembered runs, oldest first.
func (m *Manager) History() []run.Progress {
	m.mu.Lock()
	ctls := make([]*run.Controller, 0, len(m.order))
	for _, id := range m.order {
		if ctl, ok := m.runs[id]; ok {
			ctls = append(ctls, ctl)
		}
	}
	m.mu.Unlock()

	out := make([]run.Progress, 0, len(ctls))
	for _, ctl := range ctls {
		out = append(out, ctl.Progress())
	}
	return out
}

// Export writes the per-run artifacts (success list, failure list,
// full log) from the result log. It works for any recorded run,
// including failed or stopped ones.
func (m *Manager) Export(ctx context.Context, runID string) (sink.Artifacts, error) {
	if runID == "" {
		m.mu.Lock()
		if m.active == nil {
			m.mu.Unlock()
			return sink.Artifacts{}, ErrNoRun
		}
		runID = m.active.ID()
		m.mu.Unlock()
	}
	return sink.Export(ctx, m.store, runID, m.export)
}

// ApplyConfig applies the hot-reloadable subset of a changed config:
// log level and dispatch pacing. Account and storage topology changes
// require a restart.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	if m.logSvc != nil {
		m.logSvc.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}

	m.mu.Lock()
	prev := m.dispCfg
	m.dispCfg = cfg.Dispatch
	active := m.active
	m.mu.Unlock()

	if active != nil && !active.Status().Terminal() {
		minIv, err1 := config.ParseDurationOrDefault("dispatch.interval_min", cfg.Dispatch.IntervalMin, 30*time.Second)
		maxIv, err2 := config.ParseDurationOrDefault("dispatch.interval_max", cfg.Dispatch.IntervalMax, 60*time.Second)
		if err1 == nil && err2 == nil && (cfg.Dispatch.IntervalMin != prev.IntervalMin || cfg.Dispatch.IntervalMax != prev.IntervalMax) {
			active.SetIntervalBounds(minIv, maxIv)
			m.log.Info("interval bounds updated",
				logx.Duration("min", minIv), logx.Duration("max", maxIv))
		}
		if cfg.Dispatch.RatePerSec != prev.RatePerSec {
			active.SetRate(cfg.Dispatch.RatePerSec)
			m.log.Info("send rate cap updated", logx.Int("per_sec", cfg.Dispatch.RatePerSec))
		}
	}

	m.log.Debug("configuration applied")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
