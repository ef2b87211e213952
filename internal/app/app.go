package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tagdesk/internal/alert"
	"tagdesk/internal/broadcast"
	"tagdesk/internal/config"
	"tagdesk/internal/eventbus"
	"tagdesk/internal/poller"
	"tagdesk/internal/remote"
	"tagdesk/internal/runtime/supervisor"
	"tagdesk/internal/storage"
	"tagdesk/internal/tags"
	"tagdesk/internal/tasks"
	logx "tagdesk/pkg/logx"
)

// App owns every component and the operator session state.
type App struct {
	cfgm *config.Manager
	cfg  atomic.Pointer[config.Config]

	log  logx.Logger
	root logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	client *remote.Client
	tags   *tags.Registry
	tasks  *tasks.Store
	poller *poller.Poller
	bcast  *broadcast.Dispatcher
	audit  storage.Store
	state  *State
	actor  string

	alertsMu sync.RWMutex
	alerts   alert.Sink
	extra    []alert.Sink

	sup *supervisor.Supervisor

	pollMu sync.Mutex
	poll   *poller.Handle
}

type Option func(*options)

type options struct {
	log    logx.Logger
	sinks  []alert.Sink
	lookup config.LookupFunc
	envSet bool
	actor  string
}

// WithLogger replaces the logging service built from the config.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithAlertSink adds a sink that receives every alert regardless of
// alerts.min_level.
func WithAlertSink(s alert.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithEnv sets where environment overrides are read from.
func WithEnv(lookup config.LookupFunc) Option {
	return func(o *options) { o.lookup, o.envSet = lookup, true }
}

// WithActor names who performs actions in audit entries.
func WithActor(actor string) Option {
	return func(o *options) { o.actor = actor }
}

// New loads the config file and builds the app.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	var mopts []config.ManagerOption
	if o.envSet {
		mopts = append(mopts, config.WithEnv(o.lookup))
	}
	cfgm := config.NewManager(cfgPath, mopts...)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	a, err := build(cfg, o)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	return a, nil
}

// NewFromConfig builds the app from an already loaded config. Hot reload is
// not available.
func NewFromConfig(cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return build(cfg, o)
}

func build(cfg *config.Config, o options) (*App, error) {
	a := &App{bus: eventbus.New(), state: &State{}, extra: o.sinks, actor: o.actor}
	a.cfg.Store(cfg)
	if a.actor == "" {
		a.actor = "operator"
	}

	if o.log.IsZero() {
		a.logs, a.log = logx.New(mapLogConfig(cfg))
	} else {
		a.log = o.log
	}
	log := a.log
	a.root = log
	a.log = log.With(logx.String("comp", "app"))

	rc, err := mapRemoteConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.client, err = remote.New(rc, log); err != nil {
		return nil, err
	}

	pc, err := mapPollerConfig(cfg)
	if err != nil {
		return nil, err
	}

	sinks, err := buildAlertSinks(cfg, log)
	if err != nil {
		return nil, err
	}
	a.alerts = sinks

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		a.audit = st
		a.log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	a.tags = tags.New(a.client, a.bus, log)
	a.tasks = tasks.NewStore(a.client, a.tags, a.bus, log)
	a.poller = poller.New(a.client, a.tasks, pc, log)
	a.bcast = broadcast.New(a.client, log)
	return a, nil
}

func (a *App) Logger() logx.Logger    { return a.log }
func (a *App) Config() *config.Config { return a.cfg.Load() }
func (a *App) State() *State          { return a.state }
func (a *App) Tags() *tags.Registry   { return a.tags }
func (a *App) Tasks() *tasks.Store    { return a.tasks }
func (a *App) Poller() *poller.Poller { return a.currentPoller() }
func (a *App) Bus() eventbus.Bus      { return a.bus }
func (a *App) Audit() storage.Store   { return a.audit }
func (a *App) Client() *remote.Client { return a.client }

// Done is closed when the supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads the tag config and task list, starts status polling and,
// when the app was built from a file, the config watcher. A failed initial
// load is logged; polling starts anyway.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	changes, unsub := a.bus.Subscribe(16, tags.EventChanged)
	a.sup.Go0("selection.sync", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-changes:
				if !ok {
					return
				}
				ch, _ := e.Data.(tags.Changed)
				sel := a.state.Reconcile(ch.Enabled)
				a.log.Debug("selection re-derived",
					logx.Strings("enabled", ch.Enabled),
					logx.String("task_tag", sel.TaskTag),
					logx.String("broadcast_tag", sel.BroadcastTag))
			}
		}
	})

	if err := a.sync(sctx); err != nil {
		a.log.Warn("initial load failed; polling continues", logx.Err(err))
	}

	a.pollMu.Lock()
	a.poll = a.poller.Start(sctx)
	a.pollMu.Unlock()

	if a.cfgm != nil {
		a.cfgm.SetValidator(validateConfig)
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.String("remote", a.client.BaseURL()), logx.Duration("poll_interval", a.currentPoller().Config().Interval))
	return nil
}

// sync loads the tag config and then the task list.
func (a *App) sync(ctx context.Context) error {
	if err := a.tags.Load(ctx); err != nil {
		return err
	}
	a.state.Reconcile(a.tags.EnabledTags())
	_, err := a.tasks.List(ctx)
	return err
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfg.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig applies the sections that can change at runtime. Remote and
// storage changes need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	for _, s := range sections {
		switch s {
		case "logging":
			if a.logs != nil {
				a.logs.Apply(mapLogConfig(next))
			}
		case "alerts":
			sinks, err := buildAlertSinks(next, a.root)
			if err != nil {
				a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
				continue
			}
			a.alertsMu.Lock()
			a.alerts = sinks
			a.alertsMu.Unlock()
		case "poller":
			pc, err := mapPollerConfig(next)
			if err != nil {
				a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
				continue
			}
			a.restartPoller(ctx, pc)
		case "remote", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	a.cfg.Store(next)
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) currentPoller() *poller.Poller {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	return a.poller
}

func (a *App) restartPoller(ctx context.Context, pc poller.Config) {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	if a.poll != nil {
		a.poll.Stop()
	}
	a.poller = poller.New(a.client, a.tasks, pc, a.root)
	if ctx.Err() == nil {
		a.poll = a.poller.Start(ctx)
	}
}

// Stop halts polling and background goroutines, then closes storage and log
// files. ctx bounds the wait.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	start := time.Now()
	a.pollMu.Lock()
	if a.poll != nil {
		a.poll.Stop()
	}
	a.pollMu.Unlock()

	err := a.sup.Stop(ctx)
	if err != nil {
		a.log.Warn("supervisor stop incomplete", logx.Err(err))
	}
	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	return errors.Join(err, a.close())
}

func (a *App) close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
