package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/starfail/locengine/pkg/audit"
	"github.com/starfail/locengine/pkg/discovery"
	"github.com/starfail/locengine/pkg/distancefilter"
	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/health"
	"github.com/starfail/locengine/pkg/logx"
	"github.com/starfail/locengine/pkg/metrics"
	"github.com/starfail/locengine/pkg/mqtt"
	"github.com/starfail/locengine/pkg/notifications"
	"github.com/starfail/locengine/pkg/provider"
	"github.com/starfail/locengine/pkg/providers"
	"github.com/starfail/locengine/pkg/recovery"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/registry"
	"github.com/starfail/locengine/pkg/security"
	"github.com/starfail/locengine/pkg/session"
	"github.com/starfail/locengine/pkg/telem"
	"github.com/starfail/locengine/pkg/uci"
	"github.com/starfail/locengine/pkg/wsfeed"
)

const (
	version = "1.0.0-dev"
	appName = "locengined"
)

func main() {
	var (
		configFile  = flag.String("config", "/etc/config/locengine", "UCI config file path")
		logLevel    = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		trace       = flag.Bool("trace", false, "Enable trace logging")
	)
	flag.Parse()
	_ = verbose

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	effectiveLogLevel := *logLevel
	if *trace {
		effectiveLogLevel = "debug"
	}
	logger := logx.New(effectiveLogLevel)
	if logger == nil {
		fmt.Fprintf(os.Stderr, "failed to create logger\n")
		os.Exit(1)
	}

	loader := uci.NewLoader(*configFile)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error(), "config_file", *configFile)
		os.Exit(1)
	}
	if effectiveLogLevel == *logLevel && cfg.Main.LogLevel != "" {
		logger = logx.New(cfg.Main.LogLevel)
	}

	logger.Info("starting location engine daemon",
		"version", version,
		"config", *configFile,
		"providers", len(cfg.Providers),
		"regions", len(cfg.Regions),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newDaemon(cfg, logger)
	if err := d.start(ctx); err != nil {
		logger.Error("failed to start daemon", "error", err.Error())
		os.Exit(1)
	}
	defer d.stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info("location engine daemon started")

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading configuration is not yet wired up; restart to apply changes")
				continue
			}
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
			return
		}
	}
}

// daemon owns every long-lived collaborator wired together at startup:
// the registry and session at the core, plus the ambient stack around
// it (metrics, health, wsfeed, mqtt, pushover, antispoof, recovery,
// audit) each subscribing to the session as a client would.
type daemon struct {
	cfg    *uci.Config
	logger *logx.Logger

	registry *registry.Registry
	session  *session.Session

	tickerDone    chan struct{}
	metricsServer *metrics.Server
	healthServer  *health.Server
	wsfeedServer  *wsfeed.Server
	mqttClient    *mqtt.Client
	notifier      *notifications.Manager
	auditor       *security.Auditor
	recoveryMgr   *recovery.Manager
	auditLog      *audit.Logger
	discoverer    *discovery.Discoverer
}

func newDaemon(cfg *uci.Config, logger *logx.Logger) *daemon {
	return &daemon{
		cfg:        cfg,
		logger:     logger,
		discoverer: discovery.NewDiscoverer(logger),
	}
}

func (d *daemon) start(ctx context.Context) error {
	tier, err := uci.AccuracyTierFromString(d.cfg.Main.DesiredAccuracy)
	if err != nil {
		return fmt.Errorf("resolve desired accuracy: %w", err)
	}

	d.registry = registry.New(d.logger)
	if err := d.wireProviders(); err != nil {
		return fmt.Errorf("wire providers: %w", err)
	}

	fanout := &fanoutDelegate{}

	d.session = session.New(d.registry, clockwork.NewRealClock(), fanout, session.Config{
		DesiredAccuracy:     tier,
		DistanceFilter:      d.distanceFilterSetting(),
		AllowsBackground:    d.cfg.Main.AllowsBackground,
		PausesAutomatically: d.cfg.Main.PausesAutomatically,
	})

	for _, r := range d.cfg.Regions {
		d.session.StartMonitoring(region.Region{
			ID:            r.ID,
			Center:        geo.Coordinate{Latitude: r.Latitude, Longitude: r.Longitude},
			Radius:        r.RadiusM,
			NotifyOnEntry: r.NotifyOnEntry,
			NotifyOnExit:  r.NotifyOnExit,
		})
	}

	if d.cfg.Main.MetricsListener {
		d.metricsServer = metrics.NewServer(d.logger)
		d.metricsServer.SetVersion(version, "go")
		if err := d.metricsServer.Start(d.cfg.Main.MetricsPort); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		fanout.add(&metricsDelegate{metrics: d.metricsServer})
		d.tickerDone = make(chan struct{})
		go d.runMetricsTicker()
	}

	if d.cfg.Main.HealthListener {
		d.healthServer = health.NewServer(d.session, d.registry, nil, d.logger)
		if err := d.healthServer.Start(d.cfg.Main.HealthPort); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	if d.cfg.Main.WSFeedListener {
		d.wsfeedServer = wsfeed.NewServer(d.logger)
		if err := d.wsfeedServer.Start(d.cfg.Main.WSFeedPort); err != nil {
			return fmt.Errorf("start wsfeed server: %w", err)
		}
		fanout.add(d.wsfeedServer)
	}

	if d.cfg.Main.MQTTEnabled {
		mqttCfg := mqtt.DefaultConfig()
		mqttCfg.Broker = d.cfg.Main.MQTTBroker
		mqttCfg.TopicPrefix = d.cfg.Main.MQTTTopicPrefix
		mqttCfg.Enabled = true
		d.mqttClient = mqtt.NewClient(mqttCfg, d.logger)
		if err := d.mqttClient.Connect(); err != nil {
			d.logger.Warn("mqtt connect failed, continuing without it", "error", err.Error())
			d.mqttClient = nil
		} else {
			fanout.add(&mqttDelegate{client: d.mqttClient, logger: d.logger})
		}
	}

	if d.cfg.Main.PushoverEnabled {
		notifyCfg := notifications.DefaultConfig()
		notifyCfg.Enabled = true
		notifyCfg.Token = d.cfg.Main.PushoverToken
		notifyCfg.User = d.cfg.Main.PushoverUser
		d.notifier = notifications.NewManager(notifyCfg, d.logger)
		fanout.add(&notifications.SessionAlerts{Manager: d.notifier})
	}

	if d.cfg.Main.AntispoofEnabled {
		auditCfg := security.DefaultAuditConfig()
		auditCfg.MaxPlausibleSpeedMps = d.cfg.Main.AntispoofMaxSpeedMps
		d.auditor = security.NewAuditor(auditCfg, d.logger)
		fanout.add(&antispoofDelegate{auditor: d.auditor, logger: d.logger})
	}

	if d.cfg.Main.RecoveryEnabled {
		recoveryCfg := recovery.Config{
			Enable:          true,
			BackupDir:       d.cfg.Main.RecoveryBackupDir,
			MaxVersions:     d.cfg.Main.RecoveryMaxVersions,
			CompressBackups: true,
		}
		mgr, err := recovery.NewManager(recoveryCfg, "locengine", d.logger)
		if err != nil {
			d.logger.Warn("recovery manager unavailable", "error", err.Error())
		} else {
			d.recoveryMgr = mgr
			if _, err := mgr.BackupConfig(ctx, "startup"); err != nil {
				d.logger.Warn("startup config backup failed", "error", err.Error())
			}
		}
	}

	auditLogger, err := audit.NewLogger("/var/log/locengine/audit", d.logger)
	if err != nil {
		d.logger.Warn("audit logger unavailable", "error", err.Error())
	} else {
		d.auditLog = auditLogger
	}

	telemStore, err := telem.NewStore(telem.Config{
		Path:           "/var/lib/locengine/telem.db",
		MaxFixes:       d.cfg.Main.TelemetryMaxFixes,
		RetentionHours: d.cfg.Main.TelemetryRetentionH,
	})
	if err != nil {
		d.logger.Warn("telemetry store unavailable, falling back to memory", "error", err.Error())
		telemStore, _ = telem.NewStore(telem.DefaultConfig())
	}
	fanout.add(&telemetryDelegate{store: telemStore, logger: d.logger})

	if d.cfg.Main.Enable {
		d.session.StartUpdatingLocation()
		d.auditLogIfPresent(func(l *audit.Logger) { l.LogStart("main.enable=1 at startup") })
	}

	return nil
}

func (d *daemon) stop() {
	if d.cfg.Main.Enable && d.session != nil {
		d.session.StopUpdatingLocation()
		d.auditLogIfPresent(func(l *audit.Logger) { l.LogStop("daemon shutting down") })
	}
	if d.session != nil {
		d.session.Close()
	}
	if d.wsfeedServer != nil {
		d.wsfeedServer.Stop()
	}
	if d.healthServer != nil {
		d.healthServer.Stop()
	}
	if d.tickerDone != nil {
		close(d.tickerDone)
	}
	if d.metricsServer != nil {
		d.metricsServer.Stop()
	}
	if d.mqttClient != nil {
		d.mqttClient.Disconnect()
	}
	if d.auditLog != nil {
		d.auditLog.Close()
	}
}

func (d *daemon) auditLogIfPresent(fn func(*audit.Logger)) {
	if d.auditLog != nil {
		fn(d.auditLog)
	}
}

func (d *daemon) distanceFilterSetting() float64 {
	if d.cfg.Main.DistanceFilterM <= 0 {
		return distancefilter.Disabled
	}
	return d.cfg.Main.DistanceFilterM
}

// runMetricsTicker periodically refreshes gauges that decay or accumulate
// with wall-clock time: daemon uptime and the registry's per-tier ladder
// direct/fallback counts (SPEC's ladder telemetry).
func (d *daemon) runMetricsTicker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.tickerDone:
			return
		case <-ticker.C:
			d.metricsServer.Tick()
			for tier, stat := range d.registry.LadderStats() {
				d.metricsServer.SetLadderTierStat(tier.String(), stat.Direct, stat.Fallback)
			}
		}
	}
}

// wireProviders builds one provider.Provider per configured entry and
// registers it against its declared tier.
func (d *daemon) wireProviders() error {
	wifiCap := d.discoverer.DiscoverWiFiScanCapability()

	for _, p := range d.cfg.Providers {
		tier, err := uci.AccuracyTierFromString(p.Tier)
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.ID, err)
		}
		pollInterval := time.Duration(d.cfg.Main.PollIntervalMs) * time.Millisecond
		timeout := registry.NetworkStyleTimeout

		var backend provider.Provider
		switch p.Kind {
		case "nmea":
			backend = providers.NewNMEASerial(providers.NMEAConfig{PortPath: p.PortPath, BaudRate: p.BaudRate})
			timeout = registry.GPSStyleTimeout
		case "wifi":
			if !wifiCap.Available {
				d.logger.Warn("no WiFi scan command found on host, skipping provider", "provider", p.ID)
				continue
			}
			iface := p.PortPath
			if iface == "" {
				iface = "wlan0"
			}
			scanner := providers.NewIWScanner(wifiCap.Path, iface)
			backend, err = providers.NewWiFiGeolocation(p.ID, pollInterval, scanner, p.APIKey)
			if err != nil {
				return fmt.Errorf("provider %q: %w", p.ID, err)
			}
		case "ipgeo":
			backend, err = providers.NewIPGeolocation(p.ID, pollInterval, p.APIKey)
			if err != nil {
				return fmt.Errorf("provider %q: %w", p.ID, err)
			}
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind)
		}

		d.registry.Register(tier, backend, timeout)
		d.logger.Info("registered provider", "id", p.ID, "kind", p.Kind, "tier", tier.String())
	}
	return nil
}

// fanoutDelegate broadcasts every session.Delegate callback to a set of
// sub-delegates registered at startup, so each ambient-stack
// collaborator (metrics, wsfeed, mqtt, notifications, audit, telemetry,
// antispoof) can observe the session independently without the session
// itself knowing any of them exist.
type fanoutDelegate struct {
	session.DefaultDelegate
	delegates []session.Delegate
}

func (f *fanoutDelegate) add(d session.Delegate) { f.delegates = append(f.delegates, d) }

func (f *fanoutDelegate) OnUpdate(fix geo.Fix) {
	for _, d := range f.delegates {
		d.OnUpdate(fix)
	}
}

func (f *fanoutDelegate) OnFail(err error) {
	for _, d := range f.delegates {
		d.OnFail(err)
	}
}

func (f *fanoutDelegate) OnAuthorizationChanged(status session.AuthStatus) {
	for _, d := range f.delegates {
		d.OnAuthorizationChanged(status)
	}
}

func (f *fanoutDelegate) OnEnterRegion(r region.Region) {
	for _, d := range f.delegates {
		d.OnEnterRegion(r)
	}
}

func (f *fanoutDelegate) OnExitRegion(r region.Region) {
	for _, d := range f.delegates {
		d.OnExitRegion(r)
	}
}

func (f *fanoutDelegate) OnDetermineState(state region.State, r region.Region) {
	for _, d := range f.delegates {
		d.OnDetermineState(state, r)
	}
}

func (f *fanoutDelegate) OnMonitoringFailed(r region.Region, err error) {
	for _, d := range f.delegates {
		d.OnMonitoringFailed(r, err)
	}
}

func (f *fanoutDelegate) OnStartMonitoring(r region.Region) {
	for _, d := range f.delegates {
		d.OnStartMonitoring(r)
	}
}

type metricsDelegate struct {
	session.DefaultDelegate
	metrics *metrics.Server
}

func (m *metricsDelegate) OnUpdate(geo.Fix) { m.metrics.SetSessionState("running") }
func (m *metricsDelegate) OnFail(error)     { m.metrics.RecordLadderOutcome("fail") }

func (m *metricsDelegate) OnEnterRegion(r region.Region) {
	m.metrics.RecordRegionTransition(r.ID, "enter")
}

func (m *metricsDelegate) OnExitRegion(r region.Region) {
	m.metrics.RecordRegionTransition(r.ID, "exit")
}

type mqttDelegate struct {
	session.DefaultDelegate
	client *mqtt.Client
	logger *logx.Logger
}

func (m *mqttDelegate) OnUpdate(fix geo.Fix) {
	if err := m.client.PublishFix(fix); err != nil {
		m.logger.Warn("mqtt publish failed", "error", err.Error())
	}
}

type antispoofDelegate struct {
	session.DefaultDelegate
	auditor *security.Auditor
	logger  *logx.Logger
}

func (a *antispoofDelegate) OnUpdate(fix geo.Fix) {
	if !a.auditor.CheckFix(fix) {
		a.logger.Warn("fix flagged by antispoof auditor", "lat", fix.Coordinate.Latitude, "lon", fix.Coordinate.Longitude)
	}
}

type telemetryDelegate struct {
	session.DefaultDelegate
	store  *telem.Store
	logger *logx.Logger
}

func (t *telemetryDelegate) OnUpdate(fix geo.Fix) {
	if err := t.store.AddFix(fix); err != nil {
		t.logger.Warn("telemetry write failed", "error", err.Error())
	}
}

func (t *telemetryDelegate) OnFail(err error) {
	if addErr := t.store.AddEvent(telem.Event{Type: "fail", Level: "warn", Message: err.Error()}); addErr != nil {
		t.logger.Warn("telemetry event write failed", "error", addErr.Error())
	}
}
