package keeper

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/core-tools/hsu-proxykeeper/pkg/artifact"
	"github.com/core-tools/hsu-proxykeeper/pkg/binstore"
	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/heartbeat"
	"github.com/core-tools/hsu-proxykeeper/pkg/identity"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
	"github.com/core-tools/hsu-proxykeeper/pkg/processfile"
	"github.com/core-tools/hsu-proxykeeper/pkg/proxyconfig"
	"github.com/core-tools/hsu-proxykeeper/pkg/supervisor"
	"github.com/core-tools/hsu-proxykeeper/pkg/urlpath"
	"github.com/core-tools/hsu-proxykeeper/pkg/version"
)

type Options struct {
	// Exit ends the program from the control loop; os.Exit when nil
	Exit func(code int)

	// Events replaces the channel the signal, ticker and exit sources feed
	Events chan heartbeat.Event

	// Signals forwarded as termination requests; SIGINT and SIGTERM when nil, none when empty
	Signals []os.Signal

	// HTTPClient, when set, is shared by every outbound call instead of per-call timeout clients
	HTTPClient *http.Client
}

// Launch describes the running instance once startup completed
type Launch struct {
	Plan         version.Plan
	Identity     identity.Identity
	ShareAddress string
	HeartbeatURL string
	Process      *supervisor.ManagedProcess
}

// Keeper runs the startup sequence and then hands over to the heartbeat loop
type Keeper struct {
	config  *KeeperConfig
	env     Environment
	options Options
	logger  logging.Logger

	lock       *flock.Flock
	reconciler *version.Reconciler
	fetcher    *artifact.Fetcher
	binary     *binstore.Store
	identities *identity.Resolver
	supervisor *supervisor.Supervisor
	pidFiles   *processfile.ProcessFileManager
	logFuncs   logging.LogFuncs
}

// New builds a keeper from a validated configuration. The keeper works on its
// own copy of config; the caller's value is left untouched.
func New(config *KeeperConfig, env Environment, options Options, logFuncs logging.LogFuncs) (*Keeper, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if err := ValidateEnvironment(config, env); err != nil {
		return nil, err
	}

	workDir, err := filepath.Abs(config.Keeper.WorkDir)
	if err != nil {
		return nil, errors.NewIOError("failed to resolve work dir", err).WithContext("work_dir", config.Keeper.WorkDir)
	}
	owned := *config
	owned.Keeper.WorkDir = workDir
	config = &owned

	if options.Exit == nil {
		options.Exit = os.Exit
	}
	if options.Signals == nil {
		options.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	k := &Keeper{
		config:   config,
		env:      env,
		options:  options,
		logger:   logging.WithComponent(logFuncs, "keeper"),
		logFuncs: logFuncs,
		lock:     flock.New(config.resolvePath(config.Keeper.LockFile)),
	}

	k.binary = binstore.New(config.resolvePath(config.Binary.Path), logging.WithComponent(logFuncs, "binstore"))

	versionLogger := logging.WithComponent(logFuncs, "version")
	k.reconciler = version.NewReconciler(
		version.NewLocalResolver(k.binary, config.Binary.VersionTimeout, versionLogger),
		version.NewRemoteResolver(version.RemoteOptions{
			ReleasesURL: config.Release.URL,
			Timeout:     config.Release.LatestTimeout,
			Client:      options.HTTPClient,
		}, versionLogger),
		versionLogger,
	)

	source, err := k.newSource()
	if err != nil {
		return nil, err
	}
	k.fetcher = artifact.NewFetcher(source, config.Binary.ArchiveMember, logging.WithComponent(logFuncs, "artifact"))

	storeURL := config.Identity.URL
	if storeURL == "" {
		storeURL = env.DBURL
	}
	if storeURL == "" {
		k.logger.Warnf("No identity store configured, the identity will change on every start")
	}
	k.identities = identity.NewResolver(identity.NewHTTPStore(identity.HTTPStoreOptions{
		BaseURL: storeURL,
		Timeout: config.Identity.Timeout,
		Client:  options.HTTPClient,
	}), logging.WithComponent(logFuncs, "identity"))

	k.supervisor = supervisor.New(supervisor.Options{
		GracefulTimeout: config.Proxy.GracefulTimeout,
		KillTimeout:     config.Proxy.KillTimeout,
	}, logging.WithComponent(logFuncs, "supervisor"))

	pidDir := config.Keeper.PIDDirectory
	if pidDir != "" {
		pidDir = config.resolvePath(pidDir)
	}
	k.pidFiles = processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory:    pidDir,
		TerminateTimeout: config.Proxy.GracefulTimeout,
		KillTimeout:      config.Proxy.KillTimeout,
	}, logging.WithComponent(logFuncs, "processfile"))

	return k, nil
}

func (k *Keeper) newSource() (artifact.Source, error) {
	release := k.config.Release
	logger := logging.WithComponent(k.logFuncs, "artifact")

	httpSource := func() artifact.Source {
		return artifact.NewHTTPSource(artifact.HTTPSourceOptions{
			ReleasesURL: release.URL,
			ArchiveName: release.ArchiveName,
			Timeout:     release.DownloadTimeout,
			Client:      k.options.HTTPClient,
		}, logger)
	}

	switch release.Source {
	case artifact.SourceKindHTTP:
		return httpSource(), nil
	case artifact.SourceKindDir:
		return artifact.NewDirSource(k.config.resolvePath(release.CacheDir), release.ArchiveName), nil
	case artifact.SourceKindCache:
		return artifact.NewCachingSource(k.config.resolvePath(release.CacheDir), release.ArchiveName, httpSource(), logger), nil
	default:
		return nil, errors.NewValidationError("unsupported artifact source: "+string(release.Source), nil)
	}
}

// Run starts the managed binary and blocks in the heartbeat loop until the program exits
func (k *Keeper) Run(ctx context.Context) error {
	launch, err := k.Start(ctx)
	if err != nil {
		return err
	}
	k.Serve(launch)
	return nil
}

// Start performs the startup sequence up to a running managed process
func (k *Keeper) Start(ctx context.Context) (*Launch, error) {
	k.logger.Infof("Keeper starting, work dir: %s", k.config.Keeper.WorkDir)

	locked, err := k.lock.TryLock()
	if err != nil {
		return nil, errors.NewIOError("failed to acquire keeper lock", err).WithContext("lock_file", k.lock.Path())
	}
	if !locked {
		return nil, errors.NewConflictError("another keeper is running in this work dir", nil).WithContext("lock_file", k.lock.Path())
	}

	launch, err := k.start(ctx)
	if err != nil {
		k.release()
		return nil, err
	}
	return launch, nil
}

func (k *Keeper) start(ctx context.Context) (*Launch, error) {
	name := k.config.Binary.ProcessName
	if terminated, err := k.pidFiles.TerminateOrphan(name); err != nil {
		k.logger.Warnf("Failed to clean up previous instance: %v", err)
	} else if terminated {
		k.logger.Warnf("Terminated managed process left by a previous keeper")
	}

	plan, err := k.reconciler.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	k.logger.Infof("Version plan, current: %s, latest: %s, decision: %s", plan.Current, plan.Latest, plan.Decision)

	if err := k.upgrade(ctx, plan); err != nil {
		return nil, err
	}

	if err := k.binary.EnsureExecutable(); err != nil {
		return nil, errors.NewInternalError("managed binary is not runnable", err)
	}

	id := k.identities.Resolve(ctx)

	document := proxyconfig.New(id.String(), proxyconfig.Options{
		Port:           k.config.Proxy.Port,
		LogLevel:       k.config.Proxy.LogLevel,
		DNSServers:     k.config.Proxy.DNSServers,
		DomainStrategy: k.config.Proxy.DomainStrategy,
	})
	data, err := document.Marshal(k.config.Proxy.Format)
	if err != nil {
		return nil, err
	}

	spec := supervisor.StartSpec{
		Path:      k.binary.Path(),
		Config:    data,
		Transport: k.config.Proxy.Transport,
		Args:      k.config.Proxy.Args,
		StdinArgs: k.config.Proxy.StdinArgs,
		WorkDir:   k.config.Keeper.WorkDir,
		Env:       k.config.Proxy.Env,
	}
	if spec.Transport == supervisor.TransportFile {
		spec.ConfigPath = k.config.resolvePath(k.config.Proxy.ConfigPath)
	}

	p, err := k.supervisor.Start(spec)
	if err != nil {
		return nil, err
	}

	if err := k.pidFiles.WritePIDFile(name, p.PID()); err != nil {
		k.logger.Warnf("Failed to write PID file: %v", err)
	}

	launch := &Launch{
		Plan:         plan,
		Identity:     id,
		ShareAddress: k.ShareAddress(id),
		HeartbeatURL: k.HeartbeatURL(id),
		Process:      p,
	}
	k.logger.Infof("Share address: %s", launch.ShareAddress)
	return launch, nil
}

// upgrade installs the latest release when the plan asks for it. A failed
// update is tolerated as long as a working local binary is there to fall back on.
func (k *Keeper) upgrade(ctx context.Context, plan version.Plan) error {
	if plan.Decision != version.Upgrade {
		k.logger.Infof("Managed binary is up to date")
		return nil
	}

	k.logger.Infof("Updating managed binary to %s", plan.Latest)
	data, err := k.fetcher.Fetch(ctx, plan.Latest)
	if err == nil {
		err = k.binary.Install(data)
	}
	if err == nil {
		k.logger.Infof("Managed binary updated to %s", plan.Latest)
		return nil
	}

	if plan.HasLocal() {
		k.logger.Warnf("Update to %s failed, keeping %s: %v", plan.Latest, plan.Current, err)
		return nil
	}
	return errors.NewInternalError("update failed and no local binary to fall back on", err).WithContext("version", plan.Latest)
}

// Serve feeds signals, heartbeat ticks and the managed process exit into the
// heartbeat loop and runs it. It returns only when the configured exit function does.
func (k *Keeper) Serve(launch *Launch) {
	events := k.options.Events
	if events == nil {
		events = make(chan heartbeat.Event, 16)
	}

	logger := logging.WithComponent(k.logFuncs, "heartbeat")

	var pinger heartbeat.Pinger
	httpPinger, err := heartbeat.NewHTTPPinger(heartbeat.HTTPPingerOptions{
		URL:     launch.HeartbeatURL,
		Timeout: k.config.Heartbeat.Timeout,
		Client:  k.options.HTTPClient,
	}, logger)
	if err != nil {
		k.logger.Errorf("Heartbeat disabled, invalid target %s: %v", launch.HeartbeatURL, err)
		pinger = nopPinger{}
	} else {
		logger.Debugf("Heartbeat pinger ready, target: %s", httpPinger.URL())
		pinger = httpPinger
	}

	heartbeat.ForwardSignals(events, k.options.Signals...)
	heartbeat.StartTicker(events, k.config.Heartbeat.Interval)
	heartbeat.WatchExit(events, launch.Process.Done())

	loop := heartbeat.NewLoop(pinger, k.supervisor, heartbeat.LoopOptions{
		Exit: func(code int) {
			k.cleanup()
			k.options.Exit(code)
		},
	}, logger)

	k.logger.Infof("Keeper ready, heartbeat target: %s, interval: %v", launch.HeartbeatURL, k.config.Heartbeat.Interval)
	loop.Run(events)
}

// ShareAddress is the public address handed out to clients, "{slug}.{owner}.{domain}/{identity}"
func (k *Keeper) ShareAddress(id identity.Identity) string {
	target := k.HeartbeatURL(id)
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Host + u.EscapedPath()
}

func (k *Keeper) HeartbeatURL(id identity.Identity) string {
	if k.config.Heartbeat.URL != "" {
		return urlpath.Join(k.config.Heartbeat.URL, id.String())
	}
	return urlpath.HostURL(k.config.Heartbeat.Scheme, []string{k.env.Slug, k.env.Owner, k.config.Heartbeat.Domain}, id.String())
}

func (k *Keeper) Supervisor() *supervisor.Supervisor {
	return k.supervisor
}

func (k *Keeper) cleanup() {
	if err := k.pidFiles.RemovePIDFile(k.config.Binary.ProcessName); err != nil {
		k.logger.Warnf("Failed to remove PID file: %v", err)
	}
	k.release()
}

func (k *Keeper) release() {
	if err := k.lock.Unlock(); err != nil {
		k.logger.Warnf("Failed to release keeper lock: %v", err)
	}
}

type nopPinger struct{}

func (nopPinger) Ping(ctx context.Context) error { return nil }
