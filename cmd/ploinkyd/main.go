// Command ploinkyd is SUP: the long-lived parent process
// that spawns ploinky-router (RT) as a supervised child, restarts it with
// bounded exponential backoff and a circuit breaker, runs CM's periodic
// container reconciliation loop, and owns AGM for the lifetime of the
// workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/agentmanager"
	"github.com/ploinky/ploinky/internal/common/config"
	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/containerdriver"
	"github.com/ploinky/ploinky/internal/profile"
	"github.com/ploinky/ploinky/internal/registry"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/internal/secretresolver"
	"github.com/ploinky/ploinky/internal/supervisor"
	"github.com/ploinky/ploinky/internal/workspace"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	// 2. Initialize logger.
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	logger.SetDefault(log)

	// 3. Resolve workspace paths and ambient state.
	root, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to resolve workspace root", zap.Error(err))
	}
	paths := workspace.NewPaths(root)

	ar, err := registry.Load(paths.Agents)
	if err != nil {
		log.Fatal("failed to load agent registry", zap.Error(err))
	}
	rtbl, err := routingtable.Load(paths.Routing)
	if err != nil {
		log.Fatal("failed to load routing table", zap.Error(err))
	}
	secrets, err := secretresolver.New(paths.Secrets)
	if err != nil {
		log.Fatal("failed to load secrets", zap.Error(err))
	}

	// 4. Detect and connect to the container runtime.
	runtimeName, err := containerdriver.Detect()
	if err != nil {
		log.Fatal("no supported container runtime found", zap.Error(err))
	}
	driver, err := containerdriver.NewDockerDriver(cfg.Docker, runtimeName, log)
	if err != nil {
		log.Fatal("failed to connect to container runtime", zap.Error(err))
	}
	log.Info("connected to container runtime", zap.String("runtime", runtimeName))

	// 5. Bring up the ambient event bus (NATS, falling back to in-memory).
	providedBus, busCleanup, err := agentmanager.ProvideEventBus(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to provision event bus", zap.Error(err))
	}
	defer busCleanup()

	// 6. Wire AGM around its collaborators.
	manifests := agentmanager.NewFileManifestSource(root)
	agm := agentmanager.New(
		driver,
		ar,
		rtbl,
		paths,
		profile.FromEnvironment(),
		secrets,
		manifests,
		providedBus.Bus,
		log,
	)

	// 7. Wire CM, paused until RT has had a chance to come up.
	monitor := supervisor.NewContainerMonitor(
		ar,
		agm,
		time.Duration(cfg.Watchdog.ContainerCheckIntervalMs)*time.Millisecond,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Pause()
	monitor.Start(ctx)
	defer monitor.Stop()

	// 8. Wire SUP around the RT child process it supervises.
	healthURL := fmt.Sprintf("http://%s:%d/health", loopbackHost(cfg.Server.Host), cfg.Server.Port)
	routerPath := filepath.Join(filepath.Dir(mustExecutable()), "ploinky-router")
	watchdog := supervisor.New(cfg.Watchdog, healthURL, routerPath, nil, monitor, log)

	// 9. Run until signaled, then exit with the watchdog's reported code.
	os.Exit(watchdog.Run(ctx))
}

// loopbackHost maps a wildcard bind address to a dialable loopback address
// for SUP's own health-check client.
func loopbackHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

func mustExecutable() string {
	path, err := os.Executable()
	if err != nil {
		return "."
	}
	return path
}
