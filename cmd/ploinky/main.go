// Command ploinky is the core operator CLI: start/stop/restart
// the SUP process, trigger AGM operations directly against the workspace's
// AR/RTbl files, and tail the append-only JSONL logs. Exit codes follow
// 0 success, 2 configuration error, 100 circuit breaker
// tripped, other non-zero generic failure.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ploinky/ploinky/internal/agentmanager"
	"github.com/ploinky/ploinky/internal/common/config"
	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/containerdriver"
	"github.com/ploinky/ploinky/internal/profile"
	"github.com/ploinky/ploinky/internal/registry"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/internal/secretresolver"
	"github.com/ploinky/ploinky/internal/workspace"
)

const (
	exitOK           = 0
	exitConfigError  = 2
	exitCircuitBreak = 100
	exitGeneric      = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}

	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve workspace root: %v\n", err)
		return exitGeneric
	}
	paths := workspace.NewPaths(root)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfigError
	}

	switch args[0] {
	case "start":
		return cmdStart(cfg, paths)
	case "stop":
		return cmdStop(cfg)
	case "restart":
		if code := cmdStop(cfg); code != exitOK {
			return code
		}
		return cmdStart(cfg, paths)
	case "refresh":
		return cmdRefresh(root, paths, args[1:])
	case "destroy":
		return cmdDestroy(root, paths, args[1:])
	case "status":
		return cmdStatus(cfg, paths)
	case "logs":
		return cmdLogs(paths, args[1:])
	default:
		usage()
		return exitGeneric
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ploinky <command> [args]

commands:
  start
  stop
  restart
  refresh agent <name>
  destroy agent <name> | destroy workspace | destroy all
  status
  logs tail
  logs last <N>`)
}

// cmdStart launches ploinkyd as a detached background process; ploinkyd
// itself writes its PID to cfg.Watchdog.PidFile.
func cmdStart(cfg *config.Config, paths workspace.Paths) int {
	if pid, ok := readPidFile(cfg.Watchdog.PidFile); ok && processAlive(pid) {
		fmt.Printf("ploinkyd already running (pid %d)\n", pid)
		return exitOK
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve own executable: %v\n", err)
		return exitGeneric
	}
	daemonPath := filepath.Join(filepath.Dir(exe), "ploinkyd")

	if err := os.MkdirAll(paths.LogsDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logs directory: %v\n", err)
		return exitGeneric
	}
	logFile, err := os.OpenFile(paths.Watchdog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open watchdog log: %v\n", err)
		return exitGeneric
	}
	defer logFile.Close()

	cmd := exec.Command(daemonPath)
	cmd.Dir = paths.Root
	cmd.Env = os.Environ()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start ploinkyd: %v\n", err)
		return exitGeneric
	}
	fmt.Printf("ploinkyd started (pid %d)\n", cmd.Process.Pid)
	return exitOK
}

// cmdStop sends SIGTERM to the running ploinkyd and waits briefly for it to
// exit; stopping an already-stopped daemon is success.
func cmdStop(cfg *config.Config) int {
	pid, ok := readPidFile(cfg.Watchdog.PidFile)
	if !ok || !processAlive(pid) {
		fmt.Println("ploinkyd is not running")
		return exitOK
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to find process %d: %v\n", pid, err)
		return exitGeneric
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal process %d: %v\n", pid, err)
		return exitGeneric
	}

	deadline := time.Now().Add(time.Duration(cfg.Watchdog.GracefulShutdownTimeoutMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			fmt.Println("ploinkyd stopped")
			return exitOK
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("ploinkyd did not stop in time")
	return exitGeneric
}

// cmdRefresh handles "refresh agent <name>" by driving AGM directly against
// the on-disk AR/RTbl, without requiring ploinkyd to be running.
func cmdRefresh(root string, paths workspace.Paths, args []string) int {
	if len(args) != 2 || args[0] != "agent" {
		usage()
		return exitGeneric
	}
	agentName := args[1]

	agm, cleanup, code := buildManager(root, paths)
	if agm == nil {
		return code
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := agm.Refresh(ctx, agentName); err != nil {
		fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
		return exitGeneric
	}
	fmt.Printf("refreshed %s\n", agentName)
	return exitOK
}

// cmdDestroy handles "destroy agent <name>", "destroy workspace", and
// "destroy all". Destroying something already gone is success.
func cmdDestroy(root string, paths workspace.Paths, args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}

	agm, cleanup, code := buildManager(root, paths)
	if agm == nil {
		return code
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch args[0] {
	case "agent":
		if len(args) != 2 {
			usage()
			return exitGeneric
		}
		if err := agm.Destroy(ctx, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "destroy failed: %v\n", err)
			return exitGeneric
		}
		fmt.Printf("destroyed %s\n", args[1])
		return exitOK
	case "workspace":
		if errs := agm.DestroyWorkspace(ctx); len(errs) > 0 {
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "destroy workspace: %v\n", err)
			}
			return exitGeneric
		}
		fmt.Println("destroyed workspace")
		return exitOK
	case "all":
		if errs := agm.DestroyAllPloinky(ctx); len(errs) > 0 {
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "destroy all: %v\n", err)
			}
			return exitGeneric
		}
		fmt.Println("destroyed all ploinky-managed containers")
		return exitOK
	default:
		usage()
		return exitGeneric
	}
}

// cmdStatus reports whether SUP's process is alive (from its PID file) and
// every AR-declared agent alongside its routed host port. It does not query
// RT's /health.
func cmdStatus(cfg *config.Config, paths workspace.Paths) int {
	if pid, ok := readPidFile(cfg.Watchdog.PidFile); ok && processAlive(pid) {
		fmt.Printf("ploinkyd: running (pid %d)\n", pid)
	} else {
		fmt.Println("ploinkyd: not running")
	}

	ar, err := registry.Load(paths.Agents)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load agent registry: %v\n", err)
		return exitGeneric
	}
	rtbl, err := routingtable.Load(paths.Routing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load routing table: %v\n", err)
		return exitGeneric
	}

	routes := rtbl.List()
	records := ar.List()
	if len(records) == 0 {
		fmt.Println("no agents declared")
		return exitOK
	}

	for containerName, rec := range records {
		route, routed := routes[rec.AgentName]
		status := "stopped"
		if !rec.IntentionallyStopped {
			status = "running"
		}
		portInfo := "unrouted"
		if routed {
			portInfo = fmt.Sprintf("port %d", route.HostPort)
			if route.Disabled {
				portInfo += " (disabled)"
			}
		}
		fmt.Printf("%-40s %-10s %s %s\n", containerName, rec.AgentName, status, portInfo)
	}
	return exitOK
}

// cmdLogs handles "logs tail" (follow, like tail -f) and "logs last <N>".
func cmdLogs(paths workspace.Paths, args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}
	switch args[0] {
	case "tail":
		return tailLogs(paths.Router, paths.Watchdog)
	case "last":
		if len(args) != 2 {
			usage()
			return exitGeneric
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "invalid line count %q\n", args[1])
			return exitGeneric
		}
		return printLastLines(paths.Router, paths.Watchdog, n)
	default:
		usage()
		return exitGeneric
	}
}

func tailLogs(files ...string) int {
	offsets := make([]int64, len(files))
	for i, f := range files {
		if info, err := os.Stat(f); err == nil {
			offsets[i] = info.Size()
		}
	}
	for {
		for i, f := range files {
			fh, err := os.Open(f)
			if err != nil {
				continue
			}
			if _, err := fh.Seek(offsets[i], io.SeekStart); err == nil {
				data, _ := io.ReadAll(fh)
				if len(data) > 0 {
					os.Stdout.Write(data)
					offsets[i] += int64(len(data))
				}
			}
			fh.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func printLastLines(routerLog, watchdogLog string, n int) int {
	lines, err := lastNLines(routerLog, n)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to read router log: %v\n", err)
	}
	wLines, err := lastNLines(watchdogLog, n)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to read watchdog log: %v\n", err)
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	for _, l := range wLines {
		fmt.Println(l)
	}
	return exitOK
}

func lastNLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// buildManager wires an in-process Manager for one-shot CLI operations.
// It does not start CM or any liveness loops beyond the single call being
// made; ploinkyd's own in-process Manager is unaffected and may be running
// concurrently, coordinated via the advisory per-agent locks.
func buildManager(root string, paths workspace.Paths) (*agentmanager.Manager, func(), int) {
	log := logger.Default().WithComponent("cli")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, nil, exitConfigError
	}

	runtimeName, err := containerdriver.Detect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "no supported container runtime found: %v\n", err)
		return nil, nil, exitGeneric
	}
	driver, err := containerdriver.NewDockerDriver(cfg.Docker, runtimeName, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to container runtime: %v\n", err)
		return nil, nil, exitGeneric
	}

	ar, err := registry.Load(paths.Agents)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load agent registry: %v\n", err)
		return nil, nil, exitGeneric
	}
	rtbl, err := routingtable.Load(paths.Routing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load routing table: %v\n", err)
		return nil, nil, exitGeneric
	}
	secrets, err := secretresolver.New(paths.Secrets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load secrets: %v\n", err)
		return nil, nil, exitGeneric
	}

	providedBus, busCleanup, err := agentmanager.ProvideEventBus(cfg.NATS, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to provision event bus: %v\n", err)
		return nil, nil, exitGeneric
	}

	manifests := agentmanager.NewFileManifestSource(root)
	agm := agentmanager.New(driver, ar, rtbl, paths, profile.FromEnvironment(), secrets, manifests, providedBus.Bus, log)
	return agm, func() { _ = busCleanup() }, exitOK
}

func readPidFile(path string) (int, bool) {
	if path == "" {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
