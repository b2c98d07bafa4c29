package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/getlantern/systray"

	"project-tachyon/internal/analytics"
	"project-tachyon/internal/api"
	"project-tachyon/internal/config"
	"project-tachyon/internal/fetch"
	"project-tachyon/internal/instance"
	"project-tachyon/internal/invalidation"
	"project-tachyon/internal/javart"
	"project-tachyon/internal/logger"
	"project-tachyon/internal/modpack/importer"
	"project-tachyon/internal/modpack/installer"
	"project-tachyon/internal/runtimepath"
	"project-tachyon/internal/security"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/supervisor"
	"project-tachyon/internal/updater"
	"project-tachyon/internal/vtask"
)

const daemonVersion = "1.0.0"

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.interruptConsolePID != 0 {
		// Re-exec'd helper: attach to the target console and raise
		// Ctrl-C, then exit with the fixed reaper exit code.
		supervisor.RunReaperHelper(uint32(flags.interruptConsolePID))
		return
	}

	runtimeRoot := flags.runtimePath
	if runtimeRoot == "" {
		appData, err := os.UserConfigDir()
		if err != nil {
			println("Error resolving default runtime path:", err.Error())
			os.Exit(1)
		}
		runtimeRoot = filepath.Join(appData, "Tachyon")
	}
	paths := runtimepath.New(runtimeRoot)
	if err := paths.EnsureAll(); err != nil {
		println("Error preparing runtime directories:", err.Error())
		os.Exit(1)
	}

	bus := invalidation.NewBus()

	log, err := logger.New(os.Stdout, bus)
	if err != nil {
		println("Error initializing logger:", err.Error())
		os.Exit(1)
	}

	store, err := storage.NewStorageAt(filepath.Join(runtimeRoot, "data"))
	if err != nil {
		log.Error("error initializing storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cfg := config.NewConfigManager(store)
	audit := security.NewAuditLogger(log, bus)
	defer audit.Close()

	tasks := vtask.NewManager(bus)
	instances := instance.NewStore(store, paths)
	sup := supervisor.New(instances, bus)
	_ = sup // wired for future instance-launch RPCs; not yet called from the control surface

	fetcher := fetch.NewFetcher(context.Background(), log, store, bus)
	fetcher.SetMaxConcurrent(cfg.GetConcurrencyLimit())

	im := importer.New(instances, tasks, bus)

	javaStore := javart.NewStore(store)
	javaDiscoverer := javart.NewDiscoverer(javart.RealChecker{}, javaStore)

	// Manifest fetchers are external collaborators (Mojang/Fabric/
	// Forge/CurseForge/Modrinth HTTP clients); none are wired here yet,
	// so installs short of "resolve a version manifest" are unavailable
	// until a real modplatforms implementation is plugged in.
	in := installer.New(fetcher, store, instances, paths, tasks, nil, nil, nil, nil)

	statsManager := analytics.NewStatsManager(store, func() (string, error) { return paths.Downloads(), nil })

	controlServer := api.NewControlServer(instances, tasks, im, in, javaStore, javaDiscoverer, statsManager, cfg, audit, log)
	controlServer.Start(cfg.GetControlAPIPort())

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("OS signal received, initiating shutdown...")
		shutdownCancel()
	}()

	if flags.ppid != 0 {
		go supervisor.WatchParent(shutdownCtx, int32(flags.ppid), func() {
			log.Info("parent process exited, shutting down")
			shutdownCancel()
		})
	}

	go checkForUpdates(log)

	if flags.tray {
		runTray(shutdownCancel)
	}

	<-shutdownCtx.Done()
	log.Info("shutting down")
}

type daemonFlags struct {
	runtimePath         string
	ppid                int
	interruptConsolePID int
	tray                bool
}

func parseFlags(args []string) daemonFlags {
	var f daemonFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--runtime-path":
			if i+1 < len(args) {
				i++
				f.runtimePath = args[i]
			}
		case "--ppid":
			if i+1 < len(args) {
				i++
				f.ppid, _ = strconv.Atoi(args[i])
			}
		case "--interrupt-console":
			if i+1 < len(args) {
				i++
				f.interruptConsolePID, _ = strconv.Atoi(args[i])
			}
		case "--tray":
			f.tray = true
		}
	}
	return f
}

func checkForUpdates(log *slog.Logger) {
	release, err := updater.CheckForUpdates(daemonVersion, "kmkrofficial", "project-tachyon")
	if err != nil {
		log.Debug("update check failed", "error", err)
		return
	}
	if release != nil && release.TagName != "" && release.TagName != daemonVersion {
		log.Info("newer release available", "tag", release.TagName, "url", release.HTMLURL)
	}
}

// runTray runs a minimal tray indicator for the daemon's optional
// foreground mode; it blocks until the tray is told to quit.
func runTray(quit context.CancelFunc) {
	systray.Run(func() {
		systray.SetTitle("Tachyon")
		systray.SetTooltip("Project Tachyon daemon")

		mQuit := systray.AddMenuItem("Quit", "Stop the Tachyon daemon")

		go func() {
			<-mQuit.ClickedCh
			quit()
			systray.Quit()
		}()
	}, func() {})
}
