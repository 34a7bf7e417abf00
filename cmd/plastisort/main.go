package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/ayusman/plastisort/internal/app"
	"github.com/ayusman/plastisort/internal/config"
	"github.com/ayusman/plastisort/internal/detector"
	"github.com/ayusman/plastisort/internal/history"
	"github.com/ayusman/plastisort/internal/metrics"
	"github.com/ayusman/plastisort/internal/server"
	"github.com/ayusman/plastisort/internal/store"
	"github.com/ayusman/plastisort/internal/tray"
)

func main() {
	cfg := config.Load()

	parser := argparse.NewParser("plastisort", "Plastic waste detection dashboard")
	addr := parser.String("a", "addr", &argparse.Options{Help: "Dashboard listen address", Default: cfg.Addr})
	model := parser.String("m", "model", &argparse.Options{Help: "Detector weights (.onnx or .pt)", Default: cfg.ModelPath})
	classes := parser.String("c", "classes", &argparse.Options{Help: "Class names file for ONNX models, one per line", Default: cfg.ClassesPath})
	dataDir := parser.String("d", "data", &argparse.Options{Help: "Directory holding the history database", Default: cfg.DataDir})
	backend := parser.Selector("b", "backend", []string{config.BackendSQLite, config.BackendMemory}, &argparse.Options{Help: "History backend", Default: cfg.Backend})
	camera := parser.Int("", "camera", &argparse.Options{Help: "Webcam device index", Default: cfg.CameraID})
	noTracking := parser.Flag("", "no-tracking", &argparse.Options{Help: "Record every webcam frame instead of tracked objects"})
	headless := parser.Flag("", "headless", &argparse.Options{Help: "Run without the system tray"})
	webDir := parser.String("w", "web", &argparse.Options{Help: "Directory with the dashboard static files", Default: cfg.StaticDir})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg.Addr = *addr
	cfg.ModelPath = *model
	cfg.ClassesPath = *classes
	cfg.DataDir = *dataDir
	cfg.Backend = *backend
	cfg.CameraID = *camera
	cfg.Tracking = cfg.Tracking && !*noTracking
	cfg.StaticDir = *webDir
	if cfg.StaticDir == "" {
		cfg.StaticDir = findWebDir()
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg, logger, *headless); err != nil {
		logger.Criticalf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logs.Log, headless bool) error {
	var hist history.Store
	var settings app.SettingsStore

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Infof("History is kept in memory and lost on exit")
		hist = history.NewMemoryStore()
	default:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := store.New(logger, cfg.DBPath())
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		hist = st
		settings = st.Settings()
	}
	defer hist.Close()

	m := metrics.New()
	application := app.New(app.Config{
		History:  hist,
		Settings: settings,
		Log:      logger,
		Metrics:  m,
		Detector: detector.Config{
			ModelPath:   cfg.ModelPath,
			ClassesPath: cfg.ClassesPath,
			InputSize:   detector.DefaultConfig().InputSize,
		},
		CameraID:      cfg.CameraID,
		Tracking:      cfg.Tracking,
		TickInterval:  cfg.TickInterval,
		PageSize:      cfg.PageSize,
		StatCardLimit: cfg.StatCardLimit,
		Thresholds:    cfg.Thresholds,
	})
	defer application.Close()

	// detection becomes available once the model is in
	application.LoadModel()

	if cfg.StaticDir != "" {
		logger.Infof("Serving static files from %s", cfg.StaticDir)
	}
	srv := server.New(server.Config{
		StaticDir: cfg.StaticDir,
		App:       application,
		Metrics:   m,
		Log:       logger,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.Addr)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	if headless {
		select {
		case err := <-serveErr:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-signals:
			logger.Infof("Received %v, shutting down", sig)
			return nil
		}
	}

	t := tray.New()
	t.OnWebcam(func(start bool) error {
		if start {
			return application.StartWebcam(-1)
		}
		application.StopWebcam()
		return nil
	})
	t.OnDashboard(func() {
		if err := openBrowser(dashboardURL(cfg.Addr)); err != nil {
			logger.Warnf("Failed to open dashboard: %v", err)
		}
	})
	t.OnQuit(func() {
		logger.Infof("Quit requested from tray")
	})

	updates, unsubscribe := application.Subscribe()
	defer unsubscribe()
	go func() {
		for u := range updates {
			t.SetLastDetection(u.Stats)
			t.SetWebcamRunning(application.WebcamRunning())
		}
	}()

	stopErr := make(chan error, 1)
	go func() {
		select {
		case err := <-serveErr:
			stopErr <- fmt.Errorf("server failed: %w", err)
		case sig := <-signals:
			logger.Infof("Received %v, shutting down", sig)
		}
		t.Quit()
	}()

	// the tray owns the main thread until quit
	t.Run()

	select {
	case err := <-stopErr:
		return err
	default:
		return nil
	}
}

func dashboardURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.plastisort/web.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(home, ".plastisort", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
