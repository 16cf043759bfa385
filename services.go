package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"wyrmhole/config"
	"wyrmhole/discovery"
	"wyrmhole/metrics"
	"wyrmhole/models"
	"wyrmhole/network"
	"wyrmhole/storage"
	"wyrmhole/transfer"
)

// services is everything a command needs once settings are loaded.
type services struct {
	settings *config.Settings
	cfgPath  string
	store    *storage.Store
	metrics  *metrics.Metrics
	engine   *transfer.Engine

	closers []func()
}

func loadSettings(c *cli.Context) (*config.Settings, string, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, "", fmt.Errorf("startup failed while loading config: %w", err)
	}
	configureLogging(cfg.LogLevel, c.Bool("debug"))
	return cfg, cfgPath, nil
}

func configureLogging(level string, debug bool) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	if level == "" {
		level = config.DefaultLogLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("log_level", level).Warn("Unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

// openStore opens only the history database.
func openStore(c *cli.Context) (*services, error) {
	cfg, cfgPath, err := loadSettings(c)
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Dir(cfgPath)
	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("startup failed while opening database: %w", err)
	}
	logrus.WithField("path", dbPath).Debug("History database opened")

	rt := &services{settings: cfg, cfgPath: cfgPath, store: store}
	rt.closers = append(rt.closers, func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("database close error")
		}
	})
	return rt, nil
}

// openServices wires the transfer engine on top of the store: mDNS
// directory, LAN transport, metrics and a console notifier.
func openServices(c *cli.Context) (*services, error) {
	rt, err := openStore(c)
	if err != nil {
		return nil, err
	}

	directory, err := discovery.NewMDNSDirectory(discovery.Config{})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("startup failed while starting discovery: %w", err)
	}

	rt.metrics = metrics.New()
	if addr := rt.settings.MetricsAddress; addr != "" {
		ctx, cancel := context.WithCancel(c.Context)
		go func() {
			if err := rt.metrics.Serve(ctx, addr); err != nil {
				logrus.WithError(err).WithField("address", addr).Warn("Metrics server stopped")
			}
		}()
		rt.closers = append(rt.closers, cancel)
	}

	engine, err := transfer.New(transfer.Options{
		Settings:  *rt.settings,
		Transport: network.NewTransport(directory, network.Options{}),
		Notifier:  newConsoleNotifier(),
		History:   rt.store,
		Metrics:   rt.metrics,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

func (rt *services) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// consoleNotifier prints codes and terminal progress to the terminal and
// logs everything else.
type consoleNotifier struct {
	*transfer.LogNotifier

	mu          sync.Mutex
	lastPercent map[string]int
}

func newConsoleNotifier() *consoleNotifier {
	return &consoleNotifier{LogNotifier: transfer.NewLogNotifier(), lastPercent: map[string]int{}}
}

func (n *consoleNotifier) ConnectionCode(c models.ConnectionCode) {
	n.LogNotifier.ConnectionCode(c)
	if c.Status == transfer.StatusSuccess {
		fmt.Fprintf(os.Stdout, "Wormhole code is: %s\nOn the other computer, please run: wyrmhole receive %s\n", c.Code, c.Code)
	}
}

func (n *consoleNotifier) SendProgress(p models.SendProgress) {
	n.LogNotifier.SendProgress(p)
	if p.Status != models.PhaseSending || p.Total == 0 {
		return
	}
	n.printProgress(p.ID, p.FileName, p.Percentage)
}

func (n *consoleNotifier) DownloadProgress(p models.DownloadProgress) {
	n.LogNotifier.DownloadProgress(p)
	n.printProgress(p.ID, p.FileName, p.Percentage)
}

// printProgress prints at most one line per ten percent.
func (n *consoleNotifier) printProgress(id, name string, percent int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	step := percent / 10
	if last, ok := n.lastPercent[id]; ok && last >= step {
		return
	}
	n.lastPercent[id] = step
	fmt.Fprintf(os.Stdout, "%s: %d%%\n", name, percent)
}
