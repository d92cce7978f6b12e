package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jumboxerox/opsconsole/internal/api"
	"github.com/jumboxerox/opsconsole/internal/logging"
	"github.com/jumboxerox/opsconsole/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var apiURL string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/opsconsole/config.yml)")
	flag.StringVar(&apiURL, "api", "", "override backend API base URL")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Opsconsole - Storage Cleanup Console\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	if apiURL != "" {
		os.Setenv("OPSCONSOLE_API_URL", apiURL)
	}

	cfg, err := loadConsoleConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg consoleConfig) error {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger, closeLog := logging.File(cfg.LogPath, level)
	defer closeLog()

	client, err := api.NewClient(cfg.APIURL, api.Options{
		Timeout: cfg.RequestTimeout,
		Logger:  logger.ForContext("Component", "api"),
	})
	if err != nil {
		return err
	}

	pageCfg := tui.Config{
		GracePeriod:    cfg.GracePeriod,
		TickInterval:   cfg.TickInterval,
		DebounceQuiet:  cfg.DebounceQuiet,
		RequestTimeout: cfg.RequestTimeout,
		StaleAfter:     cfg.StaleAfter,
		PageSize:       cfg.PageSize,
		Logger:         logger,
	}
	page := tui.NewCleanupPage(client, pageCfg)
	app := tui.NewApp(page, tui.NewHelpPage(pageCfg, page.ID()))
	defer app.Close()

	logger.Information("Console started against {APIURL}", cfg.APIURL)

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("TUI requires a real terminal")
		}
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
