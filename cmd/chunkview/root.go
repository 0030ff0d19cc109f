package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/csheth/chunkview/internal/chunks"
	"github.com/csheth/chunkview/internal/config"
	"github.com/csheth/chunkview/internal/geom"
	"github.com/csheth/chunkview/internal/overlay"
	"github.com/csheth/chunkview/internal/surface"
	"github.com/csheth/chunkview/internal/tui"
)

type rootOptions struct {
	configPath    string
	chunksPath    string
	workers       int
	logFile       string
	serve         string
	noAltScreen   bool
	reducedMotion bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "chunkview [document]",
		Short: "Highlight document chunks on rendered pages",
		Long: `chunkview renders a PDF page by page in the terminal and keeps the
selected chunk highlighted while pages render, the window resizes and the
view scrolls. Chunks come from a JSON or YAML catalog (--chunks) or from the
overlay API (--serve).`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewer(cmd.Context(), opts, args)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&opts.configPath, "config", "chunkview.yaml", "config file path")
	persistent.StringVar(&opts.chunksPath, "chunks", "", "chunk catalog (JSON or YAML)")
	persistent.IntVar(&opts.workers, "workers", 0, "concurrent page renders (overrides config)")
	persistent.StringVar(&opts.logFile, "log-file", "", "write logs to this file")

	flags := cmd.Flags()
	flags.StringVar(&opts.serve, "serve", "", "serve the overlay API on this address, e.g. 127.0.0.1:7410")
	flags.BoolVar(&opts.noAltScreen, "no-alt-screen", false, "disable the alternate screen buffer")
	flags.BoolVar(&opts.reducedMotion, "reduced-motion", false, "jump instead of animating scrolls")

	cmd.AddCommand(newInspectCmd(opts))
	return cmd
}

// loadSettings layers command-line flags over the config file and the
// environment.
func loadSettings(opts *rootOptions, document string) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if document != "" {
		cfg.Document = document
	}
	if opts.chunksPath != "" {
		cfg.Chunks = opts.chunksPath
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}
	if opts.serve != "" {
		cfg.Serve = opts.serve
	}
	if opts.noAltScreen {
		cfg.AltScreen = false
	}
	if opts.reducedMotion {
		cfg.ReducedMotion = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogging sends the standard logger to path, or discards it. The
// terminal belongs to the UI either way.
func setupLogging(path string) (func(), error) {
	if path == "" {
		log.SetOutput(io.Discard)
		return func() {}, nil
	}
	f, err := tea.LogToFile(path, "chunkview")
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return func() { _ = f.Close() }, nil
}

func loadCatalog(path string) (*chunks.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	catalog, err := chunks.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	log.Printf("[chunks] loaded %d chunk(s) from %s", catalog.Len(), path)
	return catalog, nil
}

func newProvider(cfg *config.Config) *surface.PDFProvider {
	return surface.NewPDFProvider(surface.Options{
		Workers:     cfg.Workers,
		CacheDir:    cfg.CacheDir,
		CacheTTL:    cfg.CacheTTL,
		HTTPTimeout: cfg.HTTPTimeout,
	})
}

func runViewer(ctx context.Context, opts *rootOptions, args []string) error {
	document := ""
	if len(args) > 0 {
		document = args[0]
	}
	cfg, err := loadSettings(opts, document)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	catalog, err := loadCatalog(cfg.Chunks)
	if err != nil {
		return err
	}

	tuiConfig := tui.Config{
		Document:       cfg.Document,
		Catalog:        catalog,
		Provider:       newProvider(cfg),
		Workers:        cfg.Workers,
		FrameInterval:  cfg.FrameInterval,
		SettleDelay:    cfg.SettleDelay,
		ScrollDuration: cfg.ScrollDuration,
		ReducedMotion:  cfg.ReducedMotion,
		CellAspect:     cfg.CellAspect,
		PageGap:        cfg.PageGap,
		OnReady: func(info tui.ReadyInfo) {
			log.Printf("[tui] ready with %d page(s)", info.PageCount)
		},
	}

	var program *tea.Program
	var server *overlay.Server
	if cfg.Serve != "" {
		server = overlay.New(overlay.Config{Addr: cfg.Serve}, catalog, func(chunk *geom.Chunk) {
			program.Send(tui.SelectMsg{Chunk: chunk})
		})
		tuiConfig.Publish = server.Publish
	}

	programOptions := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if ctx != nil {
		programOptions = append(programOptions, tea.WithContext(ctx))
	}
	if cfg.AltScreen {
		programOptions = append(programOptions, tea.WithAltScreen())
	}
	program = tea.NewProgram(tui.New(tuiConfig), programOptions...)

	if server != nil {
		addr, err := server.Start()
		if err != nil {
			return fmt.Errorf("start overlay server: %w", err)
		}
		log.Printf("[overlay] listening on %s", addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("[overlay] shutdown: %v", err)
			}
		}()
	}

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("program error: %w", err)
	}
	return nil
}
