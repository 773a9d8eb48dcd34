package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	"github.com/rcrowley/go-metrics"
	"github.com/urfave/cli"

	"github.com/fertilizer-io/fertilizer/internal/config"
	"github.com/fertilizer-io/fertilizer/internal/injector"
	"github.com/fertilizer-io/fertilizer/internal/injector/deluge"
	"github.com/fertilizer-io/fertilizer/internal/injector/qbittorrent"
	"github.com/fertilizer-io/fertilizer/internal/jsonutil"
	"github.com/fertilizer-io/fertilizer/internal/logger"
	"github.com/fertilizer-io/fertilizer/internal/scanner"
	"github.com/fertilizer-io/fertilizer/internal/server"
	"github.com/fertilizer-io/fertilizer/internal/tracker"
	"github.com/fertilizer-io/fertilizer/internal/trackerapi"
	"github.com/fertilizer-io/fertilizer/internal/transformer"
)

// Version is set at build time.
var Version = "0.0.0"

const defaultConfig = "~/.config/fertilizer/config.json"

var log = logger.New("fertilizer")

func main() {
	app := cli.NewApp()
	app.Name = "fertilizer"
	app.Usage = "Cross-seed torrents between two reciprocal trackers"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config-file, c",
			Value: defaultConfig,
			Usage: "read config from `FILE`",
		},
		cli.StringFlag{
			Name:  "input-directory, i",
			Usage: "directory of .torrent files to scan",
		},
		cli.StringFlag{
			Name:  "input-file, f",
			Usage: "single .torrent file to scan",
		},
		cli.StringFlag{
			Name:  "output-directory, o",
			Usage: "directory to write generated torrents into",
		},
		cli.BoolFlag{
			Name:  "server, s",
			Usage: "run the webhook server instead of scanning once",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log `LEVEL`: debug, info, notice, warning, error or critical",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug log, same as --log-level debug",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "do not color the scan summary",
		},
	}
	app.Action = run
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

type options struct {
	inputDir  string
	inputFile string
	outputDir string
	server    bool
}

func parseOptions(c *cli.Context) (*options, error) {
	opt := &options{server: c.Bool("server")}
	var err error
	for _, p := range []struct {
		dst  *string
		name string
	}{
		{&opt.inputDir, "input-directory"},
		{&opt.inputFile, "input-file"},
		{&opt.outputDir, "output-directory"},
	} {
		if *p.dst, err = homedir.Expand(c.String(p.name)); err != nil {
			return nil, err
		}
	}
	switch {
	case opt.outputDir == "":
		return nil, errors.New("--output-directory is required")
	case opt.server && opt.inputFile != "":
		return nil, errors.New("--input-file cannot be used with --server")
	case opt.server && opt.inputDir == "":
		return nil, errors.New("--server requires --input-directory")
	case !opt.server && (opt.inputDir == "") == (opt.inputFile == ""):
		return nil, errors.New("give exactly one of --input-directory and --input-file")
	}
	return opt, nil
}

func run(c *cli.Context) error {
	level, err := logger.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if c.Bool("debug") {
		logger.SetDebug(true)
	}
	jsonutil.SetColor(useColor(os.Stdout, c.Bool("no-color")))
	opt, err := parseOptions(c)
	if err != nil {
		return err
	}
	cfg, err := config.Load(c.String("config-file"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := tracker.DefaultRegistry()
	apis := make(map[string]transformer.API)
	keys := []string{cfg.TrackerAKey, cfg.TrackerBKey}
	for i, t := range registry.Trackers() {
		api := trackerapi.New(t, trackerapi.Config{
			APIKey:      keys[i],
			MinInterval: cfg.APIMinInterval,
			Registry:    metrics.DefaultRegistry,
		})
		if err = api.Verify(ctx); err != nil {
			return fmt.Errorf("cannot verify %s API key: %w", t.ShortName, err)
		}
		log.Infof("%s API key verified", t.ShortName)
		apis[t.ShortName] = api
	}
	tr := transformer.New(registry, apis)

	var inj *injector.Injector
	if cfg.InjectionEnabled() {
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		inj = injector.New(client, cfg.InjectionLinkDirectory)
		if err = inj.Setup(ctx); err != nil {
			return fmt.Errorf("cannot connect to %s: %w", cfg.ClientKind, err)
		}
	}
	sc := scanner.New(tr, inj, scanner.Config{Workers: cfg.Workers, Registry: metrics.DefaultRegistry})

	switch {
	case opt.server:
		return serve(ctx, sc, cfg, opt)
	case opt.inputFile != "":
		path, err := sc.ScanFile(ctx, opt.inputFile, opt.outputDir)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	default:
		return scanDir(ctx, sc, opt)
	}
}

// useColor reports whether output written to f should carry ANSI colors.
func useColor(f *os.File, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newClient(cfg *config.Config) (injector.Client, error) {
	switch cfg.ClientKind {
	case config.ClientDeluge:
		return deluge.New(deluge.Config{URL: cfg.ClientURL})
	case config.ClientQBittorrent:
		return qbittorrent.New(qbittorrent.Config{URL: cfg.ClientURL})
	default:
		return nil, &config.ConfigKeyError{Key: "client_kind", Reason: "unknown client " + cfg.ClientKind}
	}
}

func scanDir(ctx context.Context, sc *scanner.Scanner, opt *options) error {
	report, err := sc.ScanDir(ctx, opt.inputDir, opt.outputDir)
	if report == nil {
		return err
	}
	for _, b := range []scanner.Bucket{scanner.NotFound, scanner.Failed} {
		for _, msg := range report.Messages(b) {
			log.Debugf("%s: %s", b, msg)
		}
	}
	summary, merr := jsonutil.MarshalCompactPretty(report.Summary())
	if merr != nil {
		return merr
	}
	fmt.Print(string(summary))
	return err
}

func serve(ctx context.Context, sc *scanner.Scanner, cfg *config.Config, opt *options) error {
	port := cfg.ServerPort
	if s := os.Getenv("PORT"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		port = p
	}
	inputDir, err := filepath.Abs(opt.inputDir)
	if err != nil {
		return err
	}
	srv := server.New(sc, server.Config{
		InputDir:  inputDir,
		OutputDir: opt.outputDir,
		Registry:  metrics.DefaultRegistry,
	})
	if err = srv.Start("0.0.0.0", port); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("shutting down")
	return srv.Stop(5 * time.Second)
}
