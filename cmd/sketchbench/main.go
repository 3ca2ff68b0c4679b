// Command sketchbench replays drawing scenarios against the canvas engine
// and reports frame time, stroke latency and memory use.
//
// Usage:
//
//	sketchbench [flags] [scenario.yaml | scenario.lua ...]
//
// Without scenario files a random scenario of -generate strokes is run.
// With -check the integration checks run first and a failure exits with
// status 1.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/bench"
	"github.com/gogpu/sketch/integration"
	"github.com/gogpu/sketch/tilemem"
)

// Version is set via ldflags during build.
var Version = "dev"

type options struct {
	configPath string
	generate   int
	seed       int64
	width      int
	height     int
	budget     int64
	storeDir   string
	listen     string
	check      bool
	checkOnly  bool
	jsonOut    bool
	verbose    bool
	window     int
	files      []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	sketch.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := baseConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	out := newPrinter(os.Stdout, opts.jsonOut)

	if opts.check || opts.checkOnly {
		report := integration.Run(ctx, cfg)
		out.report(report)
		if !report.Passed() {
			return 1
		}
		if opts.checkOnly {
			return 0
		}
	}

	scenarios, err := loadScenarios(ctx, opts, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var suiteOpts []bench.Option
	suiteOpts = append(suiteOpts, bench.WithWindow(opts.window))
	if opts.storeDir != "" {
		suiteOpts = append(suiteOpts, bench.WithStore(boltStores(opts.storeDir)))
	}
	if opts.listen != "" {
		srv, shutdown, err := serveStats(opts.listen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer shutdown()
		suiteOpts = append(suiteOpts, bench.WithServer(srv))
	}

	stats, err := bench.RunSuite(ctx, scenarios, suiteOpts...)
	out.stats(stats)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("sketchbench", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "TOML engine configuration for generated scenarios and checks")
	fs.IntVar(&opts.generate, "generate", 200, "strokes in the random scenario run when no files are given")
	fs.Int64Var(&opts.seed, "seed", 1, "random scenario seed")
	fs.IntVar(&opts.width, "width", 0, "canvas width override")
	fs.IntVar(&opts.height, "height", 0, "canvas height override")
	fs.Int64Var(&opts.budget, "budget", -1, "resident byte budget override (0 = unlimited)")
	fs.StringVar(&opts.storeDir, "store", "", "directory for bbolt tile stores (default in memory)")
	fs.StringVar(&opts.listen, "listen", "", "serve live stats over WebSocket on this address")
	fs.BoolVar(&opts.check, "check", false, "run the integration checks before the scenarios")
	fs.BoolVar(&opts.checkOnly, "check-only", false, "run only the integration checks")
	fs.BoolVar(&opts.jsonOut, "json", false, "write JSON lines even on a terminal")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	fs.IntVar(&opts.window, "window", bench.DefaultWindow, "rolling window size")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "sketchbench %s\n\nUsage: sketchbench [flags] [scenario.yaml | scenario.lua ...]\n\n", Version)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *showVersion {
		fmt.Println("sketchbench", Version)
		return opts, flag.ErrHelp
	}
	opts.files = fs.Args()
	return opts, nil
}

// baseConfig loads -config and applies the command-line overrides.
func baseConfig(opts options) (sketch.Config, error) {
	cfg := sketch.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = sketch.LoadConfig(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if opts.width > 0 {
		cfg.CanvasWidth = opts.width
	}
	if opts.height > 0 {
		cfg.CanvasHeight = opts.height
	}
	if opts.budget >= 0 {
		cfg.ResidentByteBudget = opts.budget
	}
	return cfg, cfg.Validate()
}

func loadScenarios(ctx context.Context, opts options, cfg sketch.Config) ([]bench.Scenario, error) {
	if len(opts.files) == 0 {
		sc, err := bench.RandomScenario("random", cfg, bench.Generator{Strokes: opts.generate, Seed: opts.seed, CancelEvery: 10})
		if err != nil {
			return nil, err
		}
		return []bench.Scenario{sc}, nil
	}
	var out []bench.Scenario
	for _, path := range opts.files {
		scs, err := bench.LoadScenarios(ctx, path)
		if err != nil {
			return nil, err
		}
		out = append(out, scs...)
	}
	return out, nil
}

// boltStores opens one database per scenario under dir, replacing the
// previous run's file.
func boltStores(dir string) func(bench.Scenario) (tilemem.Store, error) {
	return func(sc bench.Scenario) (tilemem.Store, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, sc.Name+".db")
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return tilemem.OpenBoltStore(path)
	}
}

// serveStats starts the stats WebSocket server on addr at /stats.
func serveStats(addr string) (*bench.StatsServer, func(), error) {
	stats := bench.NewStatsServer()
	mux := http.NewServeMux()
	mux.Handle("/stats", stats)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return nil, nil, fmt.Errorf("stats server: %w", err)
	case <-time.After(50 * time.Millisecond):
	}
	fmt.Fprintf(os.Stderr, "streaming stats on ws://%s/stats\n", addr)

	return stats, func() {
		_ = stats.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// printer writes a table on a terminal and JSON lines otherwise.
type printer struct {
	w     io.Writer
	json  bool
	width int
}

func newPrinter(w *os.File, forceJSON bool) *printer {
	p := &printer{w: w, json: forceJSON || !term.IsTerminal(int(w.Fd()))}
	if !p.json {
		if width, _, err := term.GetSize(int(w.Fd())); err == nil {
			p.width = width
		}
	}
	return p
}

func (p *printer) report(r integration.Report) {
	if p.json {
		_ = json.NewEncoder(p.w).Encode(r)
		return
	}
	fmt.Fprintln(p.w, r)
	fmt.Fprintln(p.w)
}

func (p *printer) stats(stats []bench.PerformanceStats) {
	if p.json {
		enc := json.NewEncoder(p.w)
		for _, st := range stats {
			_ = enc.Encode(st)
		}
		return
	}
	if len(stats) == 0 {
		return
	}
	wide := p.width == 0 || p.width >= 110
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := "SCENARIO\tSTROKES\tCANCELLED\tFPS\tFRAME P95\tLATENCY P95\tPEAK MiB\t"
	if wide {
		header += "COMPOSITE P95\tEVICTIONS\tCOMPRESSIONS\t"
	}
	fmt.Fprintln(tw, header)
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%s\t%s\t%.1f\t",
			st.Scenario, st.Strokes, st.Cancelled, st.FPS(),
			st.FrameTime.P95.Round(time.Microsecond), st.StrokeLatency.P95.Round(time.Microsecond),
			float64(st.Tiles.PeakResidentBytes)/(1<<20))
		if wide {
			fmt.Fprintf(tw, "%s\t%d\t%d\t", st.CompositeCost.P95.Round(time.Microsecond), st.Tiles.Evictions, st.Tiles.Compressions)
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
}
