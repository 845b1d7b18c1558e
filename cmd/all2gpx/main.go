package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/Bucknalla/all2gpx/config"
	"github.com/Bucknalla/all2gpx/gps"
	"github.com/Bucknalla/all2gpx/store"
	"github.com/Bucknalla/all2gpx/track"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"     // Will be set to git tag if available, otherwise "dev"
	Commit    = "unknown" // Will be set to git commit hash
	BuildDate = "unknown" // Will be set to build timestamp
)

// openSerial is replaced in tests
var openSerial = func(port string, baud int) (io.WriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(port, mode)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	cfg         config.Config
	configPath  string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var (
		opts  options
		flags = config.Default()
		fs    = flag.NewFlagSet("all2gpx", flag.ContinueOnError)
	)
	fs.SetOutput(stderr)

	fs.BoolVar(&opts.showVersion, "version", false, "Show version information and exit")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file; flags override its values")
	fs.StringVar(&flags.Input, "input", "", "Kongsberg .all file or directory of files")
	fs.StringVar(&flags.Output, "output", flags.Output, "GPX output file (- for stdout)")
	fs.StringVar(&flags.Extension, "ext", flags.Extension, "File extension matched when -input is a directory")
	fs.IntVar(&flags.Workers, "workers", flags.Workers, "Number of files decoded concurrently")
	fs.BoolVar(&flags.AbortOnError, "abort-on-error", false, "Stop at the first file that fails to decode")
	fs.Float64Var(&flags.GateSeconds, "gate", 0, "Keep only fixes within this many seconds of a file's first fix (0 = all)")
	fs.StringVar(&flags.Database, "db", "", "SQLite catalog to record the run in")
	fs.StringVar(&flags.Plot, "plot", "", "Render the tracks to this image file (.png, .svg, .pdf)")
	fs.BoolVar(&flags.Quiet, "quiet", false, "Suppress info messages")
	fs.BoolVar(&flags.Replay.Enabled, "replay", false, "Replay a track as NMEA 0183 after extraction")
	fs.StringVar(&flags.Replay.Track, "replay-track", "", "Name of the track to replay (default: first track with points)")
	fs.StringVar(&flags.Replay.SerialPort, "serial", "", "Serial port for NMEA output (e.g., /dev/ttyUSB0, COM1)")
	fs.IntVar(&flags.Replay.BaudRate, "baud", flags.Replay.BaudRate, "Serial port baud rate")
	fs.DurationVar(&flags.Replay.Rate, "replay-rate", flags.Replay.Rate, "NMEA output rate for tracks without usable timestamps")
	fs.Float64Var(&flags.Replay.Speed, "replay-speed", flags.Replay.Speed, "Replay speed multiplier (1.0=real-time, 2.0=2x speed)")
	fs.BoolVar(&flags.Replay.Loop, "replay-loop", false, "Loop the replay continuously")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: all2gpx [options] [input]\n")
		fmt.Fprintf(stderr, "\nExtracts vessel GPS tracks from Kongsberg .all multibeam logs as GPX.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.cfg = config.Default()
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return opts, err
		}
		opts.cfg = cfg
	}

	// Flags given explicitly win over the file
	fs.Visit(func(f *flag.Flag) {
		c := &opts.cfg
		switch f.Name {
		case "input":
			c.Input = flags.Input
		case "output":
			c.Output = flags.Output
		case "ext":
			c.Extension = flags.Extension
		case "workers":
			c.Workers = flags.Workers
		case "abort-on-error":
			c.AbortOnError = flags.AbortOnError
		case "gate":
			c.GateSeconds = flags.GateSeconds
		case "db":
			c.Database = flags.Database
		case "plot":
			c.Plot = flags.Plot
		case "quiet":
			c.Quiet = flags.Quiet
		case "replay":
			c.Replay.Enabled = flags.Replay.Enabled
		case "replay-track":
			c.Replay.Track = flags.Replay.Track
		case "serial":
			c.Replay.SerialPort = flags.Replay.SerialPort
		case "baud":
			c.Replay.BaudRate = flags.Replay.BaudRate
		case "replay-rate":
			c.Replay.Rate = flags.Replay.Rate
		case "replay-speed":
			c.Replay.Speed = flags.Replay.Speed
		case "replay-loop":
			c.Replay.Loop = flags.Replay.Loop
		}
	})
	if fs.NArg() > 0 {
		opts.cfg.Input = fs.Arg(0)
	}
	if len(opts.cfg.Extension) > 0 && opts.cfg.Extension[0] != '.' {
		opts.cfg.Extension = "." + opts.cfg.Extension
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.showVersion {
		if Version != "dev" {
			fmt.Fprintf(stdout, "v%s\n", Version)
		} else {
			fmt.Fprintf(stdout, "%s\n", Commit)
		}
		return 0
	}

	cfg := opts.cfg
	logger := log.New(stderr, "", log.LstdFlags)
	if cfg.Quiet {
		logger.SetOutput(io.Discard)
	}

	if err := checkConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := process(ctx, cfg, stdout, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Printf("Interrupted")
			return 130
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func checkConfig(cfg config.Config) error {
	if cfg.Input == "" {
		return errors.New("an input file or directory is required (-input)")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Replay.Enabled && cfg.Replay.SerialPort == "" && cfg.Output == "-" {
		return errors.New("replaying to stdout needs -output set to a file")
	}
	if cfg.Replay.Enabled {
		rc := cfg.ReplayConfig()
		if err := rc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func process(ctx context.Context, cfg config.Config, stdout io.Writer, logger *log.Logger) error {
	builder := &track.Builder{
		Options:      cfg.TrackOptions(),
		Workers:      cfg.Workers,
		AbortOnError: cfg.AbortOnError,
		Logger:       logger,
		Reporter: track.ReporterFunc(func(p track.Progress) error {
			if p.Err != nil {
				logger.Printf("[%d/%d] %s: %v", p.Done, p.Total, p.Path, p.Err)
				return nil
			}
			logger.Printf("[%d/%d] %s: %d points, %d pings", p.Done, p.Total, p.Path, p.Points, p.Pings)
			return nil
		}),
	}

	start := time.Now()
	set, err := builder.BuildPath(ctx, cfg.Input, cfg.Extension)
	if err != nil {
		return err
	}
	logger.Printf("Processed %d files in %v", len(set.Tracks), time.Since(start).Round(time.Millisecond))
	logger.Printf("Total pings: %d", set.TotalPings)
	logger.Printf("Total points: %d", set.TotalPoints)
	logDiagnostics(logger, set)
	if len(set.Failures) > 0 {
		logger.Printf("%d files failed to decode", len(set.Failures))
	}
	if len(set.Tracks) == 0 {
		logger.Printf("No %s files found in %s", cfg.Extension, cfg.Input)
	}

	if cfg.Output == "-" {
		if err := gps.WriteGPX(stdout, set); err != nil {
			return err
		}
	} else {
		if err := gps.WriteGPXFile(cfg.Output, set); err != nil {
			return err
		}
		logger.Printf("GPX output: %s", cfg.Output)
	}

	if cfg.Database != "" {
		db, err := store.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open catalog %s: %w", cfg.Database, err)
		}
		run, err := db.SaveRun(ctx, cfg.Input, set)
		db.Close()
		if err != nil {
			return err
		}
		logger.Printf("Catalog run %s saved to %s", run.ID, cfg.Database)
	}

	if cfg.Plot != "" {
		if err := gps.SavePlot(cfg.Plot, set); err != nil {
			if !errors.Is(err, gps.ErrNoTracks) {
				return err
			}
			logger.Printf("Skipping plot: %v", err)
		} else {
			logger.Printf("Plot output: %s", cfg.Plot)
		}
	}

	if cfg.Replay.Enabled {
		return replay(ctx, cfg, set, stdout, logger)
	}
	return nil
}

// logDiagnostics logs depth statistics and sounder settings per file
func logDiagnostics(logger *log.Logger, set track.Set) {
	for _, f := range set.Files {
		name := filepath.Base(f.Path)
		if f.Depth.Count > 0 {
			logger.Printf("%s: depth min %.2f m, max %.2f m, mean %.2f m (std dev %.2f) over %d pings",
				name, f.Depth.Min, f.Depth.Max, f.Depth.Mean, f.Depth.StdDev, f.Depth.Count)
		}
		if rt := f.Runtime; rt != nil {
			logger.Printf("%s: mode %s, dual swath %s, spike filter %s, stabilisation %s",
				name, rt.DepthModeAndPulse(), rt.DualSwath(), rt.SpikeFilter(), rt.StabilisationMode())
		}
	}
}

func replay(ctx context.Context, cfg config.Config, set track.Set, stdout io.Writer, logger *log.Logger) error {
	t, err := set.Pick(cfg.Replay.Track)
	if err != nil {
		return err
	}
	rc := cfg.ReplayConfig()
	r, err := gps.NewReplayer(t, rc)
	if err != nil {
		return err
	}

	var w io.Writer = stdout
	if rc.SerialPort != "" {
		port, err := openSerial(rc.SerialPort, rc.BaudRate)
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", rc.SerialPort, err)
		}
		defer port.Close()
		w = port
		logger.Printf("Opened serial port: %s at %d baud", rc.SerialPort, rc.BaudRate)
	}
	r.SetNMEAWriter(w)

	logger.Printf("Replaying %s (%d points) at %.1fx", t.Name, len(t.Points), rc.Speed)
	if err := r.Run(ctx); err != nil {
		return err
	}
	logger.Printf("Replay complete")
	return nil
}
