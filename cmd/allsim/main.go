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

	"github.com/Bucknalla/all2gpx/gps"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	config := gps.DefaultSurveyConfig()
	var (
		output string
		files  int
		start  string
		quiet  bool
	)

	fs := flag.NewFlagSet("allsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&output, "output", ".", "Directory to write the simulated .all files to")
	fs.IntVar(&files, "files", 1, "Number of consecutive survey lines to write")
	fs.Float64Var(&config.Latitude, "lat", config.Latitude, "Survey centre latitude (decimal degrees)")
	fs.Float64Var(&config.Longitude, "lon", config.Longitude, "Survey centre longitude (decimal degrees)")
	fs.Float64Var(&config.Radius, "radius", config.Radius, "Survey area radius in meters")
	fs.Float64Var(&config.Jitter, "jitter", config.Jitter, "Course and speed jitter factor (0.0=steady, 1.0=erratic)")
	fs.Float64Var(&config.Speed, "speed", config.Speed, "Vessel speed in knots")
	fs.Float64Var(&config.Course, "course", config.Course, "Initial course in degrees (0-359)")
	fs.DurationVar(&config.Duration, "duration", config.Duration, "Length of each survey line")
	fs.DurationVar(&config.Interval, "interval", config.Interval, "Time between position fixes")
	fs.IntVar(&config.Beams, "beams", config.Beams, "Beams per depth ping (1-255)")
	fs.Float64Var(&config.Depth, "depth", config.Depth, "Mean water depth in meters")
	fs.BoolVar(&config.Secondary, "secondary", false, "Log a second positioning system")
	fs.Int64Var(&config.Seed, "seed", config.Seed, "Random seed")
	fs.StringVar(&start, "start", config.Start.Format(time.RFC3339), "Survey start time (RFC 3339)")
	fs.BoolVar(&quiet, "quiet", false, "Suppress info messages")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: allsim [options]\n")
		fmt.Fprintf(stderr, "\nWrites synthetic Kongsberg .all survey lines of a vessel working around a point.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	logger := log.New(stderr, "", log.LstdFlags)
	if quiet {
		logger.SetOutput(io.Discard)
	}

	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid -start: %v\n", err)
		return 1
	}
	config.Start = t
	if files < 1 {
		fmt.Fprintf(stderr, "Error: -files must be at least 1\n")
		return 1
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	for i := 0; i < files; i++ {
		line := config
		line.Name = fmt.Sprintf("%04d_%s.all", i, t.Format("20060102_150405"))
		line.Start = t
		line.Seed = config.Seed + int64(i)

		survey, err := gps.NewSurvey(line)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		path := filepath.Join(output, line.Name)
		sum, err := survey.WriteFile(ctx, path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		logger.Printf("Wrote %s: %d datagrams, %d pings, %d bytes", path, sum.Datagrams, sum.Pings, sum.Bytes)

		// Next line starts where this one ended
		if n := len(sum.Track.Points); n > 0 {
			last := sum.Track.Points[n-1]
			config.Latitude, config.Longitude = last.Latitude, last.Longitude
		}
		t = t.Add(line.Duration)
	}
	return 0
}
