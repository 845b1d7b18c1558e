package gps

import (
	"fmt"
	"io"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/Bucknalla/all2gpx/track"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 8 * vg.Inch
)

// newTrackPlot draws every non-empty track of set as a line, longitude on
// X and latitude on Y
func newTrackPlot(set track.Set) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Survey tracks"
	p.X.Label.Text = "Longitude (deg)"
	p.Y.Label.Text = "Latitude (deg)"
	p.Add(plotter.NewGrid())

	lines := 0
	for i, t := range set.Tracks {
		if len(t.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(t.Points))
		for j, pt := range t.Points {
			pts[j] = plotter.XY{X: pt.Longitude, Y: pt.Latitude}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", t.Name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(t.Name, line)
		lines++
	}
	if lines == 0 {
		return nil, ErrNoTracks
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePlot renders set as a PNG image to w
func WritePlot(w io.Writer, set track.Set) error {
	p, err := newTrackPlot(set)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot renders set to filename. The image format follows the file
// extension (png, svg, pdf, ...).
func SavePlot(filename string, set track.Set) error {
	p, err := newTrackPlot(set)
	if err != nil {
		return err
	}
	if filepath.Ext(filename) == "" {
		return fmt.Errorf("plot file %s has no extension to pick a format from", filename)
	}
	if err := p.Save(plotWidth, plotHeight, filename); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", filename, err)
	}
	return nil
}
