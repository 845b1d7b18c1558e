package track

import (
	"context"
	"path/filepath"

	"github.com/Bucknalla/all2gpx/kongsberg"
)

const defaultCheckEvery = 1024

// Options tunes the extraction of a single file
type Options struct {
	// Accept gates fixes after the first one. Nil keeps every fix.
	Accept AcceptFunc
	// CheckEvery is the number of datagrams between cancellation checks.
	CheckEvery int
}

func (o Options) checkEvery() int {
	if o.CheckEvery <= 0 {
		return defaultCheckEvery
	}
	return o.CheckEvery
}

// FileResult is everything extracted from one file
type FileResult struct {
	Track      Track
	Descriptor byte // selected positioning system, valid when the track has points
	Datagrams  int
	Pings      int
	Depth      DepthStats
	Attitude   *kongsberg.AttitudeEntry     // first entry of the last attitude datagram
	Runtime    *kongsberg.RuntimeParameters // last runtime parameters seen
}

// Summary returns the diagnostics of the file at path
func (r FileResult) Summary(path string) FileSummary {
	return FileSummary{
		Path:       path,
		Datagrams:  r.Datagrams,
		Pings:      r.Pings,
		Descriptor: r.Descriptor,
		Depth:      r.Depth,
		Attitude:   r.Attitude,
		Runtime:    r.Runtime,
	}
}

// Extract decodes the file at path into a track named after the file.
func Extract(ctx context.Context, path string, opts Options) (FileResult, error) {
	r, err := kongsberg.Open(path)
	if err != nil {
		return FileResult{}, err
	}
	defer r.Close()
	return ExtractReader(ctx, r, filepath.Base(path), opts)
}

// ExtractReader runs r to exhaustion and returns the track under name.
// A format error aborts the file; a cancelled ctx discards the partial
// track.
func ExtractReader(ctx context.Context, r *kongsberg.Reader, name string, opts Options) (FileResult, error) {
	var (
		sel   Selector
		pings PingCounter
		res   FileResult
	)
	acc := NewAccumulator(opts.Accept)
	every := opts.checkEvery()

	r.Rewind()
	for r.MoreData() {
		if res.Datagrams%every == 0 {
			if err := ctx.Err(); err != nil {
				return FileResult{}, err
			}
		}
		dg, err := r.ReadDatagram()
		if err != nil {
			return FileResult{}, err
		}
		res.Datagrams++

		switch dg.Type {
		case kongsberg.TypeXYZ, kongsberg.TypeDepth:
			ping, err := dg.Depth()
			if err != nil {
				return FileResult{}, err
			}
			pings.Observe(ping)

		case kongsberg.TypePosition:
			pos, err := dg.Position()
			if err != nil {
				return FileResult{}, err
			}
			if !sel.Accept(pos.Descriptor) {
				continue
			}
			acc.Add(r.CurrentRecordDateTime(), pos.Latitude, pos.Longitude)

		case kongsberg.TypeAttitude:
			att, err := dg.Attitude()
			if err != nil {
				return FileResult{}, err
			}
			if len(att.Entries) > 0 {
				first := att.Entries[0]
				res.Attitude = &first
			}

		case kongsberg.TypeRuntime:
			rp, err := dg.RuntimeParameters()
			if err != nil {
				return FileResult{}, err
			}
			res.Runtime = &rp
		}
	}

	res.Track = acc.Track(name)
	res.Descriptor, _ = sel.Descriptor()
	res.Pings = pings.Count()
	res.Depth = pings.Stats()
	return res, nil
}
