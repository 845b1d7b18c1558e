package track

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bucknalla/all2gpx/kongsberg"
)

var t0 = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func beams(depths ...float64) []kongsberg.Beam {
	out := make([]kongsberg.Beam, len(depths))
	for i, d := range depths {
		out[i] = kongsberg.Beam{Depth: d, AcrossTrack: float64(i - len(depths)/2)}
	}
	return out
}

func writeSurvey(t *testing.T, dir, name string, fn func(w *kongsberg.Writer)) string {
	t.Helper()
	var buf bytes.Buffer
	fn(kongsberg.NewWriter(&buf, 710, 7))
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func pos(w *kongsberg.Writer, t *testing.T, at time.Time, desc byte, lat, lon float64) {
	t.Helper()
	require.NoError(t, w.WritePosition(kongsberg.Position{Time: at, Descriptor: desc, Latitude: lat, Longitude: lon}))
}

func TestSelector(t *testing.T) {
	var s Selector
	assert.Equal(t, Unselected, s.State())
	_, ok := s.Descriptor()
	assert.False(t, ok)

	assert.True(t, s.Accept(3))
	assert.Equal(t, Selected, s.State())
	assert.False(t, s.Accept(1))
	assert.True(t, s.Accept(3))
	assert.False(t, s.Accept(2))

	d, ok := s.Descriptor()
	assert.True(t, ok)
	assert.Equal(t, byte(3), d)
	assert.Equal(t, "selected", s.State().String())
}

func TestAccumulatorKeepsArrivalOrder(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Add(t0.Add(5*time.Second), 1, 1)
	acc.Add(t0, 2, 2)
	acc.Add(t0.Add(time.Second), 3, 3)

	start, ok := acc.StartTime()
	require.True(t, ok)
	assert.True(t, start.Equal(t0.Add(5*time.Second)))

	tr := acc.Track("line.all")
	require.Len(t, tr.Points, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{tr.Points[0].Latitude, tr.Points[1].Latitude, tr.Points[2].Latitude})
}

func TestAccumulatorGate(t *testing.T) {
	acc := NewAccumulator(GateWithin(10 * time.Second))
	assert.True(t, acc.Add(t0, 1, 1))
	assert.True(t, acc.Add(t0.Add(9*time.Second), 2, 2))
	assert.False(t, acc.Add(t0.Add(10*time.Second), 3, 3))
	assert.Equal(t, 2, acc.Len())
}

func TestPingCounter(t *testing.T) {
	var c PingCounter
	assert.False(t, c.Observe(kongsberg.DepthPing{Kind: kongsberg.TypeXYZ}))
	assert.True(t, c.Observe(kongsberg.DepthPing{Kind: kongsberg.TypeXYZ, TransducerDepth: 2, Beams: beams(9, 10, 11)}))
	assert.True(t, c.Observe(kongsberg.DepthPing{Kind: kongsberg.TypeDepth, TransducerDepth: 2, Beams: beams(13, 14, 15)}))
	assert.Equal(t, 2, c.Count())

	s := c.Stats()
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 12, s.Min, 1e-9)
	assert.InDelta(t, 16, s.Max, 1e-9)
	assert.InDelta(t, 14, s.Mean, 1e-9)
	assert.Greater(t, s.StdDev, 0.0)

	var empty PingCounter
	assert.Equal(t, DepthStats{}, empty.Stats())
}

func TestExtractScenario(t *testing.T) {
	path := writeSurvey(t, t.TempDir(), "0001_line.all", func(w *kongsberg.Writer) {
		pos(w, t, t0, 1, 47.1234567, -122.1234567)
		require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0, TransducerDepth: 3, Beams: beams(20, 21, 22, 21, 20)}))
		pos(w, t, t0.Add(time.Second), 2, 10, 10)
	})

	res, err := Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "0001_line.all", res.Track.Name)
	require.Len(t, res.Track.Points, 1)
	assert.InDelta(t, 47.1234567, res.Track.Points[0].Latitude, 1e-7)
	assert.InDelta(t, -122.1234567, res.Track.Points[0].Longitude, 1e-7)
	assert.True(t, res.Track.Points[0].Time.Equal(t0))
	assert.Equal(t, 1, res.Pings)
	assert.Equal(t, byte(1), res.Descriptor)
	assert.InDelta(t, 25, res.Depth.Mean, 1e-4)
	assert.Equal(t, 3, res.Datagrams)
}

func TestExtractFirstDescriptorWins(t *testing.T) {
	path := writeSurvey(t, t.TempDir(), "a.all", func(w *kongsberg.Writer) {
		for i := 0; i < 5; i++ {
			at := t0.Add(time.Duration(i) * time.Second)
			pos(w, t, at, 0x81, 60+float64(i)*0.001, 5)
			pos(w, t, at, 0x82, -33, 151)
		}
	})
	res, err := Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, res.Track.Points, 5)
	for i, p := range res.Track.Points {
		assert.InDelta(t, 60+float64(i)*0.001, p.Latitude, 1e-7)
		assert.InDelta(t, 5.0, p.Longitude, 1e-7)
	}
	assert.Equal(t, byte(0x81), res.Descriptor)
}

func TestExtractNoPositions(t *testing.T) {
	path := writeSurvey(t, t.TempDir(), "nopos.all", func(w *kongsberg.Writer) {
		require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0, Beams: beams(5)}))
		require.NoError(t, w.WriteRuntime(kongsberg.RuntimeParameters{Time: t0, Mode: 2}))
	})
	res, err := Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Track.Points)
	assert.Equal(t, "nopos.all", res.Track.Name)
	require.NotNil(t, res.Runtime)
	assert.Equal(t, "Medium", res.Runtime.DepthMode())
}

func TestExtractCountsOnlyNonEmptyPings(t *testing.T) {
	path := writeSurvey(t, t.TempDir(), "pings.all", func(w *kongsberg.Writer) {
		require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0}))
		require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0, Beams: beams(10, 11)}))
		require.NoError(t, w.WriteAttitude(kongsberg.Attitude{Time: t0, Entries: []kongsberg.AttitudeEntry{{Roll: 1.5}}}))
		require.NoError(t, w.WriteDepth(kongsberg.DepthPing{Time: t0}))
		require.NoError(t, w.WriteDepth(kongsberg.DepthPing{Time: t0, Beams: beams(8, 9, 10)}))
		require.NoError(t, w.WriteRaw('C', t0, []byte("clock")))
		pos(w, t, t0, 1, 1, 1)
		require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0, Beams: beams(12)}))
	})
	res, err := Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pings)
	require.NotNil(t, res.Attitude)
	assert.InDelta(t, 1.5, res.Attitude.Roll, 1e-9)
}

func TestExtractKeepsFileOrder(t *testing.T) {
	times := []time.Duration{3 * time.Second, time.Second, 2 * time.Second, 0}
	path := writeSurvey(t, t.TempDir(), "order.all", func(w *kongsberg.Writer) {
		for i, d := range times {
			pos(w, t, t0.Add(d), 1, float64(i), 0)
		}
	})
	res, err := Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, res.Track.Points, len(times))
	for i, p := range res.Track.Points {
		assert.InDelta(t, float64(i), p.Latitude, 1e-7)
		assert.True(t, p.Time.Equal(t0.Add(times[i])))
	}
}

func TestExtractFormatError(t *testing.T) {
	dir := t.TempDir()
	path := writeSurvey(t, dir, "bad.all", func(w *kongsberg.Writer) {
		pos(w, t, t0, 1, 1, 1)
		pos(w, t, t0, 1, 2, 2)
	})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))

	_, err = Extract(context.Background(), path, Options{})
	var fe *kongsberg.FormatError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, path, fe.Path)
	assert.Greater(t, fe.Offset, int64(0))
}

func TestExtractCancelled(t *testing.T) {
	path := writeSurvey(t, t.TempDir(), "c.all", func(w *kongsberg.Writer) {
		pos(w, t, t0, 1, 1, 1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, path, Options{CheckEvery: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

// batch writes n files where file i carries i position fixes
func batch(t *testing.T, n int) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for i := 0; i < n; i++ {
		name := filepath.Join("day1", string(rune('a'+i))+".all")
		paths = append(paths, writeSurvey(t, dir, name, func(w *kongsberg.Writer) {
			for j := 0; j < i; j++ {
				pos(w, t, t0.Add(time.Duration(j)*time.Second), 1, float64(i), float64(j))
				require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0, Beams: beams(10)}))
			}
		}))
	}
	return dir, paths
}

func TestBuildOneTrackPerFile(t *testing.T) {
	_, paths := batch(t, 4)
	b := &Builder{}
	set, err := b.Build(context.Background(), paths)
	require.NoError(t, err)

	require.Len(t, set.Tracks, 4)
	for i, tr := range set.Tracks {
		assert.Equal(t, filepath.Base(paths[i]), tr.Name)
		assert.Len(t, tr.Points, i)
	}
	assert.Empty(t, set.Tracks[0].Points)
	assert.Equal(t, 0+1+2+3, set.TotalPoints)
	assert.Equal(t, 6, set.TotalPings)
	assert.Empty(t, set.Failures)

	tr, err := set.Pick("c.all")
	require.NoError(t, err)
	assert.Len(t, tr.Points, 2)

	require.Len(t, set.Files, 4)
	for i, f := range set.Files {
		assert.Equal(t, paths[i], f.Path)
		assert.Equal(t, i, f.Pings)
	}
	assert.Equal(t, DepthStats{Count: 2, Min: 10, Max: 10, Mean: 10}, set.Files[2].Depth)
}

func TestBuildKeepsFileDiagnostics(t *testing.T) {
	dir := t.TempDir()
	path := writeSurvey(t, dir, "0001.all", func(w *kongsberg.Writer) {
		require.NoError(t, w.WriteRuntime(kongsberg.RuntimeParameters{Time: t0, Mode: 0x13, Filter: 0x02}))
		pos(w, t, t0, 3, 1, 1)
		require.NoError(t, w.WriteAttitude(kongsberg.Attitude{Time: t0, Entries: []kongsberg.AttitudeEntry{{Roll: 1.5}}}))
		require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0, TransducerDepth: 2, Beams: beams(20, 30, 20)}))
		require.NoError(t, w.WriteXYZ(kongsberg.DepthPing{Time: t0, TransducerDepth: 2, Beams: beams(40, 50, 40)}))
	})

	set, err := (&Builder{}).Build(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, set.Files, 1)
	f := set.Files[0]
	assert.Equal(t, path, f.Path)
	assert.Equal(t, 5, f.Datagrams)
	assert.Equal(t, 2, f.Pings)
	assert.Equal(t, byte(3), f.Descriptor)
	assert.Equal(t, 2, f.Depth.Count)
	assert.InDelta(t, 32, f.Depth.Min, 1e-9)
	assert.InDelta(t, 52, f.Depth.Max, 1e-9)
	assert.InDelta(t, 42, f.Depth.Mean, 1e-9)
	require.NotNil(t, f.Attitude)
	assert.InDelta(t, 1.5, f.Attitude.Roll, 1e-9)
	require.NotNil(t, f.Runtime)
	assert.Equal(t, "Deep+Mixed", f.Runtime.DepthModeAndPulse())
	assert.Equal(t, "Medium", f.Runtime.SpikeFilter())
}

func TestSetPick(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a/0001.all", "b/0001.all", "b/0002.all"} {
		paths = append(paths, writeSurvey(t, dir, name, func(w *kongsberg.Writer) {
			if name != "a/0001.all" {
				pos(w, t, t0, 1, 1, 1)
			}
		}))
	}
	set, err := (&Builder{}).Build(context.Background(), paths)
	require.NoError(t, err)

	_, err = set.Pick("0001.all")
	assert.ErrorIs(t, err, ErrAmbiguousTrack)

	tr, err := set.Pick("b/0001.all")
	require.NoError(t, err)
	assert.Equal(t, "0001.all", tr.Name)
	assert.Len(t, tr.Points, 1)

	tr, err = set.Pick(paths[0])
	require.NoError(t, err)
	assert.Empty(t, tr.Points)

	tr, err = set.Pick("0002.all")
	require.NoError(t, err)
	assert.Len(t, tr.Points, 1)

	// the first file has no fixes, so the default is the second
	tr, err = set.Pick("")
	require.NoError(t, err)
	assert.Len(t, tr.Points, 1)

	_, err = set.Pick("c/0001.all")
	assert.ErrorIs(t, err, ErrTrackNotFound)

	// sets without file summaries fall back to names
	named := Set{Tracks: []Track{{Name: "x.all"}}}
	_, err = named.Pick("x.all")
	assert.NoError(t, err)
	_, err = named.Pick("")
	assert.ErrorIs(t, err, ErrNoTrackPoints)
}

func TestBuildParallelMatchesSequential(t *testing.T) {
	_, paths := batch(t, 8)
	seq, err := (&Builder{}).Build(context.Background(), paths)
	require.NoError(t, err)
	par, err := (&Builder{Workers: 4}).Build(context.Background(), paths)
	require.NoError(t, err)
	if diff := cmp.Diff(seq, par); diff != "" {
		t.Errorf("parallel build differs (-seq +par):\n%s", diff)
	}
}

func TestBuildIsolatesCorruptFile(t *testing.T) {
	dir, paths := batch(t, 3)
	bad := writeSurvey(t, dir, "day1/b_corrupt.all", func(w *kongsberg.Writer) {
		pos(w, t, t0, 1, 1, 1)
	})
	data, err := os.ReadFile(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bad, data[:len(data)-2], 0o644))
	paths = []string{paths[0], bad, paths[1], paths[2]}

	set, err := (&Builder{}).Build(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, set.Tracks, 4)
	assert.Equal(t, "b_corrupt.all", set.Tracks[1].Name)
	assert.Empty(t, set.Tracks[1].Points)
	assert.Len(t, set.Tracks[3].Points, 2)

	require.Len(t, set.Failures, 1)
	assert.Equal(t, bad, set.Failures[0].Path)
	var fe *kongsberg.FormatError
	assert.True(t, errors.As(set.Failures[0].Err, &fe))
	assert.Contains(t, set.Failures[0].Error(), "b_corrupt.all")
	require.Len(t, set.Files, 4)
	assert.Equal(t, FileSummary{Path: bad}, set.Files[1])
}

func TestBuildAbortOnError(t *testing.T) {
	dir, paths := batch(t, 2)
	bad := writeSurvey(t, dir, "bad.all", func(w *kongsberg.Writer) {
		pos(w, t, t0, 1, 1, 1)
	})
	require.NoError(t, os.Truncate(bad, 10))

	_, err := (&Builder{AbortOnError: true}).Build(context.Background(), append([]string{bad}, paths...))
	require.Error(t, err)
	assert.ErrorIs(t, err, kongsberg.ErrTruncated)
	assert.Equal(t, 1, strings.Count(err.Error(), bad), "path should appear once: %v", err)
}

func TestBuildAbortReportsFirstFailingFile(t *testing.T) {
	dir := t.TempDir()
	slow := writeSurvey(t, dir, "a_slow.all", func(w *kongsberg.Writer) {
		for i := 0; i < 20000; i++ {
			pos(w, t, t0.Add(time.Duration(i)*time.Millisecond), 1, 1, 1)
		}
	})
	info, err := os.Stat(slow)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(slow, info.Size()-2))
	fast := filepath.Join(dir, "b_fast.all")
	require.NoError(t, os.WriteFile(fast, []byte{0x01, 0x02}, 0o644))
	paths := []string{slow, fast}

	_, seqErr := (&Builder{AbortOnError: true}).Build(context.Background(), paths)
	require.Error(t, seqErr)
	for i := 0; i < 5; i++ {
		_, parErr := (&Builder{AbortOnError: true, Workers: 2}).Build(context.Background(), paths)
		require.Error(t, parErr)
		assert.Equal(t, seqErr.Error(), parErr.Error())
	}

	var fe *kongsberg.FormatError
	require.True(t, errors.As(seqErr, &fe))
	assert.Equal(t, slow, fe.Path)
	assert.NotContains(t, seqErr.Error(), "b_fast.all")
}

func TestBuildCancelled(t *testing.T) {
	_, paths := batch(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	set, err := (&Builder{Workers: 2}).Build(ctx, paths)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, set.Tracks)
}

func TestBuildReporterFailuresAreSwallowed(t *testing.T) {
	_, paths := batch(t, 3)
	var calls atomic.Int32
	b := &Builder{Reporter: ReporterFunc(func(p Progress) error {
		n := calls.Add(1)
		assert.Equal(t, 3, p.Total)
		if n == 1 {
			panic("progress bar went away")
		}
		return errors.New("status label unavailable")
	})}
	set, err := b.Build(context.Background(), paths)
	require.NoError(t, err)
	assert.Len(t, set.Tracks, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b/0002.all", "a/0003.ALL", "0001.all", "notes.txt", "b/c/0004.all"} {
		writeSurvey(t, dir, name, func(w *kongsberg.Writer) {})
	}
	paths, err := Discover(dir, "all")
	require.NoError(t, err)

	var rel []string
	for _, p := range paths {
		r, err := filepath.Rel(dir, p)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"0001.all", "a/0003.ALL", "b/0002.all", "b/c/0004.all"}, rel)

	_, err = Discover(filepath.Join(dir, "0001.all"), "")
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestBuildPath(t *testing.T) {
	dir, paths := batch(t, 3)
	b := &Builder{}

	single, err := b.BuildPath(context.Background(), paths[2], "")
	require.NoError(t, err)
	require.Len(t, single.Tracks, 1)
	assert.Equal(t, "c.all", single.Tracks[0].Name)

	all, err := b.BuildPath(context.Background(), dir, ".all")
	require.NoError(t, err)
	assert.Len(t, all.Tracks, 3)
	assert.Equal(t, 3, all.TotalPoints)
}
