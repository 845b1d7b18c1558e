package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bucknalla/all2gpx/config"
	"github.com/Bucknalla/all2gpx/gps"
	"github.com/Bucknalla/all2gpx/store"
)

func newTestServer(t *testing.T, withDB bool) (*httptest.Server, *WebServer) {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "day1"), 0o755))
	for i := 0; i < 2; i++ {
		cfg := gps.DefaultSurveyConfig()
		cfg.Name = fmt.Sprintf("%04d_line.all", i)
		cfg.Duration = 5 * time.Second
		cfg.Beams = 4
		cfg.Seed = int64(i)
		s, err := gps.NewSurvey(cfg)
		require.NoError(t, err)
		_, err = s.WriteFile(context.Background(), filepath.Join(dataDir, "day1", cfg.Name))
		require.NoError(t, err)
	}

	cfg := config.Default()
	cfg.Web.DataDir = dataDir

	var db *store.Store
	if withDB {
		var err error
		db, err = store.Open(filepath.Join(t.TempDir(), "catalog.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
	}
	ws := NewWebServer(cfg, db, log.New(io.Discard, "", 0))
	srv := httptest.NewServer(ws.Routes(""))
	t.Cleanup(srv.Close)
	return srv, ws
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTracksSummary(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp := get(t, srv.URL+"/api/tracks?dir=day1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary SetSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))

	require.Len(t, summary.Tracks, 2)
	assert.Equal(t, "0000_line.all", summary.Tracks[0].Name)
	assert.Equal(t, 5, summary.Tracks[0].Points)
	assert.Equal(t, 10, summary.TotalPoints)
	assert.Equal(t, 10, summary.TotalPings)
	assert.Equal(t, 4*time.Second, summary.Tracks[0].End.Sub(summary.Tracks[0].Start))

	first := summary.Tracks[0]
	assert.Equal(t, "0000_line.all", first.Path)
	assert.Equal(t, 5, first.Pings)
	require.NotNil(t, first.Depth)
	assert.Equal(t, 5, first.Depth.Count)
	assert.InDelta(t, 40, first.Depth.Mean, 3)
	assert.LessOrEqual(t, first.Depth.Min, first.Depth.Max)
	assert.Equal(t, "Medium+CW", first.DepthMode)
	assert.Equal(t, "Off", first.DualSwath)
	assert.Equal(t, "Weak", first.SpikeFilter)
	assert.Equal(t, "yaw none, pitch on", first.Stabilisation)

	// the whole data directory is searched recursively
	resp = get(t, srv.URL+"/api/tracks")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/api/tracks?dir=../../missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrackPointsAndGPX(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp := get(t, srv.URL+"/api/tracks/0001_line.all?dir=day1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr struct {
		Name   string `json:"name"`
		Points []struct {
			Latitude float64 `json:"latitude"`
		} `json:"points"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.Equal(t, "0001_line.all", tr.Name)
	assert.Len(t, tr.Points, 5)

	resp = get(t, srv.URL+"/api/tracks/nope.all?dir=day1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, srv.URL+"/api/gpx?dir=day1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/gpx+xml", resp.Header.Get("Content-Type"))
	tracks, err := gps.ReadGPX(resp.Body)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)

	resp = get(t, srv.URL+"/api/plot.png?dir=day1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestTrackLookupByPath(t *testing.T) {
	srv, ws := newTestServer(t, false)
	data, err := os.ReadFile(filepath.Join(ws.config.Web.DataDir, "day1", "0001_line.all"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(ws.config.Web.DataDir, "day2"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.config.Web.DataDir, "day2", "0001_line.all"), data, 0o644))

	resp := get(t, srv.URL+"/api/tracks")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary SetSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	var paths []string
	for _, tr := range summary.Tracks {
		paths = append(paths, tr.Path)
	}
	assert.Equal(t, []string{"day1/0000_line.all", "day1/0001_line.all", "day2/0001_line.all"}, paths)

	resp = get(t, srv.URL+"/api/tracks/0001_line.all")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = get(t, srv.URL+"/api/tracks/day2/0001_line.all")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.Equal(t, "0001_line.all", tr.Name)
}

func TestRunsWithoutCatalog(t *testing.T) {
	srv, _ := newTestServer(t, false)
	resp := get(t, srv.URL+"/api/runs")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestRunsCatalog(t *testing.T) {
	srv, _ := newTestServer(t, true)

	resp, err := http.Post(srv.URL+"/api/runs?dir=day1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var run store.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, 2, run.Tracks)

	resp = get(t, srv.URL+"/api/runs")
	var runs []store.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	resp = get(t, srv.URL+"/api/runs/"+run.ID+"/gpx")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tracks, err := gps.ReadGPX(resp.Body)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)

	resp = get(t, srv.URL+"/api/runs/unknown/gpx")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, srv.URL+"/api/runs/"+run.ID+"/files")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []store.FileInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	require.Len(t, files, 2)
	assert.Equal(t, "0000_line.all", files[0].Name)
	assert.Equal(t, 5, files[0].Pings)
	assert.Equal(t, 5, files[0].Depth.Count)
	assert.Equal(t, "Medium+CW", files[0].DepthMode)
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func TestWebSocketReplay(t *testing.T) {
	srv, ws := newTestServer(t, false)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?dir=day1&track=0001_line.all&speed=1000"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var types []string
	var sentences int
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		types = append(types, msg.Type)
		if msg.Type == "nmea_data" {
			var data gps.NMEAData
			require.NoError(t, json.Unmarshal(msg.Data, &data))
			assert.Equal(t, "0001_line.all", data.Track)
			sentences += len(data.Sentences)
		}
		if msg.Type == "complete" {
			break
		}
	}

	require.NotEmpty(t, types)
	assert.Equal(t, "status", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.Len(t, types, 7)
	assert.Equal(t, 25, sentences)

	conn.Close()
	assert.Eventually(t, func() bool { return ws.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp := get(t, srv.URL+"/api/ws?dir=day1&speed=fast")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv.URL+"/api/ws?dir=day1&track=nope.all")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
