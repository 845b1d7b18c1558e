package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Bucknalla/all2gpx/config"
	"github.com/Bucknalla/all2gpx/gps"
	"github.com/Bucknalla/all2gpx/store"
	"github.com/Bucknalla/all2gpx/track"
)

// WebServer exposes extracted tracks over HTTP and streams NMEA replays
// over websockets
type WebServer struct {
	config   config.Config
	db       *store.Store
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]string // connection to replayed track
}

// TrackSummary describes one track and the diagnostics of its file,
// without the points
type TrackSummary struct {
	Name          string            `json:"name"`
	Path          string            `json:"path"` // relative to the requested directory
	Points        int               `json:"points"`
	Pings         int               `json:"pings"`
	Start         time.Time         `json:"start,omitempty"`
	End           time.Time         `json:"end,omitempty"`
	Depth         *track.DepthStats `json:"depth,omitempty"`
	DepthMode     string            `json:"depth_mode,omitempty"`
	DualSwath     string            `json:"dual_swath,omitempty"`
	SpikeFilter   string            `json:"spike_filter,omitempty"`
	Stabilisation string            `json:"stabilisation,omitempty"`
}

// SetSummary is the JSON body of /api/tracks
type SetSummary struct {
	Directory   string         `json:"directory"`
	Tracks      []TrackSummary `json:"tracks"`
	Failures    []string       `json:"failures,omitempty"`
	TotalPoints int            `json:"total_points"`
	TotalPings  int            `json:"total_pings"`
}

func NewWebServer(cfg config.Config, db *store.Store, logger *log.Logger) *WebServer {
	return &WebServer{
		config: cfg,
		db:     db,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		clients: make(map[*websocket.Conn]string),
	}
}

// Routes returns the router serving the API and static files
func (ws *WebServer) Routes(staticDir string) http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tracks", ws.handleTracks).Methods("GET")
	api.HandleFunc("/tracks/{name:.+}", ws.handleTrack).Methods("GET")
	api.HandleFunc("/gpx", ws.handleGPX).Methods("GET")
	api.HandleFunc("/plot.png", ws.handlePlot).Methods("GET")
	api.HandleFunc("/runs", ws.handleRuns).Methods("GET")
	api.HandleFunc("/runs", ws.handleSaveRun).Methods("POST")
	api.HandleFunc("/runs/{id}/gpx", ws.handleRunGPX).Methods("GET")
	api.HandleFunc("/runs/{id}/files", ws.handleRunFiles).Methods("GET")
	api.HandleFunc("/ws", ws.handleWebSocket)

	r.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

// resolveDir maps the dir query parameter into the data directory
func (ws *WebServer) resolveDir(r *http.Request) string {
	rel := filepath.Clean("/" + r.URL.Query().Get("dir"))
	return filepath.Join(ws.config.Web.DataDir, rel)
}

func (ws *WebServer) buildSet(ctx context.Context, dir string) (track.Set, error) {
	b := &track.Builder{
		Options:      ws.config.TrackOptions(),
		Workers:      ws.config.Workers,
		AbortOnError: ws.config.AbortOnError,
		Logger:       ws.logger,
	}
	return b.BuildPath(ctx, dir, ws.config.Extension)
}

// loadSet builds the set for the request, writing an error response on failure
func (ws *WebServer) loadSet(w http.ResponseWriter, r *http.Request) (string, track.Set, bool) {
	dir := ws.resolveDir(r)
	set, err := ws.buildSet(r.Context(), dir)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, track.ErrNotDirectory) {
			status = http.StatusNotFound
		}
		ws.logger.Printf("Failed to build tracks for %s: %v", dir, err)
		http.Error(w, fmt.Sprintf("Failed to build tracks: %v", err), status)
		return dir, track.Set{}, false
	}
	return dir, set, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func summarize(dir string, set track.Set, i int) TrackSummary {
	t := set.Tracks[i]
	s := TrackSummary{Name: t.Name, Path: t.Name, Points: len(t.Points)}
	if n := len(t.Points); n > 0 {
		s.Start, s.End = t.Points[0].Time, t.Points[n-1].Time
	}
	if i >= len(set.Files) {
		return s
	}
	f := set.Files[i]
	if rel, err := filepath.Rel(dir, f.Path); err == nil && rel != "." {
		s.Path = filepath.ToSlash(rel)
	}
	s.Pings = f.Pings
	if f.Depth.Count > 0 {
		depth := f.Depth
		s.Depth = &depth
	}
	if rt := f.Runtime; rt != nil {
		s.DepthMode = rt.DepthModeAndPulse()
		s.DualSwath = rt.DualSwath()
		s.SpikeFilter = rt.SpikeFilter()
		s.Stabilisation = rt.StabilisationMode()
	}
	return s
}

// lookupStatus maps a track lookup error to an HTTP status
func lookupStatus(err error) int {
	if errors.Is(err, track.ErrAmbiguousTrack) {
		return http.StatusConflict
	}
	return http.StatusNotFound
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	dir, set, ok := ws.loadSet(w, r)
	if !ok {
		return
	}
	summary := SetSummary{
		Directory:   r.URL.Query().Get("dir"),
		Tracks:      make([]TrackSummary, len(set.Tracks)),
		TotalPoints: set.TotalPoints,
		TotalPings:  set.TotalPings,
	}
	for i := range set.Tracks {
		summary.Tracks[i] = summarize(dir, set, i)
	}
	for _, f := range set.Failures {
		summary.Failures = append(summary.Failures, f.Error())
	}
	writeJSON(w, summary)
}

func (ws *WebServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	_, set, ok := ws.loadSet(w, r)
	if !ok {
		return
	}
	t, err := set.Pick(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), lookupStatus(err))
		return
	}
	writeJSON(w, t)
}

func (ws *WebServer) handleGPX(w http.ResponseWriter, r *http.Request) {
	_, set, ok := ws.loadSet(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	if err := gps.WriteGPX(w, set); err != nil {
		ws.logger.Printf("Failed to write GPX: %v", err)
	}
}

func (ws *WebServer) handlePlot(w http.ResponseWriter, r *http.Request) {
	_, set, ok := ws.loadSet(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := gps.WritePlot(w, set); err != nil {
		if errors.Is(err, gps.ErrNoTracks) {
			w.Header().Del("Content-Type")
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		ws.logger.Printf("Failed to render plot: %v", err)
	}
}

func (ws *WebServer) requireDB(w http.ResponseWriter) bool {
	if ws.db == nil {
		http.Error(w, "No catalog configured", http.StatusNotImplemented)
		return false
	}
	return true
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !ws.requireDB(w) {
		return
	}
	runs, err := ws.db.Runs(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, runs)
}

func (ws *WebServer) handleSaveRun(w http.ResponseWriter, r *http.Request) {
	if !ws.requireDB(w) {
		return
	}
	dir, set, ok := ws.loadSet(w, r)
	if !ok {
		return
	}
	run, err := ws.db.SaveRun(r.Context(), dir, set)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to save run: %v", err), http.StatusInternalServerError)
		return
	}
	ws.logger.Printf("Saved run %s for %s", run.ID, dir)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(run)
}

func (ws *WebServer) handleRunGPX(w http.ResponseWriter, r *http.Request) {
	if !ws.requireDB(w) {
		return
	}
	tracks, err := ws.db.Tracks(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	if err := gps.WriteGPX(w, track.Set{Tracks: tracks}); err != nil {
		ws.logger.Printf("Failed to write GPX: %v", err)
	}
}

func (ws *WebServer) handleRunFiles(w http.ResponseWriter, r *http.Request) {
	if !ws.requireDB(w) {
		return
	}
	files, err := ws.db.Files(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, files)
}

// handleWebSocket replays one track to the client as NMEA. Query
// parameters: dir, track (default first track with points), speed, loop.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rc := ws.config.ReplayConfig()
	if s := q.Get("speed"); s != "" {
		speed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid speed: %v", err), http.StatusBadRequest)
			return
		}
		rc.Speed = speed
	}
	if l := q.Get("loop"); l != "" {
		rc.Loop = l == "true" || l == "1"
	}

	_, set, ok := ws.loadSet(w, r)
	if !ok {
		return
	}
	t, err := set.Pick(q.Get("track"))
	if err != nil {
		http.Error(w, err.Error(), lookupStatus(err))
		return
	}
	replayer, err := gps.NewReplayer(t, rc)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create replay: %v", err), http.StatusBadRequest)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ws.mu.Lock()
	ws.clients[conn] = t.Name
	ws.logger.Printf("Client connected. Total clients: %d", len(ws.clients))
	ws.mu.Unlock()
	defer func() {
		ws.mu.Lock()
		delete(ws.clients, conn)
		ws.logger.Printf("Client disconnected. Total clients: %d", len(ws.clients))
		ws.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A read error means the client went away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	if err := conn.WriteJSON(map[string]interface{}{"type": "status", "data": replayer.Status()}); err != nil {
		ws.logger.Printf("Error sending status: %v", err)
		return
	}

	replayer.AddCallback(func(data gps.NMEAData) {
		if err := conn.WriteJSON(map[string]interface{}{"type": "nmea_data", "data": data}); err != nil {
			ws.logger.Printf("WebSocket write error: %v", err)
			cancel()
		}
	})

	if err := replayer.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			ws.logger.Printf("Replay of %s failed: %v", t.Name, err)
		}
		return
	}
	conn.WriteJSON(map[string]interface{}{"type": "complete", "data": replayer.Status()})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// ClientCount returns the number of connected websocket clients
func (ws *WebServer) ClientCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.clients)
}
