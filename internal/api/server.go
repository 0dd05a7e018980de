// Package api exposes the director's HTTP surface: health, scene
// queries, director controls, and the live event stream.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/events"
	"github.com/AaronLay10/SentientDirector/internal/orchestrator"
	"github.com/AaronLay10/SentientDirector/internal/scene"
	"github.com/AaronLay10/SentientDirector/internal/version"
)

// Server serves the director API for one engine instance.
type Server struct {
	engine *orchestrator.Orchestrator
}

func NewServer(engine *orchestrator.Orchestrator) *Server {
	return &Server{engine: engine}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "director",
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events.Snapshot())
}

// SceneView is the wire shape of a scene for operators.
type SceneView struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Type               scene.Type  `json:"type"`
	RoomID             string      `json:"roomId"`
	State              scene.State `json:"state"`
	Attempts           int         `json:"attempts"`
	CurrentActionIndex int         `json:"currentActionIndex"`
	TimeStarted        string      `json:"timeStarted,omitempty"`
	TimeCompleted      string      `json:"timeCompleted,omitempty"`
}

func toView(sc *scene.Runtime) SceneView {
	v := SceneView{
		ID:                 sc.ID,
		Name:               sc.Name,
		Type:               sc.Type,
		RoomID:             sc.RoomID,
		State:              sc.State,
		Attempts:           sc.Attempts,
		CurrentActionIndex: sc.CurrentActionIndex,
	}
	if !sc.TimeStarted.IsZero() {
		v.TimeStarted = sc.TimeStarted.UTC().Format(time.RFC3339Nano)
	}
	if !sc.TimeCompleted.IsZero() {
		v.TimeCompleted = sc.TimeCompleted.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (s *Server) scenesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var list []*scene.Runtime
	if room := r.URL.Query().Get("room"); room != "" {
		list = s.engine.Scenes().ListByRoom(room)
	} else {
		list = s.engine.Scenes().List()
	}

	views := make([]SceneView, 0, len(list))
	for _, sc := range list {
		views = append(views, toView(sc))
	}
	_ = json.NewEncoder(w).Encode(views)
}

func (s *Server) sceneHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := r.URL.Query().Get("id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "id required"})
		return
	}
	sc := s.engine.Scenes().Get(id)
	if sc == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "scene not found"})
		return
	}
	_ = json.NewEncoder(w).Encode(toView(sc))
}

func (s *Server) availableScenesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	room := r.URL.Query().Get("room")
	if room == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "room required"})
		return
	}

	list := s.engine.Scenes().GetAvailableScenes(room)
	views := make([]SceneView, 0, len(list))
	for _, sc := range list {
		views = append(views, toView(sc))
	}
	_ = json.NewEncoder(w).Encode(views)
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	mux.HandleFunc("/scenes", s.scenesHandler)
	mux.HandleFunc("/scene", s.sceneHandler)
	mux.HandleFunc("/scenes/available", s.availableScenesHandler)

	mux.HandleFunc("/director/start", s.directorStartHandler)
	mux.HandleFunc("/director/complete", s.directorCompleteHandler)
	mux.HandleFunc("/director/reset", s.sceneOp(s.engine.DirectorReset))
	mux.HandleFunc("/director/override", s.sceneOp(s.engine.DirectorOverride))
	mux.HandleFunc("/director/skip", s.directorSkipHandler)
	mux.HandleFunc("/director/skip-stage", s.sceneOp(s.engine.DirectorSkipStage))
	mux.HandleFunc("/director/stop", s.sceneOp(s.engine.DirectorStop))
	mux.HandleFunc("/director/pause", s.sceneOp(s.engine.DirectorPause))
	mux.HandleFunc("/director/resume", s.sceneOp(s.engine.DirectorResume))
	mux.HandleFunc("/director/jump", s.directorJumpHandler)
	mux.HandleFunc("/director/device-command", s.deviceCommandHandler)
	mux.HandleFunc("/director/test-step", s.testStepHandler)

	mux.HandleFunc("/room/power", s.roomPowerHandler)
	mux.HandleFunc("/room/reset", s.roomResetHandler)

	mux.HandleFunc("/ws/events", s.wsEventsHandler)
	return mux
}

// ListenAndServe starts the API server on the given port. It blocks
// until the server exits.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("API listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Start starts the API server in a goroutine. Errors are logged but do
// not stop the caller.
func (s *Server) Start(port int) {
	go func() {
		if err := s.ListenAndServe(port); err != nil {
			log.Printf("api server error: %v", err)
		}
	}()
}
