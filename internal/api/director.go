package api

import (
	"encoding/json"
	"net/http"

	"github.com/AaronLay10/SentientDirector/internal/orchestrator"
	"github.com/AaronLay10/SentientDirector/internal/scene"
)

type SceneRequest struct {
	SceneID string `json:"scene_id"`
}

type DirectorResponse struct {
	OK     bool     `json:"ok"`
	Error  string   `json:"error,omitempty"`
	Next   []string `json:"next,omitempty"`
	Scenes int      `json:"scenes,omitempty"`
}

func writeResult(w http.ResponseWriter, res orchestrator.Result) {
	if !res.Success {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: res.Reason})
		return
	}
	_ = json.NewEncoder(w).Encode(DirectorResponse{OK: true})
}

func decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "method not allowed"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "invalid JSON"})
		return false
	}
	return true
}

// sceneOp wraps the single-scene director operations that share a
// request shape.
func (s *Server) sceneOp(op func(string) orchestrator.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SceneRequest
		if !decodePost(w, r, &req) {
			return
		}
		if req.SceneID == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "scene_id required"})
			return
		}
		writeResult(w, op(req.SceneID))
	}
}

func (s *Server) directorStartHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SceneID    string `json:"scene_id"`
		SkipSafety bool   `json:"skip_safety"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.SceneID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "scene_id required"})
		return
	}
	writeResult(w, s.engine.StartScene(req.SceneID, req.SkipSafety))
}

func (s *Server) directorCompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SceneID string `json:"scene_id"`
		State   string `json:"state"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.SceneID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "scene_id required"})
		return
	}

	state := scene.StateSolved
	if req.State != "" {
		state = scene.State(req.State)
		if !state.IsTerminal() {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "state must be a terminal state"})
			return
		}
	}
	writeResult(w, s.engine.CompleteScene(req.SceneID, state))
}

func (s *Server) directorSkipHandler(w http.ResponseWriter, r *http.Request) {
	var req SceneRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.SceneID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "scene_id required"})
		return
	}
	res, next := s.engine.DirectorSkip(req.SceneID)
	if !res.Success {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: res.Reason})
		return
	}
	_ = json.NewEncoder(w).Encode(DirectorResponse{OK: true, Next: next})
}

func (s *Server) directorJumpHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID  string `json:"room_id"`
		SceneID string `json:"scene_id"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID == "" || req.SceneID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "room_id and scene_id required"})
		return
	}
	writeResult(w, s.engine.JumpToScene(req.RoomID, req.SceneID))
}

func (s *Server) deviceCommandHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Device  string         `json:"device"`
		Command string         `json:"command"`
		Params  map[string]any `json:"params"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.Device == "" || req.Command == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "device and command required"})
		return
	}
	writeResult(w, s.engine.DirectorDeviceCommand(req.Device, req.Command, req.Params))
}

func (s *Server) testStepHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SceneID  string         `json:"scene_id"`
		Action   string         `json:"action"`
		Target   string         `json:"target"`
		Duration int64          `json:"duration"`
		Params   map[string]any `json:"params"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.SceneID == "" || req.Action == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "scene_id and action required"})
		return
	}
	writeResult(w, s.engine.TestStep(req.SceneID, scene.SequenceAction{
		Action:   req.Action,
		Target:   req.Target,
		Duration: req.Duration,
		Params:   req.Params,
	}))
}

func (s *Server) roomPowerHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"room_id"`
		State  string `json:"state"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "room_id required"})
		return
	}
	state := scene.PowerState(req.State)
	switch state {
	case scene.PowerOn, scene.PowerOff, scene.PowerEmergencyOff:
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "state must be on, off, or emergency_off"})
		return
	}
	s.engine.SetRoomPower(req.RoomID, state)
	_ = json.NewEncoder(w).Encode(DirectorResponse{OK: true})
}

func (s *Server) roomResetHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"room_id"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.RoomID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(DirectorResponse{OK: false, Error: "room_id required"})
		return
	}
	n := s.engine.ResetRoom(req.RoomID)
	_ = json.NewEncoder(w).Encode(DirectorResponse{OK: true, Scenes: n})
}
