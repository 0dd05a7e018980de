package scene

import (
	"encoding/json"
	"fmt"
	"os"
)

// ScenePack is the on-disk scene bundle format.
type ScenePack struct {
	Version int      `json:"version"`
	Scenes  []Config `json:"scenes"`
}

// LoadScenePack loads and validates a scene pack from a JSON file.
// Malformed scene definitions are rejected wholesale; a pack is never
// partially accepted.
func LoadScenePack(path string) (*ScenePack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene pack: %w", err)
	}

	var pack ScenePack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse scene pack JSON: %w", err)
	}

	if pack.Version != 1 {
		return nil, fmt.Errorf("unsupported scene pack version: %d", pack.Version)
	}

	for i := range pack.Scenes {
		if err := Validate(pack.Scenes[i]); err != nil {
			return nil, fmt.Errorf("scene %q: %w", pack.Scenes[i].ID, err)
		}
	}

	return &pack, nil
}

// Validate checks a scene config for structural problems that must be
// rejected at load time rather than discovered mid-show.
func Validate(cfg Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("missing id")
	}
	if cfg.RoomID == "" {
		return fmt.Errorf("missing roomId")
	}

	switch cfg.Type {
	case TypePuzzle:
		if len(cfg.Devices) == 0 {
			return fmt.Errorf("puzzle must reference at least one device")
		}
		if ResolveProgram(cfg) == nil {
			return fmt.Errorf("puzzle must define win conditions, states, or a timeline")
		}
	case TypeCutscene, TypeScene:
		// Timeline shorthand is folded into Sequence at decode, so an
		// empty sequence here means the scene could never play.
		if len(cfg.Sequence) == 0 {
			return fmt.Errorf("%s must have a non-empty sequence", cfg.Type)
		}
	default:
		return fmt.Errorf("unknown scene type: %q", cfg.Type)
	}

	for _, watch := range cfg.SensorWatches {
		if watch.ID == "" {
			return fmt.Errorf("sensor watch missing id")
		}
	}
	for _, st := range cfg.Stages {
		if st.ID == "" {
			return fmt.Errorf("stage missing id")
		}
	}

	return nil
}
