package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/AaronLay10/SentientDirector/internal/scene"
)

// EnsureSceneTable creates the scene config store if it is missing.
func (c *Client) EnsureSceneTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS scenes (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL,
			config     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_scenes_room_id ON scenes(room_id);
	`
	_, err := c.db.Exec(query)
	return err
}

// SaveScene upserts a scene config keyed by its id.
func (c *Client) SaveScene(cfg scene.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal scene %s: %w", cfg.ID, err)
	}
	query := `
		INSERT INTO scenes (id, room_id, config)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET room_id = EXCLUDED.room_id, config = EXCLUDED.config, updated_at = now()
	`
	_, err = c.db.Exec(query, cfg.ID, cfg.RoomID, raw)
	return err
}

// GetScene loads one scene config by id. A missing scene is (zero, false, nil).
func (c *Client) GetScene(id string) (scene.Config, bool, error) {
	var raw []byte
	err := c.db.QueryRow("SELECT config FROM scenes WHERE id = $1", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return scene.Config{}, false, nil
	}
	if err != nil {
		return scene.Config{}, false, err
	}
	var cfg scene.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return scene.Config{}, false, fmt.Errorf("failed to unmarshal scene %s: %w", id, err)
	}
	return cfg, true, nil
}

// GetScenesByRoom loads every scene config for a room in creation order.
func (c *Client) GetScenesByRoom(roomID string) ([]scene.Config, error) {
	return c.queryScenes("SELECT config FROM scenes WHERE room_id = $1 ORDER BY created_at", roomID)
}

// GetAllScenes loads every stored scene config.
func (c *Client) GetAllScenes() ([]scene.Config, error) {
	return c.queryScenes("SELECT config FROM scenes ORDER BY room_id, created_at")
}

// DeleteScene removes a scene config.
func (c *Client) DeleteScene(id string) error {
	_, err := c.db.Exec("DELETE FROM scenes WHERE id = $1", id)
	return err
}

func (c *Client) queryScenes(query string, args ...any) ([]scene.Config, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []scene.Config
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var cfg scene.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scene config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
