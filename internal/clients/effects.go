package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EffectsClient triggers named effect sequences on the effects
// controller service.
type EffectsClient struct {
	baseURL string
	http    *http.Client
}

func NewEffectsClient(baseURL string, timeout time.Duration) *EffectsClient {
	return &EffectsClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// TriggerSequence fires a sequence with an optional context payload.
func (c *EffectsClient) TriggerSequence(name string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"sequenceId": name,
		"payload":    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sequence trigger: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/sequences/trigger", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("effects controller returned %d for sequence %s", resp.StatusCode, name)
	}
	return nil
}
