package docker

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// Engine Stream Decoding
// =============================================================================

// streamMessage is one JSON message from the engine's pull/build output
// stream.
type streamMessage struct {
	Stream         string            `json:"stream"`
	Status         string            `json:"status"`
	ID             string            `json:"id"`
	Progress       string            `json:"progress"`
	ProgressDetail progressDetail    `json:"progressDetail"`
	Error          string            `json:"error"`
	ErrorDetail    streamErrorDetail `json:"errorDetail"`
	Aux            map[string]any    `json:"aux"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type streamErrorDetail struct {
	Message string `json:"message"`
}

func (m streamMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

// render flattens a stream message into a single human-readable status line.
func (m streamMessage) render() string {
	if m.Stream != "" {
		return strings.TrimSpace(m.Stream)
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		progress := strings.TrimSpace(m.Progress)
		if progress == "" && m.ProgressDetail.Total > 0 {
			progress = fmt.Sprintf("%d/%d", m.ProgressDetail.Current, m.ProgressDetail.Total)
		}
		if progress != "" {
			parts = append(parts, progress)
		}
		return strings.Join(parts, " ")
	}
	if len(m.Aux) > 0 {
		if id, ok := m.Aux["ID"]; ok {
			return fmt.Sprintf("image id: %v", id)
		}
	}
	return ""
}

// drainStream decodes the engine's JSON message stream, forwarding rendered
// status lines to onStatus. It returns the first in-stream error message.
func drainStream(r io.Reader, onStatus StatusFunc) error {
	decoder := json.NewDecoder(r)
	for {
		var msg streamMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode engine output: %w", err)
		}

		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("%s", errMsg)
		}

		if line := msg.render(); line != "" && onStatus != nil {
			onStatus(line)
		}
	}
}
