package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// HostInput is the session metadata the host application writes to
// stdin once per invocation. Fields beyond session_id are optional.
type HostInput struct {
	SessionID string `json:"session_id"`
	Model     struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"model"`
	Workspace struct {
		CurrentDir string `json:"current_dir"`
	} `json:"workspace"`
}

var inputBOM = []byte{0xEF, 0xBB, 0xBF}

// ParseHostInput reads the host's JSON payload. A UTF-8 BOM is
// tolerated. Empty input yields a zero-value HostInput without error;
// malformed JSON is reported so the caller can log it and continue with
// an empty input.
func ParseHostInput(r io.Reader) (HostInput, error) {
	var in HostInput

	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return in, fmt.Errorf("failed to read host input: %w", err)
	}

	data = bytes.TrimSpace(bytes.TrimPrefix(data, inputBOM))
	if len(data) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("failed to parse host input: %w", err)
	}
	return in, nil
}
