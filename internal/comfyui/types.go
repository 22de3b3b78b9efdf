package comfyui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// QueueResponse is the body of POST /prompt.
type QueueResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors,omitempty"`
	Error      json.RawMessage            `json:"error,omitempty"`
}

// ImageRef locates an output image on the server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is what one output node produced.
type NodeOutput struct {
	Images []ImageRef `json:"images,omitempty"`
}

// HistoryStatus is the execution status of a history entry.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages,omitempty"`
}

// HistoryEntry is one prompt in GET /history.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// History maps prompt ids to their entries.
type History map[string]HistoryEntry

// Errored reports whether execution ended with an error. An errored entry can
// also be marked completed.
func (e HistoryEntry) Errored() bool { return e.Status.StatusStr == "error" }

// MessageStrings renders status messages: strings as-is, anything else as
// compact JSON.
func (e HistoryEntry) MessageStrings() []string {
	out := make([]string, 0, len(e.Status.Messages))
	for _, raw := range e.Status.Messages {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		if c := compactJSON(raw); c != "" && c != "null" {
			out = append(out, c)
		}
	}
	return out
}

// Images returns every output image, ordered by node id.
func (e HistoryEntry) Images() []ImageRef {
	ids := make([]string, 0, len(e.Outputs))
	for id := range e.Outputs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var out []ImageRef
	for _, id := range ids {
		out = append(out, e.Outputs[id].Images...)
	}
	return out
}

// QueueItem is one entry of the running or pending queue. The server sends
// items as arrays ([number, prompt_id, ...]); objects are accepted too.
type QueueItem struct {
	Number   int    `json:"number"`
	PromptID string `json:"prompt_id"`
}

func (q *QueueItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var parts []json.RawMessage
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if len(parts) < 2 {
			return fmt.Errorf("queue item: want at least 2 elements, got %d", len(parts))
		}
		var number float64
		if err := json.Unmarshal(parts[0], &number); err != nil {
			return fmt.Errorf("queue item number: %w", err)
		}
		var id string
		if err := json.Unmarshal(parts[1], &id); err != nil {
			return fmt.Errorf("queue item prompt id: %w", err)
		}
		*q = QueueItem{Number: int(number), PromptID: id}
		return nil
	}
	var obj struct {
		Number   float64 `json:"number"`
		PromptID string  `json:"prompt_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*q = QueueItem{Number: int(obj.Number), PromptID: obj.PromptID}
	return nil
}

// QueueState is the body of GET /queue.
type QueueState struct {
	Running []QueueItem `json:"queue_running"`
	Pending []QueueItem `json:"queue_pending"`
}

// IsRunning reports whether promptID is currently executing.
func (s QueueState) IsRunning(promptID string) bool {
	return slices.ContainsFunc(s.Running, func(q QueueItem) bool { return q.PromptID == promptID })
}

// PendingPosition returns the 1-based position of promptID in the pending queue.
func (s QueueState) PendingPosition(promptID string) (int, bool) {
	i := slices.IndexFunc(s.Pending, func(q QueueItem) bool { return q.PromptID == promptID })
	if i < 0 {
		return 0, false
	}
	return i + 1, true
}

// UploadResponse is the body of POST /upload/image.
type UploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Reference is the value a LoadImage node expects for this upload.
func (u UploadResponse) Reference() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}

// SystemStats is the body of GET /system_stats.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		PythonVersion  string `json:"python_version"`
		ComfyUIVersion string `json:"comfyui_version"`
	} `json:"system"`
	Devices []Device `json:"devices"`
}

// Device is a compute device reported by the server.
type Device struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	VRAMTotal int64  `json:"vram_total"`
	VRAMFree  int64  `json:"vram_free"`
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
