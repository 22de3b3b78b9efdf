package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"comfymcp/internal/comfyui"
	"comfymcp/internal/config"
	"comfymcp/internal/format"
	"comfymcp/internal/workflow"
)

const sampleGraph = `{
  "3": {"inputs": {"denoise": 1, "positive": ["6", 0], "negative": ["7", 0], "latent_image": ["5", 0]},
        "class_type": "KSampler"},
  "5": {"inputs": {"width": 512, "height": 512, "batch_size": 1}, "class_type": "EmptyLatentImage"},
  "6": {"inputs": {"text": "placeholder"}, "class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}},
  "7": {"inputs": {"text": ""}, "class_type": "CLIPTextEncode"}
}`

func testStore(t *testing.T, files map[string]string) *workflow.Store {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	c := config.Default()
	c.Workflows.Dir = dir
	return newStore(c, nil)
}

func TestWriteWorkflowList(t *testing.T) {
	store := testStore(t, map[string]string{
		"workflow.json": sampleGraph,
		"broken.json":   `{"1": {"class_type": "KSampler"}}`,
		"readme.md":     "# workflows",
	})

	var buf bytes.Buffer
	if err := writeWorkflowList(&buf, store, format.Markdown); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"| workflow.json |", "3 (KSampler)", "5 (EmptyLatentImage)", "broken.json", "missing inputs", "✓"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "readme.md") {
		t.Errorf("non-definition listed:\n%s", out)
	}
}

func TestWriteWorkflowList_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeWorkflowList(&buf, testStore(t, nil), format.ASCII); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "No workflow definitions in ") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWriteInspect_NodesOnly(t *testing.T) {
	store := testStore(t, map[string]string{"workflow.json": sampleGraph})
	var buf bytes.Buffer
	if err := writeInspect(&buf, store, "", workflow.Params{}, format.Markdown); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"workflow.json (4 nodes)", "| 6 | CLIPTextEncode | Positive |", `text="placeholder"`, "positive=<6:0>"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, `"class_type"`) {
		t.Errorf("graph printed without parameters:\n%s", out)
	}
}

func TestWriteInspect_Injects(t *testing.T) {
	store := testStore(t, map[string]string{"workflow.json": sampleGraph})
	prompt, width := "a lighthouse", 640

	var buf bytes.Buffer
	err := writeInspect(&buf, store, "workflow", workflow.Params{Prompt: &prompt, Width: &width}, format.ASCII)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	start := strings.Index(out, "\n{")
	if start < 0 {
		t.Fatalf("no graph in output:\n%s", out)
	}
	var g map[string]struct {
		Inputs map[string]any `json:"inputs"`
	}
	if err := json.Unmarshal([]byte(out[start+1:]), &g); err != nil {
		t.Fatalf("decode printed graph: %v", err)
	}
	if g["6"].Inputs["text"] != prompt || g["5"].Inputs["width"] != float64(640) || g["5"].Inputs["height"] != float64(512) {
		t.Errorf("injected graph = %+v", g)
	}
}

func TestWriteInspect_Unknown(t *testing.T) {
	store := testStore(t, nil)
	err := writeInspect(&bytes.Buffer{}, store, "missing", workflow.Params{}, format.ASCII)
	if !errors.Is(err, workflow.ErrGraphNotFound) {
		t.Errorf("err = %v, want ErrGraphNotFound", err)
	}
}

type fakeStatus struct {
	stats    *comfyui.SystemStats
	queue    *comfyui.QueueState
	statsErr error
}

func (f fakeStatus) BaseURL() string { return "http://gpu:8188" }

func (f fakeStatus) SystemStats(context.Context) (*comfyui.SystemStats, error) {
	return f.stats, f.statsErr
}

func (f fakeStatus) Queue(context.Context) (*comfyui.QueueState, error) { return f.queue, nil }

func TestWriteStatus(t *testing.T) {
	stats := &comfyui.SystemStats{Devices: []comfyui.Device{{
		Name: "cuda:0 NVIDIA RTX 4090", Type: "cuda", VRAMTotal: 24 << 30, VRAMFree: 20 << 30,
	}}}
	stats.System.ComfyUIVersion = "0.3.10"
	stats.System.OS = "posix"
	queue := &comfyui.QueueState{
		Running: []comfyui.QueueItem{{Number: 1, PromptID: "a"}},
		Pending: []comfyui.QueueItem{{Number: 2, PromptID: "b"}, {Number: 3, PromptID: "c"}},
	}

	var buf bytes.Buffer
	if err := writeStatus(context.Background(), &buf, fakeStatus{stats: stats, queue: queue}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"ComfyUI 0.3.10 at http://gpu:8188", "RTX 4090", "20480 MiB", "24576 MiB", "Queue: 1 running, 2 pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteStatus_Unreachable(t *testing.T) {
	err := writeStatus(context.Background(), &bytes.Buffer{}, fakeStatus{statsErr: comfyui.ErrUnreachable})
	if !errors.Is(err, comfyui.ErrUnreachable) || !strings.Contains(err.Error(), "http://gpu:8188") {
		t.Errorf("err = %v", err)
	}
}
