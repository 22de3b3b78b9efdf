package workflow_test

import (
	"encoding/json"
	"testing"

	"comfymcp/internal/workflow"
)

// txt2imgJSON is the stock ComfyUI text-to-image graph in API format.
const txt2imgJSON = `{
  "3": {"inputs": {"seed": 42, "steps": 20, "cfg": 8, "sampler_name": "euler", "scheduler": "normal", "denoise": 1,
        "model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0], "latent_image": ["5", 0]},
        "class_type": "KSampler"},
  "4": {"inputs": {"ckpt_name": "v1-5-pruned-emaonly.safetensors"}, "class_type": "CheckpointLoaderSimple"},
  "5": {"inputs": {"width": 512, "height": 512, "batch_size": 1}, "class_type": "EmptyLatentImage"},
  "6": {"inputs": {"text": "placeholder", "clip": ["4", 1]}, "class_type": "CLIPTextEncode",
        "_meta": {"title": "CLIP Text Encode (Positive)"}},
  "7": {"inputs": {"text": "", "clip": ["4", 1]}, "class_type": "CLIPTextEncode"},
  "8": {"inputs": {"samples": ["3", 0], "vae": ["4", 2]}, "class_type": "VAEDecode"},
  "9": {"inputs": {"filename_prefix": "ComfyUI", "images": ["8", 0]}, "class_type": "SaveImage"}
}`

// img2imgJSON loads an image, encodes it and samples with partial denoise.
const img2imgJSON = `{
  "1": {"inputs": {"image": "example.png", "upload": "image"}, "class_type": "LoadImage"},
  "2": {"inputs": {"ckpt_name": "v1-5-pruned-emaonly.safetensors"}, "class_type": "CheckpointLoaderSimple"},
  "3": {"inputs": {"pixels": ["1", 0], "vae": ["2", 2]}, "class_type": "VAEEncode"},
  "4": {"inputs": {"text": "", "clip": ["2", 1]}, "class_type": "CLIPTextEncode"},
  "5": {"inputs": {"text": "", "clip": ["2", 1]}, "class_type": "CLIPTextEncode"},
  "6": {"inputs": {"seed": 1, "steps": 20, "cfg": 7, "sampler_name": "euler", "scheduler": "normal", "denoise": 0.6,
        "model": ["2", 0], "positive": ["4", 0], "negative": ["5", 0], "latent_image": ["3", 0]},
        "class_type": "KSampler"},
  "7": {"inputs": {"samples": ["6", 0], "vae": ["2", 2]}, "class_type": "VAEDecode"},
  "8": {"inputs": {"filename_prefix": "img2img", "images": ["7", 0]}, "class_type": "SaveImage"}
}`

func mustParse(t *testing.T, data string) *workflow.Graph {
	t.Helper()
	g, err := workflow.Parse("test.json", []byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return g
}

func mustJSON(t *testing.T, g *workflow.Graph) string {
	t.Helper()
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(data)
}

func textOf(t *testing.T, g *workflow.Graph, id string) string {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("node %q missing", id)
	}
	v, ok := n.Inputs.Get(workflow.InputText)
	if !ok {
		t.Fatalf("node %q has no text input", id)
	}
	s, ok := v.Text()
	if !ok {
		t.Fatalf("node %q text is not a string: %#v", id, v.Literal())
	}
	return s
}

func ptr[T any](v T) *T { return &v }
