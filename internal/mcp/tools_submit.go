package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"comfymcp/internal/ledger"
	"comfymcp/internal/workflow"
)

type generateImageInput struct {
	Prompt         string  `json:"prompt" jsonschema:"text description of the image to generate" validate:"required,max=10000"`
	NegativePrompt *string `json:"negative_prompt,omitempty" jsonschema:"what the image should not contain" validate:"omitempty,max=10000"`
	Width          *int    `json:"width,omitempty" jsonschema:"image width in pixels (default 512)" validate:"omitempty,gt=0"`
	Height         *int    `json:"height,omitempty" jsonschema:"image height in pixels (default 512)" validate:"omitempty,gt=0"`
	WorkflowName   string  `json:"workflow_name,omitempty" jsonschema:"workflow definition to use (default: the configured default workflow)"`
}

type modifyImageInput struct {
	ImagePath       string   `json:"image_path" jsonschema:"absolute path of the local image to modify" validate:"required,abspath"`
	Prompt          string   `json:"prompt" jsonschema:"description of the desired result" validate:"required,max=10000"`
	NegativePrompt  *string  `json:"negative_prompt,omitempty" jsonschema:"what the result should not contain" validate:"omitempty,max=10000"`
	DenoiseStrength *float64 `json:"denoise_strength,omitempty" jsonschema:"how far to move from the source image, 0 to 1 (default 0.75)" validate:"omitempty,gte=0,lte=1"`
	Width           *int     `json:"width,omitempty" jsonschema:"output width in pixels" validate:"omitempty,gt=0"`
	Height          *int     `json:"height,omitempty" jsonschema:"output height in pixels" validate:"omitempty,gt=0"`
	WorkflowName    string   `json:"workflow_name,omitempty" jsonschema:"workflow definition to use (default img2img_workflow.json)"`
}

type resizeImageInput struct {
	ImagePath    string `json:"image_path" jsonschema:"absolute path of the local image to resize" validate:"required,abspath"`
	Width        int    `json:"width" jsonschema:"target width in pixels" validate:"gt=0"`
	Height       int    `json:"height" jsonschema:"target height in pixels" validate:"gt=0"`
	Method       string `json:"method,omitempty" jsonschema:"resize (plain scaling) or upscale (model upscaling), default resize" validate:"omitempty,oneof=resize upscale"`
	WorkflowName string `json:"workflow_name,omitempty" jsonschema:"workflow definition to use (default depends on method)"`
}

type removeBackgroundInput struct {
	ImagePath    string `json:"image_path" jsonschema:"absolute path of the local image" validate:"required,abspath"`
	WorkflowName string `json:"workflow_name,omitempty" jsonschema:"workflow definition to use (default remove_background_workflow.json)"`
}

type submitOutput struct {
	PromptID string   `json:"prompt_id"`
	Number   int      `json:"number"`
	Status   string   `json:"status"`
	Workflow string   `json:"workflow"`
	Warnings []string `json:"warnings"`
}

// submission is one job on its way to the upstream queue.
type submission struct {
	tool     string
	graph    string
	injector *workflow.Injector
	params   workflow.Params
	record   ledger.Record
}

// submit loads, injects, queues and records sub.
func (s *Server) submit(ctx context.Context, sub submission) (submitOutput, error) {
	name, err := s.graphs.Resolve(sub.graph)
	if err != nil {
		return submitOutput{}, err
	}
	g, err := s.graphs.Load(name)
	if err != nil {
		return submitOutput{}, err
	}
	res, err := sub.injector.Inject(g, sub.params)
	if err != nil {
		return submitOutput{}, err
	}

	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		s.logger.WarnContext(ctx, "injection warning", "tool", sub.tool, "graph", name, "warning", w)
		warnings = append(warnings, w.Error())
	}

	resp, err := s.upstream.QueuePrompt(ctx, res.Graph, uuid.NewString())
	if err != nil {
		return submitOutput{}, fmt.Errorf("queue %s: %w", name, err)
	}

	rec := sub.record
	rec.JobID = resp.PromptID
	rec.GraphName = name
	pos := resp.Number
	rec.QueuePosition = &pos
	s.ledger.Record(rec)
	if s.recorder != nil {
		s.recorder.ObserveSubmission(sub.tool)
	}
	s.logger.InfoContext(ctx, "job queued", "tool", sub.tool, "prompt_id", resp.PromptID, "graph", name, "number", resp.Number)

	return submitOutput{
		PromptID: resp.PromptID,
		Number:   resp.Number,
		Status:   ledger.StatusQueued.String(),
		Workflow: name,
		Warnings: warnings,
	}, nil
}

// upload sends the caller's image upstream and returns the reference a
// LoadImage node expects.
func (s *Server) upload(ctx context.Context, path string) (string, error) {
	up, err := s.upstream.UploadImage(ctx, path)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return up.Reference(), nil
}

func (s *Server) handleGenerateImage(ctx context.Context, in generateImageInput) (submitOutput, error) {
	in.Prompt = sanitizePrompt(in.Prompt)
	in.NegativePrompt = sanitizeOptional(in.NegativePrompt)
	if err := validateInput(in); err != nil {
		return submitOutput{}, err
	}
	width, height := orDefault(in.Width, DefaultSize), orDefault(in.Height, DefaultSize)

	return s.submit(ctx, submission{
		tool:     "generate_image",
		graph:    in.WorkflowName,
		injector: s.txt2img,
		params: workflow.Params{
			Prompt:         &in.Prompt,
			NegativePrompt: in.NegativePrompt,
			Width:          &width,
			Height:         &height,
		},
		record: ledger.Record{
			Prompt:         in.Prompt,
			NegativePrompt: deref(in.NegativePrompt),
			Width:          width,
			Height:         height,
		},
	})
}

func (s *Server) handleModifyImage(ctx context.Context, in modifyImageInput) (submitOutput, error) {
	in.Prompt = sanitizePrompt(in.Prompt)
	in.NegativePrompt = sanitizeOptional(in.NegativePrompt)
	if err := validateInput(in); err != nil {
		return submitOutput{}, err
	}
	ref, err := s.upload(ctx, in.ImagePath)
	if err != nil {
		return submitOutput{}, err
	}
	denoise := orDefault(in.DenoiseStrength, DefaultDenoise)

	return s.submit(ctx, submission{
		tool:     "modify_image",
		graph:    firstNonEmpty(in.WorkflowName, s.workflows.Modify),
		injector: s.txt2img,
		params: workflow.Params{
			Prompt:          &in.Prompt,
			NegativePrompt:  in.NegativePrompt,
			Width:           in.Width,
			Height:          in.Height,
			InputImage:      &ref,
			DenoiseStrength: &denoise,
		},
		record: ledger.Record{
			Prompt:         in.Prompt,
			NegativePrompt: deref(in.NegativePrompt),
			Width:          deref(in.Width),
			Height:         deref(in.Height),
			InputImagePath: in.ImagePath,
		},
	})
}

func (s *Server) handleResizeImage(ctx context.Context, in resizeImageInput) (submitOutput, error) {
	if err := validateInput(in); err != nil {
		return submitOutput{}, err
	}
	method := firstNonEmpty(in.Method, "resize")
	graph := s.workflows.Resize
	if method == "upscale" {
		graph = s.workflows.Upscale
	}
	ref, err := s.upload(ctx, in.ImagePath)
	if err != nil {
		return submitOutput{}, err
	}

	return s.submit(ctx, submission{
		tool:     "resize_image",
		graph:    firstNonEmpty(in.WorkflowName, graph),
		injector: s.resize,
		params: workflow.Params{
			Width:      &in.Width,
			Height:     &in.Height,
			InputImage: &ref,
		},
		record: ledger.Record{
			Prompt:         fmt.Sprintf("Resize (%s)", method),
			Width:          in.Width,
			Height:         in.Height,
			InputImagePath: in.ImagePath,
		},
	})
}

func (s *Server) handleRemoveBackground(ctx context.Context, in removeBackgroundInput) (submitOutput, error) {
	if err := validateInput(in); err != nil {
		return submitOutput{}, err
	}
	ref, err := s.upload(ctx, in.ImagePath)
	if err != nil {
		return submitOutput{}, err
	}

	return s.submit(ctx, submission{
		tool:     "remove_background",
		graph:    firstNonEmpty(in.WorkflowName, s.workflows.RemoveBackground),
		injector: s.txt2img,
		params:   workflow.Params{InputImage: &ref},
		record: ledger.Record{
			Prompt:         "Remove background",
			InputImagePath: in.ImagePath,
		},
	})
}

func orDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func deref[T any](p *T) T {
	var zero T
	return orDefault(p, zero)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
