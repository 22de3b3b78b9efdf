package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"comfymcp/internal/comfyui"
	"comfymcp/internal/ledger"
)

// Statuses get_image reports besides the ledger's own.
const (
	statusPending  = "pending"
	statusNotFound = "not_found"
)

type getImageInput struct {
	PromptID string `json:"prompt_id" jsonschema:"prompt_id returned by a submitting tool" validate:"required"`
}

type imageView struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	URL       string `json:"url"`
}

type getImageOutput struct {
	PromptID      string      `json:"prompt_id"`
	Status        string      `json:"status"`
	Images        []imageView `json:"images,omitempty"`
	QueuePosition int         `json:"queue_position,omitempty"`
	QueueSize     int         `json:"queue_size,omitempty"`
	Error         string      `json:"error,omitempty"`
}

type getRequestHistoryInput struct{}

type requestEntry struct {
	PromptID       string `json:"prompt_id"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	WorkflowName   string `json:"workflow_name"`
	Timestamp      string `json:"timestamp"`
	Status         string `json:"status"`
	QueuePosition  *int   `json:"queue_position,omitempty"`
	ImagePath      string `json:"image_path,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

type getRequestHistoryOutput struct {
	History       []requestEntry `json:"history"`
	TotalRequests int            `json:"total_requests"`
}

type listWorkflowsInput struct{}

type listWorkflowsOutput struct {
	Workflows []string `json:"workflows"`
	Default   string   `json:"default"`
	Directory string   `json:"directory"`
}

func (s *Server) handleGetImage(ctx context.Context, in getImageInput) (getImageOutput, error) {
	in.PromptID = strings.TrimSpace(in.PromptID)
	if err := validateInput(in); err != nil {
		return getImageOutput{}, err
	}
	id := in.PromptID
	out := getImageOutput{PromptID: id}

	hist, err := s.upstream.History(ctx, id)
	if err != nil {
		return getImageOutput{}, fmt.Errorf("history %s: %w", id, err)
	}
	entry, ok := hist[id]
	if !ok {
		return s.unfinished(ctx, id), nil
	}

	switch {
	case entry.Errored():
		out.Status = ledger.StatusFailed.String()
		out.Error = strings.Join(entry.MessageStrings(), "; ")
		if out.Error == "" {
			out.Error = "execution failed"
		}
		return out, nil
	case !entry.Status.Completed:
		out.Status = ledger.StatusExecuting.String()
		return out, nil
	}

	out.Status = ledger.StatusCompleted.String()
	for _, ref := range entry.Images() {
		if !isSafeFilename(ref.Filename) {
			s.logger.WarnContext(ctx, "skipping output with unsafe file name", "prompt_id", id, "filename", ref.Filename)
			continue
		}
		out.Images = append(out.Images, imageView{
			Filename:  ref.Filename,
			Subfolder: ref.Subfolder,
			Type:      ref.Type,
			URL:       s.upstream.ViewURL(ref),
		})
	}
	if len(out.Images) == 0 {
		out.Error = "no images found in output"
	}
	return out, nil
}

// unfinished reports a job that has no history entry yet: its place in the
// upstream queue if the queue can be read, pending if this server submitted
// it, and not_found otherwise.
func (s *Server) unfinished(ctx context.Context, id string) getImageOutput {
	out := getImageOutput{PromptID: id}
	q, err := s.upstream.Queue(ctx)
	if err != nil {
		s.logger.DebugContext(ctx, "queue lookup failed", "prompt_id", id, "error", err)
	} else {
		if pos, ok := q.PendingPosition(id); ok {
			out.Status = statusPending
			out.QueuePosition = pos
			out.QueueSize = len(q.Pending)
			return out
		}
		if q.IsRunning(id) {
			out.Status = ledger.StatusExecuting.String()
			return out
		}
	}
	if _, ok := s.ledger.Get(id); ok {
		out.Status = statusPending
		return out
	}
	out.Status = statusNotFound
	out.Error = fmt.Sprintf("prompt id %s not found", id)
	return out
}

func (s *Server) handleGetRequestHistory(ctx context.Context, _ getRequestHistoryInput) (getRequestHistoryOutput, error) {
	records := s.ledger.Reconcile(ctx, s.historyLookup())
	out := getRequestHistoryOutput{
		History:       make([]requestEntry, 0, len(records)),
		TotalRequests: len(records),
	}
	for _, r := range records {
		out.History = append(out.History, requestEntry{
			PromptID:       r.JobID,
			Prompt:         r.Prompt,
			NegativePrompt: r.NegativePrompt,
			Width:          r.Width,
			Height:         r.Height,
			WorkflowName:   r.GraphName,
			Timestamp:      r.SubmittedAt.UTC().Format(time.RFC3339),
			Status:         r.Status.String(),
			QueuePosition:  r.QueuePosition,
			ImagePath:      r.InputImagePath,
			ErrorMessage:   r.ErrorMessage,
		})
	}
	return out, nil
}

// historyLookup observes one job through the upstream history endpoint.
func (s *Server) historyLookup() ledger.Lookup {
	return ledger.LookupFunc(func(ctx context.Context, id string) (ledger.Observation, error) {
		hist, err := s.upstream.History(ctx, id)
		if err != nil {
			return ledger.Observation{}, err
		}
		return observe(hist, id), nil
	})
}

func observe(hist comfyui.History, id string) ledger.Observation {
	entry, ok := hist[id]
	if !ok {
		return ledger.Observation{}
	}
	return ledger.Observation{
		Found:     true,
		Completed: entry.Status.Completed,
		Errored:   entry.Errored(),
		Messages:  entry.MessageStrings(),
	}
}

func (s *Server) handleListWorkflows(_ context.Context, _ listWorkflowsInput) (listWorkflowsOutput, error) {
	names, err := s.graphs.List()
	if err != nil {
		return listWorkflowsOutput{}, err
	}
	return listWorkflowsOutput{
		Workflows: names,
		Default:   s.graphs.DefaultName(),
		Directory: s.graphs.Location(),
	}, nil
}
