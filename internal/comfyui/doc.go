// Package comfyui is a small client for the ComfyUI HTTP API.
//
// Usage:
//
//	client, err := comfyui.New("http://127.0.0.1:8188", comfyui.WithTimeout(30*time.Second))
//	queued, err := client.QueuePrompt(ctx, graph, clientID)
//	history, err := client.History(ctx, queued.PromptID)
//	queue, err := client.Queue(ctx)
//
// Connection failures match ErrUnreachable; graphs refused by the server
// match ErrRejected. Other non-2xx responses are *APIError.
package comfyui
