package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"comfymcp/internal/format"
	"comfymcp/internal/workflow"
)

var workflowsFlags struct {
	markdown bool
}

var inspectFlags struct {
	prompt         string
	negativePrompt string
	width          int
	height         int
	image          string
	denoise        float64
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect the workflow definitions the server would load",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow definitions and the anchors found in each",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeWorkflowList(cmd.OutOrStdout(), newStore(cfg, nil), tableMode())
	},
}

var workflowsInspectCmd = &cobra.Command{
	Use:   "inspect [NAME]",
	Short: "Show the nodes of a workflow and, with parameters, the graph that would be submitted",
	Long: `Shows the nodes of a workflow definition. NAME defaults to the configured
default workflow. When any of --prompt, --negative-prompt, --width, --height,
--image or --denoise is given, the parameters are injected and the resulting
API-format graph is printed together with any injection warnings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	workflowsCmd.PersistentFlags().BoolVar(&workflowsFlags.markdown, "markdown", false, "Render tables as Markdown")

	f := workflowsInspectCmd.Flags()
	f.StringVar(&inspectFlags.prompt, "prompt", "", "Positive prompt to inject")
	f.StringVar(&inspectFlags.negativePrompt, "negative-prompt", "", "Negative prompt to inject")
	f.IntVar(&inspectFlags.width, "width", 0, "Width to inject")
	f.IntVar(&inspectFlags.height, "height", 0, "Height to inject")
	f.StringVar(&inspectFlags.image, "image", "", "Input image reference to inject")
	f.Float64Var(&inspectFlags.denoise, "denoise", 0, "Denoise strength to inject")

	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsInspectCmd)
}

func tableMode() format.Mode {
	if workflowsFlags.markdown {
		return format.Markdown
	}
	return format.ASCII
}

func runInspect(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	f := cmd.Flags()
	var p workflow.Params
	if f.Changed("prompt") {
		p.Prompt = &inspectFlags.prompt
	}
	if f.Changed("negative-prompt") {
		p.NegativePrompt = &inspectFlags.negativePrompt
	}
	if f.Changed("width") {
		p.Width = &inspectFlags.width
	}
	if f.Changed("height") {
		p.Height = &inspectFlags.height
	}
	if f.Changed("image") {
		p.InputImage = &inspectFlags.image
	}
	if f.Changed("denoise") {
		p.DenoiseStrength = &inspectFlags.denoise
	}
	return writeInspect(cmd.OutOrStdout(), newStore(cfg, nil), name, p, tableMode())
}

func writeWorkflowList(w io.Writer, store *workflow.Store, mode format.Mode) error {
	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(w, "No workflow definitions in %s\n", store.Location())
		return nil
	}

	t := format.NewTable(mode)
	t.Header("Workflow", "Default", "Nodes", "Sampler", "Latent", "Image input", "Problem")
	t.Columns(
		format.Column{Number: 2, Align: format.AlignCenter},
		format.Column{Number: 3, Align: format.AlignRight},
		format.Column{Number: 7, MaxWidth: 60},
	)
	for _, name := range names {
		def := format.Mark(name == store.DefaultName())
		g, err := store.Load(name)
		if err != nil {
			t.Row(name, def, "-", "-", "-", "-", format.Truncate(err.Error(), 60))
			continue
		}
		t.Row(name, def, g.Len(),
			anchor(g, workflow.KindSampler),
			anchor(g, workflow.KindEmptyLatent, workflow.KindEmptySD3Latent, workflow.KindImageScale),
			anchor(g, workflow.KindLoadImage),
			"")
	}
	fmt.Fprintln(w, t.String())
	return nil
}

// anchor renders the first node of one of kinds as "id (Kind)".
func anchor(g *workflow.Graph, kinds ...string) string {
	id, n, ok := g.FindKind(kinds...)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", id, n.Kind)
}

func writeInspect(w io.Writer, store *workflow.Store, name string, p workflow.Params, mode format.Mode) error {
	g, err := store.Load(name)
	if err != nil {
		return err
	}
	resolved, _ := store.Resolve(name)

	t := format.NewTable(mode)
	t.Header("Node", "Kind", "Title", "Inputs")
	t.Columns(format.Column{Number: 4, MaxWidth: 70})
	for _, id := range g.IDs() {
		n, _ := g.Node(id)
		t.Row(id, n.Kind, format.OrDash(title(n)), format.Truncate(describeInputs(n.Inputs), 70))
	}
	fmt.Fprintf(w, "%s (%d nodes)\n%s\n", resolved, g.Len(), t.String())

	if p == (workflow.Params{}) {
		return nil
	}
	res, err := workflow.NewInjector().Inject(g, p)
	if err != nil {
		return err
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %v\n", warn)
	}
	data, err := json.MarshalIndent(res.Graph, "", "  ")
	if err != nil {
		return fmt.Errorf("encode injected graph: %w", err)
	}
	fmt.Fprintf(w, "\n%s\n", data)
	return nil
}

func title(n *workflow.Node) string {
	if len(n.Meta) == 0 {
		return ""
	}
	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(n.Meta, &meta); err != nil {
		return ""
	}
	return meta.Title
}

func describeInputs(in *workflow.Inputs) string {
	if in == nil {
		return ""
	}
	parts := make([]string, 0, in.Len())
	for _, name := range in.Names() {
		v, _ := in.Get(name)
		if c, ok := v.Connection(); ok {
			parts = append(parts, fmt.Sprintf("%s=<%s:%d>", name, c.Node, c.Slot))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, literal(v.Literal())))
	}
	return strings.Join(parts, " ")
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", format.Truncate(x, 24))
	case json.RawMessage:
		return format.Truncate(string(x), 24)
	case nil:
		return "null"
	}
	return fmt.Sprint(v)
}
