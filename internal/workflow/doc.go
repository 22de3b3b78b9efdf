// Package workflow models ComfyUI API-format graphs and prepares them for
// submission.
//
// A Graph is an id-indexed arena of nodes. Node inputs are either literals or
// Connections ([node id, output slot] pairs) that name another node by id, so
// the graph never holds owning references between nodes. Insertion order of
// node ids is preserved on a JSON round trip and drives every first-match
// lookup.
//
// Usage:
//
//	store := workflow.NewStore(os.DirFS(dir), dir)
//	base, err := store.Load("txt2img.json")
//	res, err := workflow.NewInjector().Inject(base, workflow.Params{Prompt: &prompt})
//	payload, err := json.Marshal(res.Graph)
//
// Graphs returned by Store are shared cached masters and must be treated as
// read-only. Injector always works on a deep copy.
package workflow
