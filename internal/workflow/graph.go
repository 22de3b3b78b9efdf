package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Connection reads an input from output slot Slot of node Node.
type Connection struct {
	Node string
	Slot int
}

// Value is a node input: either a literal or a Connection.
//
// Scalar literals are held as string, bool, json.Number (after decoding) or
// any Go value set by the caller. Arrays and objects that are not connections
// are kept verbatim as json.RawMessage.
type Value struct {
	lit  any
	conn *Connection
}

// Literal wraps a plain input value.
func Literal(v any) Value { return Value{lit: v} }

// Link builds a connection to slot of node.
func Link(node string, slot int) Value {
	return Value{conn: &Connection{Node: node, Slot: slot}}
}

// Connection returns the referenced node output, if v is a connection.
func (v Value) Connection() (Connection, bool) {
	if v.conn == nil {
		return Connection{}, false
	}
	return *v.conn, true
}

// Literal returns the literal value, or nil for connections.
func (v Value) Literal() any { return v.lit }

// Text returns the literal as a string.
func (v Value) Text() (string, bool) {
	s, ok := v.lit.(string)
	return s, ok
}

func (v Value) clone() Value {
	if v.conn != nil {
		c := *v.conn
		return Value{conn: &c}
	}
	if raw, ok := v.lit.(json.RawMessage); ok {
		return Value{lit: json.RawMessage(bytes.Clone(raw))}
	}
	return v
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.conn != nil {
		return json.Marshal([]any{v.conn.Node, v.conn.Slot})
	}
	return json.Marshal(v.lit)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty input value")
	}
	switch data[0] {
	case '[':
		if c, ok := parseConnection(data); ok {
			*v = Value{conn: &c}
			return nil
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid array value")
		}
		*v = Value{lit: json.RawMessage(bytes.Clone(data))}
		return nil
	case '{':
		if !json.Valid(data) {
			return fmt.Errorf("invalid object value")
		}
		*v = Value{lit: json.RawMessage(bytes.Clone(data))}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var lit any
	if err := dec.Decode(&lit); err != nil {
		return err
	}
	*v = Value{lit: lit}
	return nil
}

// parseConnection recognises the API-format link shape ["id", slot].
func parseConnection(data []byte) (Connection, bool) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) != 2 {
		return Connection{}, false
	}
	var c Connection
	if err := json.Unmarshal(parts[0], &c.Node); err != nil {
		return Connection{}, false
	}
	if err := json.Unmarshal(parts[1], &c.Slot); err != nil {
		return Connection{}, false
	}
	return c, true
}

// Inputs is an insertion-ordered set of named input values.
type Inputs struct {
	names  []string
	values map[string]Value
}

// NewInputs returns an empty input set.
func NewInputs() *Inputs {
	return &Inputs{values: make(map[string]Value)}
}

// Get returns the named input.
func (in *Inputs) Get(name string) (Value, bool) {
	if in == nil {
		return Value{}, false
	}
	v, ok := in.values[name]
	return v, ok
}

// Set overwrites the named input, appending it if new.
func (in *Inputs) Set(name string, v Value) {
	if in.values == nil {
		in.values = make(map[string]Value)
	}
	if _, ok := in.values[name]; !ok {
		in.names = append(in.names, name)
	}
	in.values[name] = v
}

// Names returns input names in insertion order.
func (in *Inputs) Names() []string {
	if in == nil {
		return nil
	}
	return slices.Clone(in.names)
}

// Len returns the number of inputs.
func (in *Inputs) Len() int {
	if in == nil {
		return 0
	}
	return len(in.names)
}

func (in *Inputs) clone() *Inputs {
	if in == nil {
		return nil
	}
	out := &Inputs{
		names:  slices.Clone(in.names),
		values: make(map[string]Value, len(in.values)),
	}
	for k, v := range in.values {
		out.values[k] = v.clone()
	}
	return out
}

func (in Inputs) MarshalJSON() ([]byte, error) {
	return encodeObject(in.names, func(name string) any { return in.values[name] })
}

func (in *Inputs) UnmarshalJSON(data []byte) error {
	out := NewInputs()
	err := decodeObject(data, "inputs", func(name string, raw json.RawMessage) error {
		var v Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		out.Set(name, v)
		return nil
	})
	if err != nil {
		return err
	}
	*in = *out
	return nil
}

// Node is one unit of work in a graph. Kind is the API "class_type".
type Node struct {
	Kind   string
	Inputs *Inputs
	Meta   json.RawMessage // "_meta", carried through untouched
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	return &Node{
		Kind:   n.Kind,
		Inputs: n.Inputs.clone(),
		Meta:   bytes.Clone(n.Meta),
	}
}

type nodeJSON struct {
	Inputs    *Inputs         `json:"inputs"`
	ClassType string          `json:"class_type"`
	Meta      json.RawMessage `json:"_meta,omitempty"`
}

type nodeWire struct {
	Inputs    json.RawMessage `json:"inputs"`
	ClassType string          `json:"class_type"`
	Meta      json.RawMessage `json:"_meta,omitempty"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeJSON{Inputs: n.Inputs, ClassType: n.Kind, Meta: n.Meta})
}

// UnmarshalJSON leaves Inputs nil when the field is absent or null so that
// Validate can report it against the node id.
func (n *Node) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = Node{}
		return nil
	}
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Node{Kind: w.ClassType, Meta: w.Meta}
	if len(w.Inputs) > 0 && !bytes.Equal(w.Inputs, []byte("null")) {
		out.Inputs = NewInputs()
		if err := out.Inputs.UnmarshalJSON(w.Inputs); err != nil {
			return err
		}
	}
	*n = out
	return nil
}

// Graph maps node ids to nodes, preserving insertion order.
type Graph struct {
	ids   []string
	nodes map[string]*Node
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Len returns the node count.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.ids)
}

// IDs returns node ids in insertion order.
func (g *Graph) IDs() []string {
	if g == nil {
		return nil
	}
	return slices.Clone(g.ids)
}

// Node returns the node stored under id.
func (g *Graph) Node(id string) (*Node, bool) {
	if g == nil {
		return nil, false
	}
	n, ok := g.nodes[id]
	return n, ok
}

// Set stores n under id. A new id is appended; an existing id keeps its position.
func (g *Graph) Set(id string, n *Node) {
	if g.nodes == nil {
		g.nodes = make(map[string]*Node)
	}
	if _, ok := g.nodes[id]; !ok {
		g.ids = append(g.ids, id)
	}
	g.nodes[id] = n
}

// FindKind returns the first node whose kind matches, trying kinds in
// priority order and nodes in insertion order for each kind.
func (g *Graph) FindKind(kinds ...string) (string, *Node, bool) {
	if g == nil {
		return "", nil, false
	}
	for _, kind := range kinds {
		for _, id := range g.ids {
			if n := g.nodes[id]; n != nil && n.Kind == kind {
				return id, n, true
			}
		}
	}
	return "", nil, false
}

// Clone returns a deep copy sharing no mutable state with g.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{
		ids:   slices.Clone(g.ids),
		nodes: make(map[string]*Node, len(g.nodes)),
	}
	for id, n := range g.nodes {
		out.nodes[id] = n.Clone()
	}
	return out
}

func (g Graph) MarshalJSON() ([]byte, error) {
	return encodeObject(g.ids, func(id string) any { return g.nodes[id] })
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	out := NewGraph()
	err := decodeObject(data, "graph", func(id string, raw json.RawMessage) error {
		var n Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return &MalformedError{Node: id, Err: err}
		}
		out.Set(id, &n)
		return nil
	})
	if err != nil {
		return err
	}
	*g = *out
	return nil
}

// Parse decodes and validates a graph definition.
func Parse(name string, data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		var me *MalformedError
		if errors.As(err, &me) {
			me.Graph = name
			return nil, me
		}
		return nil, &MalformedError{Graph: name, Msg: "invalid definition", Err: err}
	}
	if err := g.Validate(); err != nil {
		var me *MalformedError
		if errors.As(err, &me) {
			me.Graph = name
		}
		return nil, err
	}
	return &g, nil
}

func encodeObject(keys []string, get func(string) any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(get(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeObject walks a JSON object in document order. Duplicate keys are rejected.
func decodeObject(data []byte, what string, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%s must be a JSON object", what)
	}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%s: unexpected token %v", what, tok)
		}
		if seen[key] {
			return fmt.Errorf("%s: duplicate key %q", what, key)
		}
		seen[key] = true
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
