package workflow

import (
	"fmt"
	"slices"
)

// Node kinds recognised as anchors in API-format graphs.
const (
	KindSampler        = "KSampler"
	KindTextEncoder    = "CLIPTextEncode"
	KindEmptyLatent    = "EmptyLatentImage"
	KindEmptySD3Latent = "EmptySD3LatentImage"
	KindLoadImage      = "LoadImage"
	KindImageScale     = "ImageScale"
)

// Input names written by the injector.
const (
	InputPositive = "positive"
	InputNegative = "negative"
	InputText     = "text"
	InputWidth    = "width"
	InputHeight   = "height"
	InputImage    = "image"
	InputDenoise  = "denoise"
)

// Params are the semantic parameters to write into a graph. A nil field
// leaves the corresponding part of the graph untouched.
type Params struct {
	Prompt          *string
	NegativePrompt  *string
	Width           *int
	Height          *int
	InputImage      *string
	DenoiseStrength *float64
}

// Result is an injected graph plus non-fatal warnings. Every warning matches
// ErrInjectionTargetMismatch.
type Result struct {
	Graph    *Graph
	Warnings []error
}

// InjectorOption configures the kind priority lists of an Injector.
type InjectorOption func(*Injector)

// WithSamplerKinds sets the kinds treated as the sampling anchor.
func WithSamplerKinds(kinds ...string) InjectorOption {
	return func(in *Injector) { in.samplerKinds = kinds }
}

// WithTextEncoderKinds sets the kinds accepted as prompt targets.
func WithTextEncoderKinds(kinds ...string) InjectorOption {
	return func(in *Injector) { in.encoderKinds = kinds }
}

// WithDimensionKinds sets the priority list for width/height targets.
func WithDimensionKinds(kinds ...string) InjectorOption {
	return func(in *Injector) { in.dimensionKinds = kinds }
}

// WithImageKinds sets the priority list for the image-input node.
func WithImageKinds(kinds ...string) InjectorOption {
	return func(in *Injector) { in.imageKinds = kinds }
}

// Injector writes Params into graphs using anchor-and-trace lookup. Each kind
// list is checked in priority order with first-match semantics; supporting a
// new workflow family means extending a list.
type Injector struct {
	samplerKinds   []string
	encoderKinds   []string
	dimensionKinds []string
	imageKinds     []string
}

// NewInjector returns an Injector with the standard txt2img/img2img anchors.
func NewInjector(opts ...InjectorOption) *Injector {
	in := &Injector{
		samplerKinds:   []string{KindSampler},
		encoderKinds:   []string{KindTextEncoder},
		dimensionKinds: []string{KindEmptyLatent, KindEmptySD3Latent},
		imageKinds:     []string{KindLoadImage},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Inject returns a deep copy of g with p written into it. g is never modified.
// A connection that points outside the graph fails with ErrGraphMalformed;
// a traced prompt target of the wrong kind only adds a warning.
func (in *Injector) Inject(g *Graph, p Params) (*Result, error) {
	out := g.Clone()
	res := &Result{Graph: out}

	samplerID, sampler, hasSampler := out.FindKind(in.samplerKinds...)
	switch {
	case hasSampler:
		if p.Prompt != nil {
			if err := in.traceText(out, samplerID, sampler, InputPositive, *p.Prompt, res); err != nil {
				return nil, err
			}
		}
		if p.NegativePrompt != nil {
			if err := in.traceText(out, samplerID, sampler, InputNegative, *p.NegativePrompt, res); err != nil {
				return nil, err
			}
		}
	case p.Prompt != nil:
		// No sampler: the first encoder is the only candidate. The negative
		// prompt has no fallback target.
		if _, enc, ok := out.FindKind(in.encoderKinds...); ok {
			setInput(enc, InputText, Literal(*p.Prompt))
		}
	}

	if p.Width != nil || p.Height != nil {
		if _, n, ok := out.FindKind(in.dimensionKinds...); ok {
			if p.Width != nil {
				setInput(n, InputWidth, Literal(*p.Width))
			}
			if p.Height != nil {
				setInput(n, InputHeight, Literal(*p.Height))
			}
		}
	}

	if p.InputImage != nil {
		if _, n, ok := out.FindKind(in.imageKinds...); ok {
			setInput(n, InputImage, Literal(*p.InputImage))
		}
	}

	if p.DenoiseStrength != nil && hasSampler {
		setInput(sampler, InputDenoise, Literal(*p.DenoiseStrength))
	}

	return res, nil
}

// traceText follows the sampler's side input to its encoder and sets the text.
// An absent side input is skipped silently.
func (in *Injector) traceText(g *Graph, samplerID string, sampler *Node, side, text string, res *Result) error {
	v, ok := sampler.Inputs.Get(side)
	if !ok {
		return nil
	}
	c, ok := v.Connection()
	if !ok {
		res.Warnings = append(res.Warnings, &MismatchError{Sampler: samplerID, Input: side, Want: in.encoderKinds})
		return nil
	}
	target, ok := g.Node(c.Node)
	if !ok || target == nil {
		return &MalformedError{
			Node:  samplerID,
			Input: side,
			Msg:   fmt.Sprintf("dangling connection to unknown node %q", c.Node),
		}
	}
	if !slices.Contains(in.encoderKinds, target.Kind) {
		res.Warnings = append(res.Warnings, &MismatchError{
			Sampler: samplerID,
			Input:   side,
			Target:  c.Node,
			Kind:    target.Kind,
			Want:    in.encoderKinds,
		})
		return nil
	}
	setInput(target, InputText, Literal(text))
	return nil
}

func setInput(n *Node, name string, v Value) {
	if n.Inputs == nil {
		n.Inputs = NewInputs()
	}
	n.Inputs.Set(name, v)
}
