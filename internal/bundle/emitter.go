// Package bundle serializes a module graph into a single self-contained script.
package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	dgraph "github.com/dominikbraun/graph"
	"github.com/wolfeidau/devbundle/internal/graph"
	"github.com/wolfeidau/devbundle/internal/util"
)

// Options configures the emitter
type Options struct {
	// Root is the directory module keys are relative to, defaults to the entry's directory
	Root string
	// LiveReloadPath, when set, appends a client which listens for rebuilds on this path
	LiveReloadPath string
}

// Module is one serialized module in the artifact.
type Module struct {
	// Key identifies the module inside the bundle, its path relative to Root
	Key  string
	ID   string
	Body []byte
	// Deps maps import specifiers to module keys
	Deps map[string]string
}

// Artifact is the emitted bundle. It is never modified once emitted.
type Artifact struct {
	Entry string
	// Modules in dependency first order
	Modules  []Module
	Contents []byte
	Digest   string
}

// Emitter turns graphs into artifacts.
type Emitter struct {
	opts Options
}

// New creates a new Emitter
func New(opts Options) *Emitter {
	return &Emitter{opts: opts}
}

// Emit orders the graph topologically and serializes it with the runtime.
// Identical graphs produce byte identical artifacts.
func (e *Emitter) Emit(g *graph.Graph) (*Artifact, error) {
	if g == nil || g.Len() == 0 {
		return nil, &EmitError{Module: "<none>", Err: graph.ErrNoEntry}
	}

	root := e.opts.Root
	if root == "" {
		root = filepath.Dir(g.Entry)
	}

	order, err := Order(g)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]string, len(order))
	for _, id := range order {
		keys[id] = moduleKey(root, id)
	}

	artifact := &Artifact{
		Entry:   keys[g.Entry],
		Modules: make([]Module, 0, len(order)),
	}

	for _, id := range order {
		m, _ := g.Module(id)

		deps := make(map[string]string, len(m.Deps))
		for spec, target := range m.Deps {
			key, ok := keys[target]
			if !ok {
				return nil, &EmitError{Module: id, Target: target, Err: fmt.Errorf("specifier %q targets a module outside the graph", spec)}
			}
			deps[spec] = key
		}

		artifact.Modules = append(artifact.Modules, Module{
			Key:  keys[id],
			ID:   id,
			Body: m.Body,
			Deps: deps,
		})
	}

	contents, err := e.render(artifact)
	if err != nil {
		return nil, err
	}

	artifact.Contents = contents
	artifact.Digest = util.Digest(contents)

	return artifact, nil
}

// Order returns module ids with every dependency before its dependents. Ties
// are broken by the order modules were discovered while building the graph.
func Order(g *graph.Graph) ([]string, error) {
	modules := g.Modules()

	discovery := make(map[string]int, len(modules))
	sorter := dgraph.New(dgraph.StringHash, dgraph.Directed())

	for i, m := range modules {
		discovery[m.ID] = i
		if err := sorter.AddVertex(m.ID); err != nil {
			return nil, &EmitError{Module: m.ID, Err: err}
		}
	}

	for _, edge := range g.Edges() {
		// edges run dependency -> dependent so the sort emits dependencies first
		err := sorter.AddEdge(edge.To, edge.From)
		if err != nil && !errors.Is(err, dgraph.ErrEdgeAlreadyExists) {
			return nil, &EmitError{Module: edge.From, Target: edge.To, Err: err}
		}
	}

	order, err := dgraph.StableTopologicalSort(sorter, func(a, b string) bool {
		return discovery[a] < discovery[b]
	})
	if err != nil {
		return nil, &EmitError{Module: g.Entry, Err: err}
	}

	return order, nil
}

func (e *Emitter) render(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(runtimeHeader)

	order := make([]string, 0, len(a.Modules))
	for _, m := range a.Modules {
		order = append(order, m.Key)

		key, err := jsString(m.Key)
		if err != nil {
			return nil, err
		}
		deps, err := jsDeps(m.Deps)
		if err != nil {
			return nil, err
		}

		buf.WriteString(key)
		fmt.Fprintf(&buf, moduleOpen, deps)
		buf.Write(m.Body)
		if len(m.Body) > 0 && m.Body[len(m.Body)-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.WriteString(moduleClose)
	}

	orderJSON, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	entry, err := jsString(a.Entry)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, runtimeFooter, orderJSON, entry)

	if e.opts.LiveReloadPath != "" {
		path, err := jsString(e.opts.LiveReloadPath)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, liveReloadClient, path)
	}

	return buf.Bytes(), nil
}

// jsDeps renders a specifier map as a JS object literal with sorted keys.
func jsDeps(deps map[string]string) (string, error) {
	specs := make([]string, 0, len(deps))
	for spec := range deps {
		specs = append(specs, spec)
	}
	sort.Strings(specs)

	var b strings.Builder
	b.WriteByte('{')
	for i, spec := range specs {
		if i > 0 {
			b.WriteString(", ")
		}
		k, err := jsString(spec)
		if err != nil {
			return "", err
		}
		v, err := jsString(deps[spec])
		if err != nil {
			return "", err
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
	}
	b.WriteByte('}')

	return b.String(), nil
}

func jsString(s string) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func moduleKey(root, id string) string {
	rel, err := filepath.Rel(root, id)
	if err != nil {
		return filepath.ToSlash(id)
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return rel
	}
	return "./" + rel
}
