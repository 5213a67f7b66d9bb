// MIT License
//
// Copyright (c) 2020 codingfinest
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package odata

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-logr/logr"
	"ocm.software/open-component-model/bindings/go/dag"
)

//AttachedLink is an existing entity related to a graph node through an
//Unchanged link. It is written as a reference, never inserted again.
type AttachedLink struct {
	Parent   *EntityDescriptor
	Property string
	Child    *EntityDescriptor
}

//ChangeGraph is the parent to children structure of one nested request body.
type ChangeGraph struct {
	EntitySetName string

	roots    []*EntityDescriptor
	related  map[DescriptorKey][]Descriptor
	members  map[DescriptorKey]Descriptor
	parents  map[DescriptorKey]*EntityDescriptor
	attached []AttachedLink
	order    *dag.DirectedAcyclicGraph[DescriptorKey]
}

func newChangeGraph() *ChangeGraph {
	return &ChangeGraph{
		related: map[DescriptorKey][]Descriptor{},
		members: map[DescriptorKey]Descriptor{},
		parents: map[DescriptorKey]*EntityDescriptor{},
		order:   dag.NewDirectedAcyclicGraph[DescriptorKey](),
	}
}

func (g *ChangeGraph) Roots() []*EntityDescriptor {
	return append([]*EntityDescriptor(nil), g.roots...)
}

//Related returns the children of descriptor in discovery order.
func (g *ChangeGraph) Related(descriptor Descriptor) []Descriptor {
	return append([]Descriptor(nil), g.related[descriptor.Key()]...)
}

func (g *ChangeGraph) AttachedLinks() []AttachedLink {
	return append([]AttachedLink(nil), g.attached...)
}

//Contains reports whether descriptor is a root or a child anywhere in the graph.
func (g *ChangeGraph) Contains(descriptor Descriptor) bool {
	_, ok := g.members[descriptor.Key()]
	return ok
}

//Len is the number of roots and children.
func (g *ChangeGraph) Len() int { return len(g.members) }

//Order returns every member so that parents come before their children.
func (g *ChangeGraph) Order() ([]Descriptor, error) {
	sorted, err := g.order.TopologicalSort()
	if err != nil {
		return nil, err
	}
	ordered := make([]Descriptor, 0, len(g.members))
	for i := len(sorted) - 1; i >= 0; i-- {
		if member, ok := g.members[sorted[i]]; ok {
			ordered = append(ordered, member)
		}
	}
	return ordered, nil
}

func (g *ChangeGraph) sortedParents() []*EntityDescriptor {
	parents := make([]*EntityDescriptor, 0, len(g.parents))
	for _, parent := range g.parents {
		parents = append(parents, parent)
	}
	slices.SortFunc(parents, func(a, b *EntityDescriptor) int { return strings.Compare(string(a.key), string(b.key)) })
	return parents
}

func (g *ChangeGraph) addRoot(root *EntityDescriptor) error {
	g.roots = append(g.roots, root)
	g.members[root.key] = root
	return g.ensureVertex(root.key)
}

func (g *ChangeGraph) addRelated(parent *EntityDescriptor, child Descriptor) error {
	g.related[parent.key] = append(g.related[parent.key], child)
	g.parents[parent.key] = parent
	g.members[child.Key()] = child
	if err := g.ensureVertex(parent.key); err != nil {
		return err
	}
	if err := g.ensureVertex(child.Key()); err != nil {
		return err
	}
	return g.addOrderEdge(parent.key, child.Key())
}

//orderAfter makes the children of a link target follow the link itself.
func (g *ChangeGraph) orderAfter(link *LinkDescriptor) error {
	if err := g.ensureVertex(link.target); err != nil {
		return err
	}
	return g.addOrderEdge(link.key, link.target)
}

//addOrderEdge drops edges that would close a cycle, the first path to a node
//decides its position.
func (g *ChangeGraph) addOrderEdge(from, to DescriptorKey) error {
	var cycle *dag.CycleError
	if err := g.order.AddEdge(from, to); err != nil && !errors.As(err, &cycle) && !errors.Is(err, dag.ErrSelfReference) {
		return err
	}
	return nil
}

func (g *ChangeGraph) ensureVertex(key DescriptorKey) error {
	if g.order.Contains(key) {
		return nil
	}
	return g.order.AddVertex(key)
}

type graphMode int

const (
	deepInsertGraph graphMode = 0
	bulkUpdateGraph graphMode = 1
)

func (m graphMode) String() string {
	if m == deepInsertGraph {
		return `deepInsert`
	}
	return `bulkUpdate`
}

type linkEnds struct {
	source DescriptorKey
	target DescriptorKey
}

type graphBuilder struct {
	tracker    EntityTracker
	pathParser PathParser
	log        logr.Logger

	mode           graphMode
	pending        []Descriptor
	unchangedLinks map[linkEnds]*LinkDescriptor
	attachedSeen   map[linkEnds]bool
}

func newGraphBuilder(tracker EntityTracker, pathParser PathParser, mode graphMode, log logr.Logger) *graphBuilder {
	return &graphBuilder{
		tracker:    tracker,
		pathParser: pathParser,
		mode:       mode,
		log:        log.WithValues("graph", mode.String()),
	}
}

//build walks the pending changes reachable from roots. A failed build never
//returns a partial graph.
func (b *graphBuilder) build(roots ...any) (*ChangeGraph, error) {
	if len(roots) == 0 {
		return nil, errors.New("change graph needs at least one root")
	}
	if b.mode == deepInsertGraph && len(roots) > 1 {
		return nil, fmt.Errorf("%d roots: %w", len(roots), ErrTooManyRoots)
	}

	b.pending = b.tracker.PendingDescriptors()
	b.unchangedLinks = map[linkEnds]*LinkDescriptor{}
	b.attachedSeen = map[linkEnds]bool{}
	for _, link := range b.tracker.Links() {
		if link.state == Unchanged && link.HasTarget() {
			b.unchangedLinks[linkEnds{link.source, link.target}] = link
		}
	}

	g := newChangeGraph()
	if err := b.buildDescriptorGraph(g, true, roots...); err != nil {
		return nil, err
	}
	name, err := b.entitySetName(g.roots[0])
	if err != nil {
		return nil, err
	}
	g.EntitySetName = name

	b.log.V(1).Info("built change graph", "roots", len(g.roots), "members", g.Len(), "attached", len(g.attached), "entitySet", name)
	return g, nil
}

func (b *graphBuilder) buildDescriptorGraph(g *ChangeGraph, isRoot bool, objects ...any) error {
	for _, object := range objects {
		parent, err := b.tracker.GetEntityDescriptor(object)
		if err != nil {
			return err
		}
		if isRoot {
			if g.Contains(parent) {
				continue
			}
			if err = g.addRoot(parent); err != nil {
				return err
			}
		}

		for _, descriptor := range b.pending {
			switch d := descriptor.(type) {
			case *EntityDescriptor:
				if d.ParentKey == parent.key {
					if g.Contains(d) {
						continue
					}
					if err = b.checkSubtreeState(d); err != nil {
						return err
					}
					if err = g.addRelated(parent, d); err != nil {
						return err
					}
					if err = b.buildDescriptorGraph(g, false, d.entity); err != nil {
						return err
					}
				} else if link, ok := b.unchangedLinks[linkEnds{parent.key, d.key}]; ok {
					if b.attachedSeen[linkEnds{parent.key, d.key}] {
						continue
					}
					if err = b.checkSubtreeState(d); err != nil {
						return err
					}
					b.attachedSeen[linkEnds{parent.key, d.key}] = true
					g.parents[parent.key] = parent
					g.attached = append(g.attached, AttachedLink{Parent: parent, Property: link.sourceProperty, Child: d})
				}
			case *LinkDescriptor:
				if d.source != parent.key || g.Contains(d) {
					continue
				}
				if err = b.checkSubtreeState(d); err != nil {
					return err
				}
				var target *EntityDescriptor
				if d.HasTarget() {
					if target, err = b.linkTarget(d); err != nil {
						return err
					}
					if err = b.checkSubtreeState(target); err != nil {
						return err
					}
				}
				if err = g.addRelated(parent, d); err != nil {
					return err
				}
				if target != nil {
					if err = g.orderAfter(d); err != nil {
						return err
					}
					if err = b.buildDescriptorGraph(g, false, target.entity); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

//checkSubtreeState rejects anything but inserts below a deep insert root.
func (b *graphBuilder) checkSubtreeState(descriptor Descriptor) error {
	if b.mode != deepInsertGraph {
		return nil
	}
	if state := descriptor.State(); state == Deleted || state == Modified {
		return fmt.Errorf("%s is %s: %w", descriptor.Key(), state, ErrIllegalStateInSubtree)
	}
	return nil
}

func (b *graphBuilder) linkTarget(link *LinkDescriptor) (*EntityDescriptor, error) {
	if descriptor, ok := b.tracker.Descriptor(link.target); ok {
		if target, ok := descriptor.(*EntityDescriptor); ok {
			return target, nil
		}
	}
	return nil, fmt.Errorf("link %s.%s target %s: %w", link.source, link.sourceProperty, link.target, ErrNotTracked)
}

func (b *graphBuilder) entitySetName(root *EntityDescriptor) (string, error) {
	if root.EntitySetName != emptyString {
		return root.EntitySetName, nil
	}
	link := root.EditLink
	if link == emptyString {
		link = root.Identity
	}
	if link == emptyString || b.pathParser == nil {
		return emptyString, fmt.Errorf("root %s has no edit link: %w", root.key, ErrUnknownEntitySetName)
	}
	segments, err := b.pathParser.EntitySetSegments(link)
	if err != nil {
		return emptyString, fmt.Errorf("parse %q: %w: %w", link, ErrUnknownEntitySetName, err)
	}
	if len(segments) == 0 {
		return emptyString, fmt.Errorf("no entity set in %q: %w", link, ErrUnknownEntitySetName)
	}
	return segments[len(segments)-1], nil
}
