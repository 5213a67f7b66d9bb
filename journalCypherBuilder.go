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
	"slices"
	"strconv"
	"strings"
)

const saveOperationSign = `s`

type journalCypherBuilder struct {
	graph  *ChangeGraph
	saveID string
	signs  map[DescriptorKey]string
}

func newJournalCypherBuilder(graph *ChangeGraph, saveID string) *journalCypherBuilder {
	return &journalCypherBuilder{graph, saveID, map[DescriptorKey]string{}}
}

//getCreate returns one statement creating the save operation, its descriptors
//and the edges between them, with descriptors in parent first order.
func (b *journalCypherBuilder) getCreate() (string, map[string]any, error) {
	var (
		cql        strings.Builder
		parameters = map[string]any{}
	)
	ordered, err := b.graph.Order()
	if err != nil {
		return emptyString, nil, err
	}

	parameters[`saveId`] = b.saveID
	parameters[`entitySet`] = b.graph.EntitySetName
	cql.WriteString(`CREATE (` + saveOperationSign + `:SaveOperation {id: $saveId, entitySet: $entitySet})
`)

	//Link targets that parent other members are not members themselves but
	//still need a node.
	nodes := ordered
	for _, parent := range b.graph.sortedParents() {
		if !b.graph.Contains(parent) {
			nodes = append(nodes, parent)
		}
	}
	for _, attached := range b.graph.attached {
		if !b.graph.Contains(attached.Child) && !slices.Contains(nodes, Descriptor(attached.Child)) {
			nodes = append(nodes, attached.Child)
		}
	}
	for _, node := range nodes {
		b.createNode(&cql, parameters, node)
	}

	for _, root := range b.graph.roots {
		cql.WriteString(`CREATE (` + saveOperationSign + `)-[:ROOT]->(` + b.signs[root.key] + `)
`)
	}
	for _, node := range nodes {
		for _, child := range b.graph.related[node.Key()] {
			cql.WriteString(`CREATE (` + b.signs[node.Key()] + `)-[:RELATED]->(` + b.signs[child.Key()] + `)
`)
		}
		if link, ok := node.(*LinkDescriptor); ok {
			if targetSign, ok := b.signs[link.target]; ok {
				cql.WriteString(`CREATE (` + b.signs[link.key] + `)-[:TARGET]->(` + targetSign + `)
`)
			}
		}
	}
	for index, attached := range b.graph.attached {
		propertyRef := `attached` + strconv.Itoa(index)
		parameters[propertyRef] = attached.Property
		cql.WriteString(`CREATE (` + b.signs[attached.Parent.key] + `)-[:ATTACHES {property: $` + propertyRef + `}]->(` + b.signs[attached.Child.key] + `)
`)
	}
	return cql.String(), parameters, nil
}

func (b *journalCypherBuilder) createNode(cql *strings.Builder, parameters map[string]any, descriptor Descriptor) {
	sign := `d` + strconv.Itoa(len(b.signs))
	b.signs[descriptor.Key()] = sign
	propCQLRef := sign + `Properties`
	parameters[propCQLRef] = journalProperties(descriptor)
	cql.WriteString(`CREATE (` + sign + `:Descriptor $` + propCQLRef + `)
`)
}

//journalProperties flattens a descriptor into Neo4j properties. Empty values
//are left out, Neo4j cannot store nulls.
func journalProperties(descriptor Descriptor) map[string]any {
	properties := map[string]any{
		`key`:   string(descriptor.Key()),
		`state`: descriptor.State().String(),
	}
	if descriptor.ChangeOrder() != unassignedChangeOrder {
		properties[`changeOrder`] = int64(descriptor.ChangeOrder())
	}
	set := func(name, value string) {
		if value != emptyString {
			properties[name] = value
		}
	}
	base := descriptor.base()
	set(`changeSetId`, base.ChangeSetId)
	if len(base.DependsOnIds) > 0 {
		properties[`dependsOnIds`] = append([]string(nil), base.DependsOnIds...)
	}
	if len(base.DependsOnChangeSetIds) > 0 {
		properties[`dependsOnChangeSetIds`] = append([]string(nil), base.DependsOnChangeSetIds...)
	}
	switch d := descriptor.(type) {
	case *EntityDescriptor:
		properties[`kind`] = `entity`
		set(`identity`, d.Identity)
		set(`entitySet`, d.EntitySetName)
		set(`etag`, d.ETag)
		set(`serverType`, d.ServerTypeName)
		set(`parentProperty`, d.ParentPropertyForInsert)
	case *LinkDescriptor:
		properties[`kind`] = `link`
		set(`source`, string(d.source))
		set(`sourceProperty`, d.sourceProperty)
		set(`target`, string(d.target))
		properties[`collection`] = d.isSourcePropertyCollection
	case *StreamDescriptor:
		properties[`kind`] = `stream`
		set(`name`, d.Name)
	}
	return properties
}
