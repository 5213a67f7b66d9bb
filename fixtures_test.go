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
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	. "github.com/onsi/gomega"
)

const serviceRoot = `http://host/service.svc`

type customer struct {
	Name string
}

type order struct {
	Number int
}

type orderLine struct {
	Product string
}

//testModel treats customer, order and orderLine pointers as entities.
type testModel struct{}

func (testModel) IsEntityType(value any) bool {
	switch value.(type) {
	case *customer, *order, *orderLine:
		return true
	}
	return false
}

func (testModel) IsEntityCollection(entity any, property string) bool {
	switch property {
	case `Orders`, `Lines`, `Friends`:
		return true
	}
	return false
}

func newTestSession(t *testing.T, mergeOption MergeOption) *Session {
	t.Helper()
	config := NewConfig()
	config.MergeOption = mergeOption
	config.Logger = testr.New(t)
	config.ServiceRoot = serviceRoot
	session, err := NewSession(testModel{}, config)
	NewWithT(t).Expect(err).NotTo(HaveOccurred())
	return session
}

func identityOf(entitySet string, key string) string {
	return serviceRoot + `/` + entitySet + `(` + key + `)`
}

//attach tracks entity as an existing Unchanged entity of entitySet.
func attach(t *testing.T, session *Session, entitySet string, key string, entity any) *EntityDescriptor {
	t.Helper()
	g := NewWithT(t)
	g.Expect(session.AttachTo(entitySet, identityOf(entitySet, key), emptyString, entity)).To(Succeed())
	descriptor, err := session.GetEntityDescriptor(entity)
	g.Expect(err).NotTo(HaveOccurred())
	return descriptor
}

func descriptorOf(t *testing.T, session *Session, entity any) *EntityDescriptor {
	t.Helper()
	descriptor, err := session.GetEntityDescriptor(entity)
	NewWithT(t).Expect(err).NotTo(HaveOccurred())
	return descriptor
}

type closeRecorder struct {
	closed int
}

func (c *closeRecorder) Read([]byte) (int, error) { return 0, nil }

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

//fakeWriter answers every request with success unless an error is registered
//for the descriptor.
type fakeWriter struct {
	identities map[DescriptorKey]string
	failures   map[DescriptorKey]error
	graphErr   error

	written []Descriptor
	graphs  []*ChangeGraph
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{identities: map[DescriptorKey]string{}, failures: map[DescriptorKey]error{}}
}

func (w *fakeWriter) respond(descriptor Descriptor) *OperationResponse {
	response := &OperationResponse{Descriptor: descriptor, StatusCode: 204}
	if identity, ok := w.identities[descriptor.Key()]; ok {
		response.StatusCode = 201
		response.Identity = identity
		response.EditLink = identity
		response.ETag = `W/"1"`
	}
	return response
}

func (w *fakeWriter) WriteDescriptor(ctx context.Context, descriptor Descriptor) (*OperationResponse, error) {
	w.written = append(w.written, descriptor)
	if err, ok := w.failures[descriptor.Key()]; ok {
		return nil, err
	}
	return w.respond(descriptor), nil
}

func (w *fakeWriter) WriteChangeGraph(ctx context.Context, graph *ChangeGraph) ([]*OperationResponse, error) {
	w.graphs = append(w.graphs, graph)
	if w.graphErr != nil {
		return nil, w.graphErr
	}
	ordered, err := graph.Order()
	if err != nil {
		return nil, err
	}
	var responses []*OperationResponse
	for _, descriptor := range ordered {
		responses = append(responses, w.respond(descriptor))
	}
	return responses, nil
}

type fakeJournal struct {
	graphs []*ChangeGraph
	err    error
}

func (j *fakeJournal) Record(ctx context.Context, graph *ChangeGraph) error {
	if j.err != nil {
		return j.err
	}
	j.graphs = append(j.graphs, graph)
	return nil
}

type recordedCypher struct {
	cql    string
	params map[string]any
}

type fakeRunner struct {
	runs []recordedCypher
	err  error
}

func (r *fakeRunner) run(cql string, params map[string]any) error {
	if r.err != nil {
		return r.err
	}
	r.runs = append(r.runs, recordedCypher{cql, params})
	return nil
}
