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
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	. "github.com/onsi/gomega"
)

func newJournaledSession(t *testing.T, journal ChangeJournal) *Session {
	t.Helper()
	config := NewConfig()
	config.Logger = testr.New(t)
	config.ServiceRoot = serviceRoot
	config.Journal = journal
	session, err := NewSession(testModel{}, config)
	NewWithT(t).Expect(err).NotTo(HaveOccurred())
	return session
}

func TestSaveSequentialCommitsInChangeOrder(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)

	alice, placed := &customer{Name: `alice`}, &order{Number: 1}
	g.Expect(session.AddObject(`Customers`, alice)).To(Succeed())
	g.Expect(session.AddObject(`Orders`, placed)).To(Succeed())
	g.Expect(session.AddLink(alice, `Orders`, placed)).To(Succeed())
	a, o := descriptorOf(t, session, alice), descriptorOf(t, session, placed)
	link := session.Tracker().GetLinks(alice, `Orders`)[0]

	writer := newFakeWriter()
	writer.identities[a.Key()] = identityOf(`Customers`, `1`)
	writer.identities[o.Key()] = identityOf(`Orders`, `1`)

	result, err := session.SaveChanges(context.Background(), writer, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Err()).NotTo(HaveOccurred())
	g.Expect(result.Responses).To(HaveLen(3))
	g.Expect(writer.written).To(Equal([]Descriptor{a, o, link}))

	g.Expect(session.Tracker().PendingDescriptors()).To(BeEmpty())
	g.Expect(a.State()).To(Equal(Unchanged))
	g.Expect(a.ETag).To(Equal(`W/"1"`))
	g.Expect(link.State()).To(Equal(Unchanged))
	entity, state, ok := session.Tracker().TryGetEntity(identityOf(`Orders`, `1`))
	g.Expect(ok).To(BeTrue())
	g.Expect(entity).To(BeIdenticalTo(placed))
	g.Expect(state).To(Equal(Unchanged))
}

func TestSaveSequentialStopsAtFirstFailure(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)

	alice, placed := &customer{Name: `alice`}, &order{Number: 1}
	g.Expect(session.AddObject(`Customers`, alice)).To(Succeed())
	g.Expect(session.AddObject(`Orders`, placed)).To(Succeed())
	a, o := descriptorOf(t, session, alice), descriptorOf(t, session, placed)

	rejected := errors.New(`conflict`)
	writer := newFakeWriter()
	writer.failures[a.Key()] = rejected

	result, err := session.SaveChanges(context.Background(), writer, NewSaveOptions())
	g.Expect(err).To(MatchError(rejected))
	g.Expect(result.Err()).To(MatchError(rejected))
	g.Expect(writer.written).To(Equal([]Descriptor{a}))
	g.Expect(a.State()).To(Equal(Added))
	g.Expect(o.State()).To(Equal(Added))
	g.Expect(a.SaveError()).To(MatchError(rejected))
	g.Expect(a.saveResultProcessed).To(BeTrue())
	g.Expect(o.SaveError()).NotTo(HaveOccurred())
	g.Expect(o.contentGenerated).To(BeFalse())

	//The next cycle starts from a clean slate.
	_, err = session.SaveChanges(context.Background(), newFakeWriter(), nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.SaveError()).NotTo(HaveOccurred())
	g.Expect(a.State()).To(Equal(Unchanged))
	g.Expect(o.State()).To(Equal(Unchanged))
}

func TestSaveSequentialContinueOnError(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)

	alice, placed := &customer{Name: `alice`}, &order{Number: 1}
	g.Expect(session.AddObject(`Customers`, alice)).To(Succeed())
	g.Expect(session.AddObject(`Orders`, placed)).To(Succeed())
	a, o := descriptorOf(t, session, alice), descriptorOf(t, session, placed)

	rejected := errors.New(`conflict`)
	writer := newFakeWriter()
	writer.failures[a.Key()] = rejected

	result, err := session.SaveChanges(context.Background(), writer, &SaveOptions{Mode: SaveSequential, ContinueOnError: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Err()).To(MatchError(rejected))
	g.Expect(writer.written).To(HaveLen(2))
	g.Expect(a.State()).To(Equal(Added))
	g.Expect(o.State()).To(Equal(Unchanged))
}

func TestSaveDetachesDeletedEntities(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)

	alice, placed := &customer{Name: `alice`}, &order{Number: 1}
	attach(t, session, `Customers`, `1`, alice)
	attach(t, session, `Orders`, `1`, placed)
	g.Expect(session.Tracker().AttachLink(placed, `Customer`, alice, OverwriteChanges)).To(Succeed())
	g.Expect(session.DeleteObject(alice)).To(Succeed())

	_, err := session.SaveChanges(context.Background(), newFakeWriter(), nil)
	g.Expect(err).NotTo(HaveOccurred())

	_, _, ok := session.Tracker().TryGetEntity(identityOf(`Customers`, `1`))
	g.Expect(ok).To(BeFalse())
	g.Expect(session.Entities()).To(HaveLen(1))
	g.Expect(session.Links()).To(BeEmpty())
}

func TestSaveReleasesStreams(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)

	alice := &customer{Name: `alice`}
	descriptor := attach(t, session, `Customers`, `1`, alice)
	stream := &closeRecorder{}
	g.Expect(session.SetSaveStream(alice, stream, true, `image/png`)).To(Succeed())
	g.Expect(descriptor.State()).To(Equal(Modified))
	g.Expect(descriptor.HasSaveStream()).To(BeTrue())

	_, err := session.SaveChanges(context.Background(), newFakeWriter(), nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(stream.closed).To(Equal(1))
	g.Expect(descriptor.HasSaveStream()).To(BeFalse())
	g.Expect(descriptor.State()).To(Equal(Unchanged))
}

func TestSaveStopsOnCancelledContext(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)
	g.Expect(session.AddObject(`Customers`, &customer{Name: `alice`})).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer := newFakeWriter()

	_, err := session.SaveChanges(ctx, writer, nil)
	g.Expect(err).To(MatchError(context.Canceled))
	g.Expect(writer.written).To(BeEmpty())
}

func TestSaveDeepInsert(t *testing.T) {
	g := NewWithT(t)
	journal := &fakeJournal{}
	session := newJournaledSession(t, journal)

	root, child := &customer{Name: `alice`}, &order{Number: 1}
	g.Expect(session.AddObject(`Customers`, root)).To(Succeed())
	g.Expect(session.AddRelatedObject(root, `Orders`, child)).To(Succeed())
	r, c := descriptorOf(t, session, root), descriptorOf(t, session, child)
	g.Expect(c.IsDeepInsert()).To(BeTrue())

	writer := newFakeWriter()
	writer.identities[r.Key()] = identityOf(`Customers`, `1`)
	writer.identities[c.Key()] = identityOf(`Orders`, `1`)

	result, err := session.SaveChanges(context.Background(), writer, &SaveOptions{Mode: SaveDeepInsert, Roots: []any{root}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Graph).NotTo(BeNil())
	g.Expect(journal.graphs).To(Equal([]*ChangeGraph{result.Graph}))
	g.Expect(writer.graphs).To(Equal([]*ChangeGraph{result.Graph}))
	g.Expect(result.Responses).To(HaveLen(2))

	g.Expect(r.State()).To(Equal(Unchanged))
	g.Expect(c.State()).To(Equal(Unchanged))
	g.Expect(c.IsDeepInsert()).To(BeFalse())
	g.Expect(c.ParentPropertyForInsert).To(BeEmpty())
	g.Expect(c.Identity).To(Equal(identityOf(`Orders`, `1`)))
}

func TestSaveBulkUpdate(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)

	alice := &customer{Name: `alice`}
	descriptor := attach(t, session, `Customers`, `1`, alice)
	g.Expect(session.UpdateObject(alice, `Name`)).To(Succeed())

	result, err := session.SaveChanges(context.Background(), newFakeWriter(), &SaveOptions{Mode: SaveBulkUpdate, Roots: []any{alice}})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Graph.EntitySetName).To(Equal(`Customers`))
	g.Expect(descriptor.State()).To(Equal(Unchanged))
	g.Expect(descriptor.PendingProperties()).To(BeEmpty())
}

func TestSaveGraphFailures(t *testing.T) {
	t.Run("journal", func(t *testing.T) {
		g := NewWithT(t)
		unavailable := errors.New(`journal unavailable`)
		session := newJournaledSession(t, &fakeJournal{err: unavailable})
		root := &customer{Name: `alice`}
		g.Expect(session.AddObject(`Customers`, root)).To(Succeed())
		writer := newFakeWriter()

		_, err := session.SaveChanges(context.Background(), writer, &SaveOptions{Mode: SaveDeepInsert, Roots: []any{root}})
		g.Expect(err).To(MatchError(unavailable))
		g.Expect(writer.graphs).To(BeEmpty())
		g.Expect(descriptorOf(t, session, root).State()).To(Equal(Added))
	})

	t.Run("writer", func(t *testing.T) {
		g := NewWithT(t)
		session := newTestSession(t, AppendOnly)
		root := &customer{Name: `alice`}
		g.Expect(session.AddObject(`Customers`, root)).To(Succeed())
		writer := newFakeWriter()
		writer.graphErr = errors.New(`bad request`)

		result, err := session.SaveChanges(context.Background(), writer, &SaveOptions{Mode: SaveDeepInsert, Roots: []any{root}})
		g.Expect(err).To(MatchError(writer.graphErr))
		g.Expect(result.Graph).NotTo(BeNil())
		descriptor := descriptorOf(t, session, root)
		g.Expect(descriptor.State()).To(Equal(Added))
		g.Expect(descriptor.SaveError()).To(MatchError(writer.graphErr))
	})

	t.Run("graph", func(t *testing.T) {
		g := NewWithT(t)
		session := newTestSession(t, AppendOnly)
		alice, bob := &customer{Name: `alice`}, &customer{Name: `bob`}
		g.Expect(session.AddObject(`Customers`, alice)).To(Succeed())
		g.Expect(session.AddObject(`Customers`, bob)).To(Succeed())

		_, err := session.SaveChanges(context.Background(), newFakeWriter(), &SaveOptions{Mode: SaveDeepInsert, Roots: []any{alice, bob}})
		g.Expect(err).To(MatchError(ErrTooManyRoots))
	})

	t.Run("mode", func(t *testing.T) {
		g := NewWithT(t)
		session := newTestSession(t, AppendOnly)

		_, err := session.SaveChanges(context.Background(), newFakeWriter(), &SaveOptions{Mode: SaveChangesOptions(9)})
		g.Expect(err).To(HaveOccurred())
	})
}
