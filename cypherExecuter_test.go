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
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/gomega"
)

func TestNeo4jJournalRecord(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)
	root := &customer{Name: `alice`}
	g.Expect(session.AddObject(`Customers`, root)).To(Succeed())
	graph, err := session.BuildDeepInsertGraph(root)
	g.Expect(err).NotTo(HaveOccurred())

	runner := &fakeRunner{}
	journal := &neo4jJournal{runner: runner, log: testr.New(t)}
	g.Expect(journal.Record(context.Background(), graph)).To(Succeed())

	g.Expect(runner.runs).To(HaveLen(1))
	g.Expect(runner.runs[0].cql).To(HavePrefix(`CREATE (s:SaveOperation`))
	saveID, ok := runner.runs[0].params[`saveId`].(string)
	g.Expect(ok).To(BeTrue())
	_, err = ulid.ParseStrict(saveID)
	g.Expect(err).NotTo(HaveOccurred())
}

func TestNeo4jJournalRecordFailures(t *testing.T) {
	g := NewWithT(t)
	session := newTestSession(t, AppendOnly)
	root := &customer{Name: `alice`}
	g.Expect(session.AddObject(`Customers`, root)).To(Succeed())
	graph, err := session.BuildDeepInsertGraph(root)
	g.Expect(err).NotTo(HaveOccurred())

	unavailable := errors.New(`connection refused`)
	journal := &neo4jJournal{runner: &fakeRunner{err: unavailable}, log: testr.New(t)}
	g.Expect(journal.Record(context.Background(), graph)).To(MatchError(unavailable))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	journal = &neo4jJournal{runner: runner, log: testr.New(t)}
	g.Expect(journal.Record(ctx, graph)).To(MatchError(context.Canceled))
	g.Expect(runner.runs).To(BeEmpty())
}
