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

	"github.com/go-logr/logr"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/oklog/ulid/v2"
)

type transactionExecuter func(work neo4j.TransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)

//cypherRunner runs one write statement.
type cypherRunner interface {
	run(cql string, params map[string]any) error
}

type cypherExecuter struct {
	driver neo4j.Driver
}

func newCypherExecuter(driver neo4j.Driver) *cypherExecuter {
	return &cypherExecuter{driver}
}

//Runs cql inside the managed transaction of te and drains the result.
func execTransaction(te transactionExecuter, cql string, params map[string]any) error {
	_, err := te(func(tx neo4j.Transaction) (any, error) {
		result, err := tx.Run(cql, params)
		if err != nil {
			return nil, err
		}
		return result.Consume()
	})
	return err
}

func (c *cypherExecuter) run(cql string, params map[string]any) error {
	session := c.driver.NewSession(neo4j.SessionConfig{
		AccessMode: neo4j.AccessModeWrite,
	})
	if err := execTransaction(session.WriteTransaction, cql, params); err != nil {
		session.Close()
		return err
	}
	return session.Close()
}

type neo4jJournal struct {
	runner cypherRunner
	log    logr.Logger
}

//NewNeo4jJournal returns a ChangeJournal writing every change graph to Neo4j as
//a SaveOperation node linked to one Descriptor node per member.
func NewNeo4jJournal(driver neo4j.Driver, log logr.Logger) ChangeJournal {
	return &neo4jJournal{newCypherExecuter(driver), log}
}

func (j *neo4jJournal) Record(ctx context.Context, graph *ChangeGraph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	saveID := ulid.Make().String()
	cql, params, err := newJournalCypherBuilder(graph, saveID).getCreate()
	if err != nil {
		return err
	}
	if err = j.runner.run(cql, params); err != nil {
		return err
	}
	j.log.V(1).Info("journaled change graph", "saveId", saveID, "members", graph.Len())
	return nil
}
