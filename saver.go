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
	"fmt"

	"github.com/go-logr/logr"
)

//OperationResponse is the outcome of the request written for one descriptor.
type OperationResponse struct {
	Descriptor Descriptor
	StatusCode int
	//Err is set when the service rejected the operation.
	Err error

	//Server metadata returned for inserted or updated entities.
	Identity string
	EditLink string
	ETag     string
}

//RequestWriter turns descriptors into wire requests and sends them. It is
//implemented by the serialization and transport layers.
type RequestWriter interface {
	WriteDescriptor(ctx context.Context, descriptor Descriptor) (*OperationResponse, error)
	//WriteChangeGraph writes one nested request and returns a response per member of the graph.
	WriteChangeGraph(ctx context.Context, graph *ChangeGraph) ([]*OperationResponse, error)
}

//ChangeJournal records change graphs before they are sent.
type ChangeJournal interface {
	Record(ctx context.Context, graph *ChangeGraph) error
}

type SaveResult struct {
	Graph     *ChangeGraph
	Responses []*OperationResponse
}

//Err joins the errors of every failed operation.
func (r *SaveResult) Err() error {
	var errs []error
	for _, response := range r.Responses {
		if response.Err != nil {
			errs = append(errs, response.Err)
		}
	}
	return errors.Join(errs...)
}

type saver struct {
	tracker    *entityTracker
	pathParser PathParser
	journal    ChangeJournal
	log        logr.Logger
}

func newSaver(tracker *entityTracker, pathParser PathParser, journal ChangeJournal, log logr.Logger) *saver {
	return &saver{tracker, pathParser, journal, log}
}

func (s *saver) save(ctx context.Context, writer RequestWriter, saveOptions *SaveOptions) (*SaveResult, error) {
	var (
		result    = &SaveResult{}
		processed []Descriptor
		err       error
	)

	if saveOptions == nil {
		saveOptions = NewSaveOptions()
	}
	s.tracker.resetAttempts()

	//Streams and transient metadata are released whatever the outcome.
	defer func() {
		for _, descriptor := range processed {
			descriptor.ClearChanges()
		}
	}()

	switch saveOptions.Mode {
	case SaveSequential:
		for _, descriptor := range s.tracker.PendingDescriptors() {
			if err = ctx.Err(); err != nil {
				break
			}
			descriptor.base().contentGenerated = true
			processed = append(processed, descriptor)

			var response *OperationResponse
			if response, err = writer.WriteDescriptor(ctx, descriptor); err != nil {
				response = &OperationResponse{Descriptor: descriptor, Err: err}
			}
			s.process(response)
			result.Responses = append(result.Responses, response)
			if response.Err != nil && !saveOptions.ContinueOnError {
				break
			}
			err = nil
		}
	case SaveDeepInsert, SaveBulkUpdate:
		mode := bulkUpdateGraph
		if saveOptions.Mode == SaveDeepInsert {
			mode = deepInsertGraph
		}
		if result.Graph, err = newGraphBuilder(s.tracker, s.pathParser, mode, s.log).build(saveOptions.Roots...); err != nil {
			return nil, err
		}
		if s.journal != nil {
			if err = s.journal.Record(ctx, result.Graph); err != nil {
				return nil, fmt.Errorf("journal change graph: %w", err)
			}
		}
		if processed, err = result.Graph.Order(); err != nil {
			return nil, err
		}
		for _, descriptor := range processed {
			descriptor.base().contentGenerated = true
		}
		var responses []*OperationResponse
		if responses, err = writer.WriteChangeGraph(ctx, result.Graph); err != nil {
			for _, descriptor := range processed {
				descriptor.base().saveError = err
			}
			return result, err
		}
		for _, response := range responses {
			s.process(response)
		}
		result.Responses = responses
	default:
		return nil, fmt.Errorf("unknown save mode %d", int(saveOptions.Mode))
	}

	s.log.V(1).Info("saved changes", "mode", saveOptions.Mode.String(), "operations", len(result.Responses), "failed", result.Err() != nil)
	return result, err
}

//process commits a successful operation into the tracker or records its error.
func (s *saver) process(response *OperationResponse) {
	descriptor := response.Descriptor
	if descriptor == nil {
		return
	}
	descriptor.base().saveResultProcessed = true
	if response.Err != nil {
		descriptor.base().saveError = response.Err
		return
	}
	if err := s.commit(response); err != nil {
		response.Err = err
		descriptor.base().saveError = err
	}
}

func (s *saver) commit(response *OperationResponse) error {
	switch d := response.Descriptor.(type) {
	case *EntityDescriptor:
		switch d.state {
		case Added:
			if response.Identity != emptyString {
				from := NewEntityDescriptor(d.entity)
				from.Identity = response.Identity
				from.EditLink = response.EditLink
				from.ETag = response.ETag
				if err := s.tracker.AttachIdentity(from, OverwriteChanges); err != nil {
					return err
				}
			}
			d.ParentKey = noKey
			d.ParentPropertyForInsert = emptyString
			return s.unchanged(d)
		case Modified:
			if response.ETag != emptyString {
				d.ETag = response.ETag
			}
			return s.unchanged(d)
		case Deleted:
			s.tracker.detachEntity(d)
		}
	case *LinkDescriptor:
		switch d.state {
		case Added, Modified:
			return s.unchanged(d)
		case Deleted:
			return s.tracker.DetachExistingLink(d, true)
		}
	case *StreamDescriptor:
		return s.unchanged(d)
	}
	return nil
}

func (s *saver) unchanged(descriptor Descriptor) error {
	if entity, ok := descriptor.(*EntityDescriptor); ok {
		clear(entity.pendingProperties)
	}
	return descriptor.base().setState(Unchanged)
}
