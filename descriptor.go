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
	"fmt"
	"io"
	"sort"
)

//Descriptor is one tracked unit of change: an entity, a link or a named stream.
type Descriptor interface {
	Key() DescriptorKey
	Kind() DescriptorKind
	State() EntityStates
	IsModified() bool
	ChangeOrder() uint32
	SaveError() error
	//ClearChanges releases what a finished save cycle held on to. The outcome
	//of the cycle (SaveError) stays readable until the next cycle starts.
	ClearChanges()
	base() *descriptorBase
}

type descriptorBase struct {
	key                 DescriptorKey
	state               EntityStates
	changeOrder         uint32
	saveError           error
	contentGenerated    bool
	saveResultProcessed bool

	//Set by callers that nest the request in a larger batch. Recorded by the
	//change journal, otherwise opaque to the tracker.
	DependsOnIds          []string
	DependsOnChangeSetIds []string
	ChangeSetId           string
}

func newDescriptorBase(state EntityStates) descriptorBase {
	return descriptorBase{key: newDescriptorKey(), state: state, changeOrder: unassignedChangeOrder}
}

func (d *descriptorBase) Key() DescriptorKey   { return d.key }
func (d *descriptorBase) State() EntityStates  { return d.state }
func (d *descriptorBase) IsModified() bool     { return d.state != Unchanged }
func (d *descriptorBase) ChangeOrder() uint32  { return d.changeOrder }
func (d *descriptorBase) SaveError() error     { return d.saveError }
func (d *descriptorBase) base() *descriptorBase { return d }

func (d *descriptorBase) setState(state EntityStates) error {
	if !state.valid() {
		return fmt.Errorf("descriptor %s: state %d: %w", d.key, int(state), ErrInvalidState)
	}
	d.state = state
	return nil
}

func (d *descriptorBase) resetAttempt() {
	d.saveError = nil
	d.contentGenerated = false
	d.saveResultProcessed = false
}

//LinkInfo carries the server-declared navigation and association links of a property.
type LinkInfo struct {
	Name            string
	NavigationLink  string
	AssociationLink string
}

//OperationDescriptor describes an action or function the server advertised for an entity.
type OperationDescriptor struct {
	Title    string
	Metadata string
	Target   string
	IsAction bool
}

type saveStream struct {
	stream      io.ReadCloser
	close       bool
	contentType string
}

func (s *saveStream) release() {
	if s != nil && s.close && s.stream != nil {
		//The stream belongs to the attempt that is being cleared, a close
		//failure cannot be reported to anyone meaningful.
		_ = s.stream.Close()
	}
}

//StreamDescriptor tracks a named stream property of an entity.
type StreamDescriptor struct {
	descriptorBase
	entity      DescriptorKey
	Name        string
	SelfLink    string
	EditLink    string
	ContentType string
	ETag        string
	saveStream  *saveStream
}

func NewStreamDescriptor(name string) *StreamDescriptor {
	return &StreamDescriptor{descriptorBase: newDescriptorBase(Unchanged), Name: name}
}

func (s *StreamDescriptor) Kind() DescriptorKind { return StreamKind }

//Entity returns the key of the entity owning the stream.
func (s *StreamDescriptor) Entity() DescriptorKey { return s.entity }

func (s *StreamDescriptor) ClearChanges() {
	s.saveStream.release()
	s.saveStream = nil
}

func (s *StreamDescriptor) merge(from *StreamDescriptor) {
	if from.SelfLink != emptyString {
		s.SelfLink = from.SelfLink
	}
	if from.EditLink != emptyString {
		s.EditLink = from.EditLink
	}
	if from.ContentType != emptyString {
		s.ContentType = from.ContentType
	}
	if from.ETag != emptyString {
		s.ETag = from.ETag
	}
}

//EntityDescriptor tracks one entity instance. Its identity is the server
//assigned URI, or the object itself until the entity has been saved.
type EntityDescriptor struct {
	descriptorBase
	entity any

	Identity       string
	EditLink       string
	SelfLink       string
	ETag           string
	EntitySetName  string
	ServerTypeName string

	ReadStreamURI string
	EditStreamURI string
	StreamETag    string

	//Set for entities created as part of a deep insert subtree.
	ParentKey               DescriptorKey
	ParentPropertyForInsert string

	linkInfos         map[string]*LinkInfo
	streams           map[string]*StreamDescriptor
	operations        []*OperationDescriptor
	pendingProperties map[string]struct{}
	saveStream        *saveStream
	transient         *EntityDescriptor
}

//NewEntityDescriptor creates an untracked descriptor for entity. Materializers
//use it to describe what a response contained before the pass is applied.
func NewEntityDescriptor(entity any) *EntityDescriptor {
	return &EntityDescriptor{
		descriptorBase:    newDescriptorBase(Unchanged),
		entity:            entity,
		linkInfos:         map[string]*LinkInfo{},
		streams:           map[string]*StreamDescriptor{},
		pendingProperties: map[string]struct{}{},
	}
}

func (e *EntityDescriptor) Kind() DescriptorKind { return EntityKind }

func (e *EntityDescriptor) Entity() any { return e.entity }

func (e *EntityDescriptor) IsDeepInsert() bool { return e.ParentKey != noKey }

func (e *EntityDescriptor) ClearChanges() {
	e.transient = nil
	e.saveStream.release()
	e.saveStream = nil
}

func (e *EntityDescriptor) AddLinkInfo(linkInfo *LinkInfo) {
	e.linkInfos[linkInfo.Name] = linkInfo
}

func (e *EntityDescriptor) LinkInfo(name string) (*LinkInfo, bool) {
	linkInfo, ok := e.linkInfos[name]
	return linkInfo, ok
}

func (e *EntityDescriptor) LinkInfos() []*LinkInfo {
	linkInfos := make([]*LinkInfo, 0, len(e.linkInfos))
	for _, linkInfo := range e.linkInfos {
		linkInfos = append(linkInfos, linkInfo)
	}
	sort.Slice(linkInfos, func(i, j int) bool { return linkInfos[i].Name < linkInfos[j].Name })
	return linkInfos
}

func (e *EntityDescriptor) AddStreamDescriptor(stream *StreamDescriptor) {
	stream.entity = e.key
	e.streams[stream.Name] = stream
}

func (e *EntityDescriptor) StreamDescriptor(name string) (*StreamDescriptor, bool) {
	stream, ok := e.streams[name]
	return stream, ok
}

func (e *EntityDescriptor) StreamDescriptors() []*StreamDescriptor {
	streams := make([]*StreamDescriptor, 0, len(e.streams))
	for _, stream := range e.streams {
		streams = append(streams, stream)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].Name < streams[j].Name })
	return streams
}

func (e *EntityDescriptor) AddOperation(operation *OperationDescriptor) {
	e.operations = append(e.operations, operation)
}

func (e *EntityDescriptor) Operations() []*OperationDescriptor {
	return append([]*OperationDescriptor(nil), e.operations...)
}

//MarkPropertyChanged records a property to be sent on the next update.
func (e *EntityDescriptor) MarkPropertyChanged(name string) {
	e.pendingProperties[name] = struct{}{}
}

func (e *EntityDescriptor) PendingProperties() []string {
	properties := make([]string, 0, len(e.pendingProperties))
	for name := range e.pendingProperties {
		properties = append(properties, name)
	}
	sort.Strings(properties)
	return properties
}

//SetTransient stores server metadata received for an operation that is not committed yet.
func (e *EntityDescriptor) SetTransient(transient *EntityDescriptor) {
	e.transient = transient
}

func (e *EntityDescriptor) Transient() *EntityDescriptor { return e.transient }

func (e *EntityDescriptor) HasSaveStream() bool { return e.saveStream != nil }

//merge folds server metadata from a materialized descriptor into e. ETags are
//never taken under AppendOnly.
func (e *EntityDescriptor) merge(from *EntityDescriptor, mergeInfo bool, mergeOption MergeOption) {
	if e == from {
		return
	}
	if from.Identity != emptyString {
		e.Identity = from.Identity
	}
	if from.ETag != emptyString && mergeOption != AppendOnly {
		e.ETag = from.ETag
	}
	if mergeInfo {
		for name, linkInfo := range from.linkInfos {
			merged := *linkInfo
			if existing, ok := e.linkInfos[name]; ok {
				if merged.NavigationLink == emptyString {
					merged.NavigationLink = existing.NavigationLink
				}
				if merged.AssociationLink == emptyString {
					merged.AssociationLink = existing.AssociationLink
				}
			}
			e.linkInfos[name] = &merged
		}
		for name, stream := range from.streams {
			existing, ok := e.streams[name]
			if !ok {
				existing = NewStreamDescriptor(name)
				e.AddStreamDescriptor(existing)
			}
			existing.merge(stream)
		}
		e.operations = append([]*OperationDescriptor(nil), from.operations...)
		if from.ServerTypeName != emptyString {
			e.ServerTypeName = from.ServerTypeName
		}
	}
	if from.EditLink != emptyString {
		e.EditLink = from.EditLink
	}
	if from.SelfLink != emptyString {
		e.SelfLink = from.SelfLink
	}
	if from.ReadStreamURI != emptyString {
		e.ReadStreamURI = from.ReadStreamURI
	}
	if from.EditStreamURI != emptyString {
		e.EditStreamURI = from.EditStreamURI
	}
	if from.StreamETag != emptyString {
		e.StreamETag = from.StreamETag
	}
}

//LinkDescriptor is a directed relationship edge. A missing target is the
//explicit "set to null" edge of a reference property.
type LinkDescriptor struct {
	descriptorBase
	source                     DescriptorKey
	sourceProperty             string
	target                     DescriptorKey
	isSourcePropertyCollection bool
}

func newLinkDescriptor(source DescriptorKey, sourceProperty string, target DescriptorKey, isCollection bool, state EntityStates) *LinkDescriptor {
	return &LinkDescriptor{
		descriptorBase:             newDescriptorBase(state),
		source:                     source,
		sourceProperty:             sourceProperty,
		target:                     target,
		isSourcePropertyCollection: isCollection,
	}
}

func (l *LinkDescriptor) Kind() DescriptorKind             { return LinkKind }
func (l *LinkDescriptor) Source() DescriptorKey            { return l.source }
func (l *LinkDescriptor) SourceProperty() string           { return l.sourceProperty }
func (l *LinkDescriptor) Target() DescriptorKey            { return l.target }
func (l *LinkDescriptor) HasTarget() bool                  { return l.target != noKey }
func (l *LinkDescriptor) IsSourcePropertyCollection() bool { return l.isSourcePropertyCollection }

func (l *LinkDescriptor) ClearChanges() {}

//IsEquivalent reports whether the link describes the same relationship, ignoring state.
func (l *LinkDescriptor) IsEquivalent(source DescriptorKey, sourceProperty string, target DescriptorKey) bool {
	return l.source == source && l.sourceProperty == sourceProperty && l.target == target
}

const emptyString = ``
