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
	"io"

	"github.com/go-logr/logr"
)

//Session is one client context: it owns the tracker and is the entry point
//for local mutation, materialization and saving. A session is not safe for
//concurrent use; callers serialize saves and materialization passes.
type Session struct {
	model      Model
	config     *Config
	tracker    *entityTracker
	pathParser PathParser
	saver      *saver
	log        logr.Logger
}

func NewSession(model Model, config *Config) (*Session, error) {
	if model == nil {
		return nil, errors.New("session needs a model")
	}
	if config == nil {
		config = NewConfig()
	}
	pathParser := config.PathParser
	if pathParser == nil && config.ServiceRoot != emptyString {
		var err error
		if pathParser, err = NewPathParser(config.ServiceRoot); err != nil {
			return nil, err
		}
	}
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	tracker := newEntityTracker(model)
	return &Session{
		model:      model,
		config:     config,
		tracker:    tracker,
		pathParser: pathParser,
		saver:      newSaver(tracker, pathParser, config.Journal, log),
		log:        log,
	}, nil
}

func (s *Session) Tracker() EntityTracker { return s.tracker }

func (s *Session) Entities() []*EntityDescriptor { return s.tracker.Entities() }

func (s *Session) Links() []*LinkDescriptor { return s.tracker.Links() }

func (s *Session) GetEntityDescriptor(entity any) (*EntityDescriptor, error) {
	return s.tracker.GetEntityDescriptor(entity)
}

//AddObject tracks a new entity to be inserted into entitySetName.
func (s *Session) AddObject(entitySetName string, entity any) error {
	descriptor, err := s.newTracked(entity, Added)
	if err != nil {
		return err
	}
	descriptor.EntitySetName = entitySetName
	return nil
}

//AddRelatedObject tracks target as a new entity inserted through sourceProperty of source.
func (s *Session) AddRelatedObject(source any, sourceProperty string, target any) error {
	parent, err := s.tracker.GetEntityDescriptor(source)
	if err != nil {
		return err
	}
	if parent.state == Deleted {
		return fmt.Errorf("add related object to deleted %s: %w", parent.key, ErrInvalidState)
	}
	descriptor, err := s.newTracked(target, Added)
	if err != nil {
		return err
	}
	descriptor.ParentKey = parent.key
	descriptor.ParentPropertyForInsert = sourceProperty
	return nil
}

//AttachTo tracks an entity that already exists on the service.
func (s *Session) AttachTo(entitySetName string, identity string, etag string, entity any) error {
	if !isEntity(s.model, entity) {
		return fmt.Errorf("attach %T: %w", entity, ErrNotEntity)
	}
	descriptor := NewEntityDescriptor(entity)
	descriptor.EntitySetName = entitySetName
	descriptor.Identity = identity
	descriptor.EditLink = identity
	descriptor.ETag = etag
	_, err := s.tracker.AttachEntityDescriptor(descriptor, true)
	return err
}

//UpdateObject marks a tracked entity as modified. Properties, when given, limit
//what the next update sends.
func (s *Session) UpdateObject(entity any, properties ...string) error {
	descriptor, err := s.tracker.GetEntityDescriptor(entity)
	if err != nil {
		return err
	}
	switch descriptor.state {
	case Deleted:
		return fmt.Errorf("update deleted %s: %w", descriptor.key, ErrInvalidState)
	case Unchanged:
		descriptor.state = Modified
		s.tracker.incrementChange(descriptor)
	}
	for _, property := range properties {
		descriptor.MarkPropertyChanged(property)
	}
	return nil
}

//DeleteObject marks a tracked entity for deletion. An entity that was never
//saved is simply detached, together with the objects added below it through
//AddRelatedObject.
func (s *Session) DeleteObject(entity any) error {
	descriptor, err := s.tracker.GetEntityDescriptor(entity)
	if err != nil {
		return err
	}
	switch descriptor.state {
	case Added:
		s.detachAdded(descriptor)
	case Unchanged, Modified:
		descriptor.state = Deleted
		s.tracker.incrementChange(descriptor)
	}
	return nil
}

//AddLink adds target to the collection property of source.
func (s *Session) AddLink(source any, sourceProperty string, target any) error {
	sourceDescriptor, targetDescriptor, err := s.linkEnds(source, target)
	if err != nil {
		return err
	}
	if !s.model.IsEntityCollection(source, sourceProperty) {
		return fmt.Errorf("add link %s: not a collection property, use SetLink", sourceProperty)
	}
	if existing, ok := s.tracker.findLink(sourceDescriptor.key, sourceProperty, targetDescriptor.key); ok {
		if existing.state != Deleted {
			return fmt.Errorf("add link %s: relationship is already tracked", sourceProperty)
		}
		existing.state = Unchanged
		s.tracker.incrementChange(existing)
		return nil
	}
	link := newLinkDescriptor(sourceDescriptor.key, sourceProperty, targetDescriptor.key, true, Added)
	s.tracker.addLink(link)
	s.tracker.incrementChange(link)
	return nil
}

//DeleteLink removes target from the collection property of source.
func (s *Session) DeleteLink(source any, sourceProperty string, target any) error {
	sourceDescriptor, targetDescriptor, err := s.linkEnds(source, target)
	if err != nil {
		return err
	}
	if existing, ok := s.tracker.findLink(sourceDescriptor.key, sourceProperty, targetDescriptor.key); ok {
		if existing.state == Added {
			return s.tracker.DetachExistingLink(existing, false)
		}
		existing.state = Deleted
		s.tracker.incrementChange(existing)
		return nil
	}
	link := newLinkDescriptor(sourceDescriptor.key, sourceProperty, targetDescriptor.key, s.model.IsEntityCollection(source, sourceProperty), Deleted)
	s.tracker.addLink(link)
	s.tracker.incrementChange(link)
	return nil
}

//SetLink points the reference property of source at target. A nil target
//clears the reference.
func (s *Session) SetLink(source any, sourceProperty string, target any) error {
	sourceDescriptor, err := s.tracker.GetEntityDescriptor(source)
	if err != nil {
		return err
	}
	targetKey := noKey
	if target != nil {
		targetDescriptor, err := s.tracker.GetEntityDescriptor(target)
		if err != nil {
			return err
		}
		targetKey = targetDescriptor.key
	}
	if s.model.IsEntityCollection(source, sourceProperty) {
		return fmt.Errorf("set link %s: collection property, use AddLink", sourceProperty)
	}

	var link *LinkDescriptor
	for _, current := range s.tracker.GetLinks(source, sourceProperty) {
		if current.target == targetKey {
			link = current
			continue
		}
		if err = s.tracker.DetachExistingLink(current, false); err != nil {
			return err
		}
	}
	if link == nil {
		link = newLinkDescriptor(sourceDescriptor.key, sourceProperty, targetKey, false, Modified)
		s.tracker.addLink(link)
	}
	link.state = Modified
	s.tracker.incrementChange(link)
	return nil
}

//Detach stops tracking entity and every link touching it.
func (s *Session) Detach(entity any) bool {
	descriptor, ok := s.tracker.TryGetEntityDescriptor(entity)
	if ok {
		s.tracker.detachEntity(descriptor)
	}
	return ok
}

//SetSaveStream sets the stream sent as the media resource of entity on the
//next save. The stream is closed when the save attempt ends if closeStream is set.
func (s *Session) SetSaveStream(entity any, stream io.ReadCloser, closeStream bool, contentType string) error {
	descriptor, err := s.tracker.GetEntityDescriptor(entity)
	if err != nil {
		return err
	}
	descriptor.saveStream.release()
	descriptor.saveStream = &saveStream{stream: stream, close: closeStream, contentType: contentType}
	if descriptor.state == Unchanged {
		descriptor.state = Modified
		s.tracker.incrementChange(descriptor)
	}
	return nil
}

//NewMaterializerLog starts a log for one response. The same log is reused for
//every pass over that response so append-only entries carry across pages.
func (s *Session) NewMaterializerLog(mergeOption MergeOption) *MaterializerLog {
	return newMaterializerLog(s.tracker, s.model, mergeOption, s.log)
}

//MergeOption returns the configured default merge option.
func (s *Session) MergeOption() MergeOption { return s.config.MergeOption }

func (s *Session) BuildDeepInsertGraph(root any) (*ChangeGraph, error) {
	return newGraphBuilder(s.tracker, s.pathParser, deepInsertGraph, s.log).build(root)
}

func (s *Session) BuildBulkUpdateGraph(roots ...any) (*ChangeGraph, error) {
	return newGraphBuilder(s.tracker, s.pathParser, bulkUpdateGraph, s.log).build(roots...)
}

func (s *Session) SaveChanges(ctx context.Context, writer RequestWriter, saveOptions *SaveOptions) (*SaveResult, error) {
	return s.saver.save(ctx, writer, saveOptions)
}

func (s *Session) newTracked(entity any, state EntityStates) (*EntityDescriptor, error) {
	if !isEntity(s.model, entity) {
		return nil, fmt.Errorf("track %T: %w", entity, ErrNotEntity)
	}
	if existing, ok := s.tracker.TryGetEntityDescriptor(entity); ok {
		return nil, fmt.Errorf("track %T: object already tracked as %s: %w", entity, existing.key, ErrDuplicateIdentity)
	}
	descriptor := NewEntityDescriptor(entity)
	descriptor.state = state
	s.tracker.track(descriptor)
	s.tracker.incrementChange(descriptor)
	return descriptor, nil
}

func (s *Session) detachAdded(descriptor *EntityDescriptor) {
	s.tracker.detachEntity(descriptor)
	for _, child := range s.tracker.Entities() {
		if child.ParentKey == descriptor.key && child.state == Added {
			s.detachAdded(child)
		}
	}
}

func (s *Session) linkEnds(source any, target any) (*EntityDescriptor, *EntityDescriptor, error) {
	sourceDescriptor, err := s.tracker.GetEntityDescriptor(source)
	if err != nil {
		return nil, nil, err
	}
	targetDescriptor, err := s.tracker.GetEntityDescriptor(target)
	if err != nil {
		return nil, nil, err
	}
	return sourceDescriptor, targetDescriptor, nil
}
