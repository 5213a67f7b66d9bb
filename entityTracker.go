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
	"reflect"
	"sort"
)

//EntityTracker is the identity map of a session. Every mutation of tracked
//state goes through AttachEntityDescriptor, AttachLink and DetachExistingLink,
//which is where duplicate identities are adjudicated.
type EntityTracker interface {
	//TryGetEntity returns the object tracked under identity and its state.
	TryGetEntity(identity string) (any, EntityStates, bool)
	//GetLinks returns the tracked links of (source, sourceProperty) whatever their target.
	GetLinks(source any, sourceProperty string) []*LinkDescriptor
	//AttachEntityDescriptor returns the descriptor already tracked under the
	//candidate's identity, or tracks and returns the candidate.
	AttachEntityDescriptor(candidate *EntityDescriptor, failIfDuplicated bool) (*EntityDescriptor, error)
	GetEntityDescriptor(entity any) (*EntityDescriptor, error)
	TryGetEntityDescriptor(entity any) (*EntityDescriptor, bool)
	DetachExistingLink(link *LinkDescriptor, targetIsBeingDeleted bool) error
	AttachLink(source any, sourceProperty string, target any, mergeOption MergeOption) error
	AttachIdentity(descriptor *EntityDescriptor, mergeOption MergeOption) error

	Descriptor(key DescriptorKey) (Descriptor, bool)
	//Entity resolves an entity key to the tracked object.
	Entity(key DescriptorKey) (any, bool)
	Entities() []*EntityDescriptor
	Links() []*LinkDescriptor
	//PendingDescriptors returns every entity and link that is not Unchanged, in change order.
	PendingDescriptors() []Descriptor
}

type linkKey struct {
	source   DescriptorKey
	property string
	target   DescriptorKey
}

type entityTracker struct {
	model Model

	descriptors map[DescriptorKey]Descriptor
	byObject    map[any]*EntityDescriptor
	byIdentity  map[string]*EntityDescriptor
	links       map[linkKey]*LinkDescriptor

	nextChange uint32
}

func newEntityTracker(model Model) *entityTracker {
	return &entityTracker{
		model:       model,
		descriptors: map[DescriptorKey]Descriptor{},
		byObject:    map[any]*EntityDescriptor{},
		byIdentity:  map[string]*EntityDescriptor{},
		links:       map[linkKey]*LinkDescriptor{},
	}
}

func (t *entityTracker) TryGetEntity(identity string) (any, EntityStates, bool) {
	if descriptor, ok := t.byIdentity[identity]; ok {
		return descriptor.entity, descriptor.state, true
	}
	return nil, Detached, false
}

func (t *entityTracker) GetLinks(source any, sourceProperty string) []*LinkDescriptor {
	sourceDescriptor, ok := t.byObject[source]
	if !ok {
		return nil
	}
	var links []*LinkDescriptor
	for _, link := range t.links {
		if link.source == sourceDescriptor.key && link.sourceProperty == sourceProperty {
			links = append(links, link)
		}
	}
	sortLinks(links)
	return links
}

func (t *entityTracker) AttachEntityDescriptor(candidate *EntityDescriptor, failIfDuplicated bool) (*EntityDescriptor, error) {
	if candidate.Identity == emptyString {
		return nil, fmt.Errorf("attach %s: %w", candidate.key, ErrMissingIdentity)
	}
	if existing, ok := t.byIdentity[candidate.Identity]; ok {
		if failIfDuplicated {
			return nil, fmt.Errorf("attach %s: %w", candidate.Identity, ErrDuplicateIdentity)
		}
		return existing, nil
	}
	if existing, ok := t.byObject[candidate.entity]; ok && existing != candidate {
		return nil, fmt.Errorf("attach %s: object already tracked as %s: %w", candidate.Identity, existing.key, ErrDuplicateIdentity)
	}
	t.track(candidate)
	t.byIdentity[candidate.Identity] = candidate
	return candidate, nil
}

func (t *entityTracker) GetEntityDescriptor(entity any) (*EntityDescriptor, error) {
	if descriptor, ok := t.TryGetEntityDescriptor(entity); ok {
		return descriptor, nil
	}
	return nil, fmt.Errorf("%T: %w", entity, ErrNotTracked)
}

func (t *entityTracker) TryGetEntityDescriptor(entity any) (*EntityDescriptor, bool) {
	if entity == nil {
		return nil, false
	}
	descriptor, ok := t.byObject[entity]
	return descriptor, ok
}

func (t *entityTracker) DetachExistingLink(link *LinkDescriptor, targetIsBeingDeleted bool) error {
	if !targetIsBeingDeleted && childResourceBlocks(t, link) {
		return fmt.Errorf("detach %s.%s: %w", link.source, link.sourceProperty, ErrChildResourceExists)
	}
	key := linkKey{link.source, link.sourceProperty, link.target}
	if tracked, ok := t.links[key]; ok {
		delete(t.links, key)
		delete(t.descriptors, tracked.key)
		tracked.state = Detached
		link.state = Detached
	}
	return nil
}

func (t *entityTracker) AttachLink(source any, sourceProperty string, target any, mergeOption MergeOption) error {
	var (
		sourceDescriptor, targetDescriptor *EntityDescriptor
		targetKey                          = noKey
		err                                error
	)
	if sourceDescriptor, err = t.GetEntityDescriptor(source); err != nil {
		return err
	}
	if target != nil {
		if targetDescriptor, err = t.GetEntityDescriptor(target); err != nil {
			return err
		}
		targetKey = targetDescriptor.key
	}

	if existing, ok := t.links[linkKey{sourceDescriptor.key, sourceProperty, targetKey}]; ok {
		if mergeOption == NoTracking {
			return fmt.Errorf("attach link %s.%s: relationship is already tracked", sourceDescriptor.key, sourceProperty)
		}
		existing.state = reattachedState(existing.state, existing.HasTarget(), mergeOption)
		return nil
	}

	if !t.model.IsEntityCollection(source, sourceProperty) {
		for _, current := range t.GetLinks(source, sourceProperty) {
			if keepsReference(current.state, mergeOption) {
				return nil
			}
			if err = t.DetachExistingLink(current, false); err != nil {
				return err
			}
		}
	}

	link := newLinkDescriptor(sourceDescriptor.key, sourceProperty, targetKey, t.model.IsEntityCollection(source, sourceProperty), Unchanged)
	t.addLink(link)
	t.incrementChange(link)
	return nil
}

func (t *entityTracker) AttachIdentity(descriptor *EntityDescriptor, mergeOption MergeOption) error {
	if descriptor.Identity == emptyString {
		return fmt.Errorf("attach identity %s: %w", descriptor.key, ErrMissingIdentity)
	}
	tracked, err := t.GetEntityDescriptor(descriptor.entity)
	if err != nil {
		return err
	}
	if existing, ok := t.byIdentity[descriptor.Identity]; ok && existing != tracked {
		return fmt.Errorf("attach identity %s: %w", descriptor.Identity, ErrDuplicateIdentity)
	}
	if tracked.Identity != emptyString {
		delete(t.byIdentity, tracked.Identity)
	}
	tracked.merge(descriptor, true, mergeOption)
	tracked.Identity = descriptor.Identity
	//Pending until the pass that revealed the identity is applied.
	tracked.state = Modified
	clear(tracked.pendingProperties)
	t.byIdentity[tracked.Identity] = tracked
	return nil
}

func (t *entityTracker) Descriptor(key DescriptorKey) (Descriptor, bool) {
	descriptor, ok := t.descriptors[key]
	return descriptor, ok
}

func (t *entityTracker) Entity(key DescriptorKey) (any, bool) {
	if descriptor, ok := t.descriptors[key].(*EntityDescriptor); ok {
		return descriptor.entity, true
	}
	return nil, false
}

func (t *entityTracker) Entities() []*EntityDescriptor {
	entities := make([]*EntityDescriptor, 0, len(t.byObject))
	for _, descriptor := range t.byObject {
		entities = append(entities, descriptor)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].key < entities[j].key })
	return entities
}

func (t *entityTracker) Links() []*LinkDescriptor {
	links := make([]*LinkDescriptor, 0, len(t.links))
	for _, link := range t.links {
		links = append(links, link)
	}
	sortLinks(links)
	return links
}

func (t *entityTracker) PendingDescriptors() []Descriptor {
	var pending []Descriptor
	for _, descriptor := range t.descriptors {
		if descriptor.Kind() != StreamKind && descriptor.State() != Unchanged {
			pending = append(pending, descriptor)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].ChangeOrder() != pending[j].ChangeOrder() {
			return pending[i].ChangeOrder() < pending[j].ChangeOrder()
		}
		return pending[i].Key() < pending[j].Key()
	})
	return pending
}

//track registers an entity descriptor in the arena without an identity.
func (t *entityTracker) track(descriptor *EntityDescriptor) {
	t.descriptors[descriptor.key] = descriptor
	t.byObject[descriptor.entity] = descriptor
}

func (t *entityTracker) addLink(link *LinkDescriptor) {
	t.links[linkKey{link.source, link.sourceProperty, link.target}] = link
	t.descriptors[link.key] = link
}

func (t *entityTracker) findLink(source DescriptorKey, sourceProperty string, target DescriptorKey) (*LinkDescriptor, bool) {
	link, ok := t.links[linkKey{source, sourceProperty, target}]
	return link, ok
}

//detachEntity removes descriptor and every link touching it.
func (t *entityTracker) detachEntity(descriptor *EntityDescriptor) {
	for key, link := range t.links {
		if link.source == descriptor.key || link.target == descriptor.key {
			delete(t.links, key)
			delete(t.descriptors, link.key)
			link.state = Detached
		}
	}
	delete(t.descriptors, descriptor.key)
	delete(t.byObject, descriptor.entity)
	if descriptor.Identity != emptyString && t.byIdentity[descriptor.Identity] == descriptor {
		delete(t.byIdentity, descriptor.Identity)
	}
	descriptor.state = Detached
}

//resetAttempts forgets the outcome of the previous save cycle.
func (t *entityTracker) resetAttempts() {
	for _, descriptor := range t.descriptors {
		descriptor.base().resetAttempt()
		if entity, ok := descriptor.(*EntityDescriptor); ok {
			for _, stream := range entity.streams {
				stream.resetAttempt()
			}
		}
	}
}

func (t *entityTracker) incrementChange(descriptor Descriptor) {
	t.nextChange++
	descriptor.base().changeOrder = t.nextChange
}

//reattachedState is the state of a tracked link that a response reports again.
func reattachedState(state EntityStates, hasTarget bool, mergeOption MergeOption) EntityStates {
	switch mergeOption {
	case OverwriteChanges:
		return Unchanged
	case PreserveChanges:
		if state == Added || state == Unchanged || (state == Modified && hasTarget) {
			return Unchanged
		}
	}
	return state
}

//keepsReference reports whether a to-one link in state survives a response
//pointing the reference elsewhere.
func keepsReference(state EntityStates, mergeOption MergeOption) bool {
	return mergeOption == AppendOnly || (mergeOption == PreserveChanges && state == Modified)
}

func sortLinks(links []*LinkDescriptor) {
	sort.Slice(links, func(i, j int) bool { return links[i].key < links[j].key })
}

//childResourceBlocks reports whether link points at an entity that was added
//as a deep insert child of the link source while that source is still live.
func childResourceBlocks(tracker EntityTracker, link *LinkDescriptor) bool {
	if !link.HasTarget() {
		return false
	}
	descriptor, ok := tracker.Descriptor(link.target)
	if !ok {
		return false
	}
	target, ok := descriptor.(*EntityDescriptor)
	if !ok || target.ParentKey != link.source {
		return false
	}
	parent, ok := tracker.Descriptor(target.ParentKey)
	return ok && parent.State() != Deleted && parent.State() != Detached
}

//isEntity reports whether value can be tracked: a non-nil pointer to an entity
//type of the model. Pointers keep object identity stable as a map key.
func isEntity(model Model, value any) bool {
	if value == nil {
		return false
	}
	if v := reflect.ValueOf(value); v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	return model.IsEntityType(value)
}
