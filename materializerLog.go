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
	"slices"

	"github.com/go-logr/logr"
)

//MaterializerEntry is one decoded payload item together with the identity
//metadata the response carried for it.
type MaterializerEntry struct {
	//Descriptor holds the identity and server metadata read from the payload.
	//Its entity is the resolved object.
	Descriptor              *EntityDescriptor
	IsTracking              bool
	CreatedByMaterializer   bool
	ShouldUpdateFromPayload bool
	ActualType              string
}

func NewMaterializerEntry(resolved any, identity string) *MaterializerEntry {
	descriptor := NewEntityDescriptor(resolved)
	descriptor.Identity = identity
	return &MaterializerEntry{Descriptor: descriptor, IsTracking: true}
}

func (e *MaterializerEntry) Identity() string    { return e.Descriptor.Identity }
func (e *MaterializerEntry) ResolvedObject() any { return e.Descriptor.entity }

type pendingLink struct {
	source   any
	property string
	target   any
	state    EntityStates
}

//MaterializerLog accumulates what one materialization pass discovered and
//folds it into the tracker in a single ApplyToContext call. A pass that is
//abandoned must end with Clear. The append-only cache outlives passes so later
//pages of the same response can reuse entities.
type MaterializerLog struct {
	tracker     EntityTracker
	model       Model
	mergeOption MergeOption
	log         logr.Logger

	identityStack       map[string]*MaterializerEntry
	identityOrder       []string
	appendOnlyEntries   map[string]*MaterializerEntry
	links               []pendingLink
	insertRefreshObject any
}

func newMaterializerLog(tracker EntityTracker, model Model, mergeOption MergeOption, log logr.Logger) *MaterializerLog {
	return &MaterializerLog{
		tracker:           tracker,
		model:             model,
		mergeOption:       mergeOption,
		log:               log.WithValues("mergeOption", mergeOption.String()),
		identityStack:     map[string]*MaterializerEntry{},
		appendOnlyEntries: map[string]*MaterializerEntry{},
	}
}

func (l *MaterializerLog) MergeOption() MergeOption { return l.mergeOption }

//Tracking is false under NoTracking, where every mutator is a no-op.
func (l *MaterializerLog) Tracking() bool { return l.mergeOption != NoTracking }

//FoundExistingInstance records an entity seen again within the pass so later
//references resolve to the same instance.
func (l *MaterializerLog) FoundExistingInstance(entry *MaterializerEntry) error {
	if ok, err := l.admit(entry, "found existing instance"); !ok {
		return err
	}
	l.push(entry)
	return nil
}

//CreatedInstance records a new entity built by the materializer.
func (l *MaterializerLog) CreatedInstance(entry *MaterializerEntry) error {
	if ok, err := l.admit(entry, "created instance"); !ok {
		return err
	}
	l.push(entry)
	if l.mergeOption == AppendOnly {
		l.appendOnlyEntries[entry.Identity()] = entry
	}
	return nil
}

//FoundTargetInstance records the entity refreshed by a directed insert or
//update. Its identity is registered with the tracker right away.
func (l *MaterializerLog) FoundTargetInstance(entry *MaterializerEntry) error {
	if ok, err := l.admit(entry, "found target instance"); !ok {
		return err
	}
	if err := l.tracker.AttachIdentity(entry.Descriptor, l.mergeOption); err != nil {
		return err
	}
	l.push(entry)
	l.insertRefreshObject = entry.ResolvedObject()
	return nil
}

//TryResolve looks the candidate's identity up in the current pass, then in the
//append-only cache. Cached entries are only valid while the tracked entity is
//Unchanged and are evicted otherwise.
func (l *MaterializerLog) TryResolve(candidate *MaterializerEntry) (*MaterializerEntry, bool) {
	identity := candidate.Identity()
	if existing, ok := l.identityStack[identity]; ok {
		return existing, true
	}
	if existing, ok := l.appendOnlyEntries[identity]; ok {
		if _, state, tracked := l.tracker.TryGetEntity(identity); tracked && state == Unchanged {
			return existing, true
		}
		delete(l.appendOnlyEntries, identity)
	}
	return nil, false
}

func (l *MaterializerLog) AddedLink(source *MaterializerEntry, property string, target any) {
	if l.linkable(source) && isEntity(l.model, target) {
		l.links = append(l.links, pendingLink{source.ResolvedObject(), property, target, Added})
	}
}

func (l *MaterializerLog) RemovedLink(source *MaterializerEntry, property string, target any) {
	if l.linkable(source) && isEntity(l.model, target) {
		l.links = append(l.links, pendingLink{source.ResolvedObject(), property, target, Detached})
	}
}

//SetLink records a reference property value. A nil target is recorded so an
//explicit null can be told apart from a property that was never read.
func (l *MaterializerLog) SetLink(source *MaterializerEntry, property string, target any) {
	if l.linkable(source) && (target == nil || isEntity(l.model, target)) {
		l.links = append(l.links, pendingLink{source.ResolvedObject(), property, target, Modified})
	}
}

//ApplyToContext merges the pass into the tracker. The pass is validated as a
//whole first; when validation fails nothing is merged. The pass is cleared in
//both cases.
func (l *MaterializerLog) ApplyToContext() error {
	defer l.Clear()
	if !l.Tracking() {
		return nil
	}
	if err := l.validate(); err != nil {
		l.log.Error(err, "materialization pass rejected")
		return err
	}

	for _, identity := range l.identityOrder {
		entry := l.identityStack[identity]
		descriptor, err := l.tracker.AttachEntityDescriptor(entry.Descriptor, false)
		if err != nil {
			return err
		}
		shouldMerge := l.shouldMerge(entry)
		descriptor.merge(entry.Descriptor, shouldMerge, l.mergeOption)
		if shouldMerge && !(l.mergeOption == PreserveChanges && descriptor.state == Deleted) {
			descriptor.state = Unchanged
			clear(descriptor.pendingProperties)
		}
		l.log.V(2).Info("merged entity", "identity", identity, "merged", shouldMerge, "state", descriptor.state.String())
	}

	for _, link := range l.links {
		if err := l.applyLink(link); err != nil {
			return err
		}
	}

	l.log.V(1).Info("applied materialization pass", "entities", len(l.identityOrder), "links", len(l.links))
	return nil
}

func (l *MaterializerLog) applyLink(link pendingLink) error {
	switch link.state {
	case Added:
		return l.tracker.AttachLink(link.source, link.property, link.target, l.mergeOption)
	case Modified:
		target := link.target
		if l.mergeOption == PreserveChanges {
			for _, current := range l.tracker.GetLinks(link.source, link.property) {
				if !current.HasTarget() {
					//A local null wins over the server value.
					return nil
				}
			}
			if l.stateOf(link.source) == Deleted || (target != nil && l.stateOf(target) == Deleted) {
				target = nil
			}
		}
		return l.tracker.AttachLink(link.source, link.property, target, l.mergeOption)
	case Detached:
		if tracked, ok := l.trackedLink(link); ok {
			return l.tracker.DetachExistingLink(tracked, false)
		}
		return nil
	}
	return fmt.Errorf("link %s: state %d: %w", link.property, int(link.state), ErrInvalidState)
}

//validate checks every staged merge against the tracker before anything is
//committed. Links are replayed against a staged copy of the references they
//touch so a replacement that the tracker would refuse is caught here.
func (l *MaterializerLog) validate() error {
	staged := map[any]string{}
	for _, identity := range l.identityOrder {
		entry := l.identityStack[identity]
		if identity == emptyString || entry.Identity() != identity {
			return fmt.Errorf("apply %q: %w", identity, ErrMissingIdentity)
		}
		if other, ok := staged[entry.ResolvedObject()]; ok {
			return fmt.Errorf("apply %s: object also materialized as %s: %w", identity, other, ErrDuplicateIdentity)
		}
		staged[entry.ResolvedObject()] = identity
		if _, _, ok := l.tracker.TryGetEntity(identity); ok {
			continue
		}
		if tracked, ok := l.tracker.TryGetEntityDescriptor(entry.ResolvedObject()); ok && tracked != entry.Descriptor {
			return fmt.Errorf("apply %s: object already tracked as %s: %w", identity, tracked.Identity, ErrDuplicateIdentity)
		}
	}

	//An object is trackable after the merge when it is tracked already, or
	//when its identity is new and the pass will track it.
	trackable := func(object any) bool {
		if _, ok := l.tracker.TryGetEntityDescriptor(object); ok {
			return true
		}
		identity, ok := staged[object]
		if !ok {
			return false
		}
		_, _, identityTracked := l.tracker.TryGetEntity(identity)
		return !identityTracked
	}
	staging := map[referenceKey][]*stagedReference{}
	for _, link := range l.links {
		switch link.state {
		case Added, Modified:
			if !trackable(link.source) || (link.target != nil && !trackable(link.target)) {
				return fmt.Errorf("apply link %s: %w", link.property, ErrNotTracked)
			}
			if err := l.stageAttach(link, staged, staging); err != nil {
				return err
			}
		case Detached:
			if err := l.stageDetach(link, staged, staging); err != nil {
				return err
			}
		default:
			return fmt.Errorf("apply link %s: state %d: %w", link.property, int(link.state), ErrInvalidState)
		}
	}
	return nil
}

type referenceKey struct {
	source   any
	property string
}

//stagedReference is a link of (source, property) as it will stand at that
//point of the commit. A nil target is the null reference.
type stagedReference struct {
	target any
	state  EntityStates
}

//references returns the staged links of (source, property), seeded from the tracker.
func (l *MaterializerLog) references(staging map[referenceKey][]*stagedReference, source any, property string) []*stagedReference {
	key := referenceKey{source, property}
	if current, ok := staging[key]; ok {
		return current
	}
	var current []*stagedReference
	for _, link := range l.tracker.GetLinks(source, property) {
		var target any
		if link.HasTarget() {
			target, _ = l.tracker.Entity(link.target)
		}
		current = append(current, &stagedReference{target, link.state})
	}
	staging[key] = current
	return current
}

//stageAttach replays applyLink and AttachLink for an Added or Modified link.
func (l *MaterializerLog) stageAttach(link pendingLink, staged map[any]string, staging map[referenceKey][]*stagedReference) error {
	key := referenceKey{link.source, link.property}
	current := l.references(staging, link.source, link.property)
	target := link.target
	if link.state == Modified && l.mergeOption == PreserveChanges {
		for _, reference := range current {
			if reference.target == nil {
				return nil
			}
		}
		if l.expectedState(link.source, staged) == Deleted || (target != nil && l.expectedState(target, staged) == Deleted) {
			target = nil
		}
	}

	for _, reference := range current {
		if reference.target == target {
			reference.state = reattachedState(reference.state, target != nil, l.mergeOption)
			return nil
		}
	}
	if !l.model.IsEntityCollection(link.source, link.property) {
		for i, reference := range current {
			if keepsReference(reference.state, l.mergeOption) {
				staging[key] = current[i:]
				return nil
			}
			if l.blocksDetach(link.source, reference.target, staged) {
				return fmt.Errorf("apply link %s: %w", link.property, ErrChildResourceExists)
			}
		}
		current = nil
	}
	staging[key] = append(current, &stagedReference{target, Unchanged})
	return nil
}

//stageDetach replays the removal of a link the tracker holds, or will hold,
//when the removal is applied.
func (l *MaterializerLog) stageDetach(link pendingLink, staged map[any]string, staging map[referenceKey][]*stagedReference) error {
	current := l.references(staging, link.source, link.property)
	for i, reference := range current {
		if reference.target != link.target {
			continue
		}
		if l.blocksDetach(link.source, link.target, staged) {
			return fmt.Errorf("apply link %s: %w", link.property, ErrChildResourceExists)
		}
		staging[referenceKey{link.source, link.property}] = slices.Delete(current, i, i+1)
		return nil
	}
	return nil
}

//blocksDetach is childResourceBlocks for objects, judged on the states the
//pass leaves behind.
func (l *MaterializerLog) blocksDetach(source any, target any, staged map[any]string) bool {
	if target == nil {
		return false
	}
	sourceDescriptor, ok := l.tracker.TryGetEntityDescriptor(source)
	if !ok {
		return false
	}
	targetDescriptor, ok := l.tracker.TryGetEntityDescriptor(target)
	if !ok || targetDescriptor.ParentKey != sourceDescriptor.key {
		return false
	}
	state := l.expectedState(source, staged)
	return state != Deleted && state != Detached
}

//expectedState is the state object will have once the entities of the pass
//are merged.
func (l *MaterializerLog) expectedState(object any, staged map[any]string) EntityStates {
	identity, ok := staged[object]
	if !ok {
		return l.stateOf(object)
	}
	entry := l.identityStack[identity]
	state := entry.Descriptor.state
	if tracked, ok := l.tracker.TryGetEntityDescriptor(object); ok {
		state = tracked.state
	}
	if l.shouldMerge(entry) && !(l.mergeOption == PreserveChanges && state == Deleted) {
		return Unchanged
	}
	return state
}

func (l *MaterializerLog) shouldMerge(entry *MaterializerEntry) bool {
	return entry.CreatedByMaterializer || entry.ResolvedObject() == l.insertRefreshObject || entry.ShouldUpdateFromPayload
}

func (l *MaterializerLog) trackedLink(link pendingLink) (*LinkDescriptor, bool) {
	source, sourceOk := l.tracker.TryGetEntityDescriptor(link.source)
	target, targetOk := l.tracker.TryGetEntityDescriptor(link.target)
	if !sourceOk || !targetOk {
		return nil, false
	}
	for _, current := range l.tracker.GetLinks(link.source, link.property) {
		if current.IsEquivalent(source.key, link.property, target.key) {
			return current, true
		}
	}
	return nil, false
}

func (l *MaterializerLog) stateOf(object any) EntityStates {
	if descriptor, ok := l.tracker.TryGetEntityDescriptor(object); ok {
		return descriptor.state
	}
	return Detached
}

//Clear drops everything the current pass accumulated. The append-only cache is kept.
func (l *MaterializerLog) Clear() {
	clear(l.identityStack)
	l.identityOrder = nil
	l.links = nil
	l.insertRefreshObject = nil
}

//admit reports whether entry takes part in tracking. Entries without identity
//or that are not entities are rejected.
func (l *MaterializerLog) admit(entry *MaterializerEntry, operation string) (bool, error) {
	if !l.Tracking() || !entry.IsTracking {
		return false, nil
	}
	if entry.Identity() == emptyString {
		return false, fmt.Errorf("%s: %w", operation, ErrMissingIdentity)
	}
	if !isEntity(l.model, entry.ResolvedObject()) {
		return false, fmt.Errorf("%s %s: %w", operation, entry.Identity(), ErrNotEntity)
	}
	return true, nil
}

func (l *MaterializerLog) linkable(source *MaterializerEntry) bool {
	return l.Tracking() && source.IsTracking && isEntity(l.model, source.ResolvedObject())
}

func (l *MaterializerLog) push(entry *MaterializerEntry) {
	identity := entry.Identity()
	if _, ok := l.identityStack[identity]; !ok {
		l.identityOrder = append(l.identityOrder, identity)
	}
	l.identityStack[identity] = entry
}
