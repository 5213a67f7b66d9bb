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
	"math"

	"github.com/oklog/ulid/v2"
)

//EntityStates represents the lifecycle state of a tracked descriptor.
type EntityStates int

const (
	Detached  EntityStates = 1
	Unchanged EntityStates = 2
	Added     EntityStates = 4
	Deleted   EntityStates = 8
	Modified  EntityStates = 16
)

func (s EntityStates) String() string {
	switch s {
	case Detached:
		return `Detached`
	case Unchanged:
		return `Unchanged`
	case Added:
		return `Added`
	case Deleted:
		return `Deleted`
	case Modified:
		return `Modified`
	}
	return `Invalid`
}

func (s EntityStates) valid() bool {
	switch s {
	case Detached, Unchanged, Added, Deleted, Modified:
		return true
	}
	return false
}

//MergeOption governs how response data is merged into tracked state.
type MergeOption int

const (
	AppendOnly       MergeOption = 0 //Never overwrite tracked data, only add new entities.
	OverwriteChanges MergeOption = 1 //Server values always win.
	PreserveChanges  MergeOption = 2 //Server values win only where nothing was changed locally.
	NoTracking       MergeOption = 3 //Nothing is tracked.
)

func (m MergeOption) String() string {
	switch m {
	case AppendOnly:
		return `AppendOnly`
	case OverwriteChanges:
		return `OverwriteChanges`
	case PreserveChanges:
		return `PreserveChanges`
	case NoTracking:
		return `NoTracking`
	}
	return `Invalid`
}

type DescriptorKind int

const (
	EntityKind DescriptorKind = 0
	LinkKind   DescriptorKind = 1
	StreamKind DescriptorKind = 2
)

//DescriptorKey addresses a descriptor in the tracker arena. Keys are ULIDs so
//they sort in creation order.
type DescriptorKey string

const noKey DescriptorKey = ``

func newDescriptorKey() DescriptorKey {
	return DescriptorKey(ulid.Make().String())
}

//Sentinel for a change order that has not been assigned yet.
const unassignedChangeOrder uint32 = math.MaxUint32

//Model answers type questions about caller objects. Implementations must be
//pure and side-effect free.
type Model interface {
	//IsEntityType reports whether value is an instance of an entity type. Nil is never an entity.
	IsEntityType(value any) bool
	//IsEntityCollection reports whether property of entity is a to-many navigation property.
	IsEntityCollection(entity any, property string) bool
}
