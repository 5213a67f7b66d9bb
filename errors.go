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

import "errors"

var (
	ErrNotTracked            = errors.New("object is not tracked by the session")
	ErrDuplicateIdentity     = errors.New("an entity with the same identity is already tracked")
	ErrIllegalStateInSubtree = errors.New("deep insert subtree contains a deleted or modified descriptor")
	ErrTooManyRoots          = errors.New("deep insert accepts exactly one root")
	ErrUnknownEntitySetName  = errors.New("entity set name could not be determined")
	ErrChildResourceExists   = errors.New("link target was added as a child of the link source")
	ErrNotEntity             = errors.New("value is not an entity of the model")

	//Internal invariant violations. These abort the current operation.
	ErrInvalidState    = errors.New("invalid descriptor state")
	ErrMissingIdentity = errors.New("entity has no identity")
)
