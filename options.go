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

import "github.com/go-logr/logr"

//Config holds the settings of a session.
type Config struct {
	//MergeOption is the default policy for materializer logs.
	MergeOption MergeOption
	Logger      logr.Logger
	//ServiceRoot is used to build the default PathParser when PathParser is nil.
	ServiceRoot string
	PathParser  PathParser
	//Journal, when set, records every change graph before it is written.
	Journal ChangeJournal
}

func NewConfig() *Config {
	return &Config{
		MergeOption: AppendOnly,
		Logger:      logr.Discard(),
	}
}

//SaveChangesOptions selects how pending changes are turned into requests.
type SaveChangesOptions int

const (
	SaveSequential SaveChangesOptions = 0 //One request per pending descriptor, in change order.
	SaveDeepInsert SaveChangesOptions = 1 //One nested insert request rooted at a single object.
	SaveBulkUpdate SaveChangesOptions = 2 //One nested request rooted at any number of objects.
)

func (o SaveChangesOptions) String() string {
	switch o {
	case SaveSequential:
		return `sequential`
	case SaveDeepInsert:
		return `deepInsert`
	case SaveBulkUpdate:
		return `bulkUpdate`
	}
	return `invalid`
}

type SaveOptions struct {
	Mode SaveChangesOptions
	//Roots of the change graph. Ignored by SaveSequential.
	Roots []any
	//ContinueOnError keeps sending sequential requests after a failed one.
	ContinueOnError bool
}

func NewSaveOptions() *SaveOptions {
	return &SaveOptions{Mode: SaveSequential}
}
