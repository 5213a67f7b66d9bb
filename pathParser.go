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
	"net/url"
	"strings"
)

//PathParser applies the service's path rules to a resource URI.
type PathParser interface {
	//EntitySetSegments returns the entity set names addressed by link, outermost first.
	EntitySetSegments(link string) ([]string, error)
}

type servicePathParser struct {
	serviceRoot *url.URL
}

//NewPathParser returns the key-as-parentheses parser for services rooted at serviceRoot.
//Only the first segment below the root names an entity set, deeper segments
//are navigation properties.
func NewPathParser(serviceRoot string) (PathParser, error) {
	root, err := url.Parse(serviceRoot)
	if err != nil {
		return nil, err
	}
	if !root.IsAbs() {
		return nil, fmt.Errorf("service root %q is not absolute", serviceRoot)
	}
	root.Path = strings.TrimSuffix(root.Path, "/") + "/"
	return &servicePathParser{root}, nil
}

func (p *servicePathParser) EntitySetSegments(link string) ([]string, error) {
	resource, err := url.Parse(link)
	if err != nil {
		return nil, err
	}
	resource = p.serviceRoot.ResolveReference(resource)
	if resource.Scheme != p.serviceRoot.Scheme || resource.Host != p.serviceRoot.Host || !strings.HasPrefix(resource.Path+"/", p.serviceRoot.Path) {
		return nil, fmt.Errorf("%q is outside service root %q", link, p.serviceRoot)
	}

	relative := strings.TrimPrefix(resource.Path, p.serviceRoot.Path)
	first, _, _ := strings.Cut(relative, "/")
	if open := strings.IndexByte(first, '('); open >= 0 {
		first = first[:open]
	}
	if first == emptyString || strings.HasPrefix(first, "$") {
		return nil, nil
	}
	return []string{first}, nil
}
