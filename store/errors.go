// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
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

package store

import (
	"fmt"
)

// indicates that a caller-supplied path escapes the store's staging or
// final root
type PathEscapeError struct {
	Store string
	Path  string
}

func (e PathEscapeError) Error() string {
	return fmt.Sprintf("path %s escapes the root of store %s", e.Path, e.Store)
}

// indicates that a store cannot admit an upload of the requested size
type StoreFullError struct {
	Store     string
	Requested int64
	Available int64
}

func (e StoreFullError) Error() string {
	return fmt.Sprintf("store %s cannot accept %d bytes (%d available)",
		e.Store, e.Requested, e.Available)
}

// indicates that a final path is already occupied
type PathExistsError struct {
	Store string
	Path  string
}

func (e PathExistsError) Error() string {
	return fmt.Sprintf("path %s already exists on store %s", e.Path, e.Store)
}

// indicates that a store is not accepting new writes
type StoreDisabledError struct {
	Store string
}

func (e StoreDisabledError) Error() string {
	return fmt.Sprintf("store %s is not accepting new writes", e.Store)
}
