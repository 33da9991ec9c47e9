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

package tasks

import (
	"errors"
	"fmt"
)

// returned by a task that has decided it can never run usefully again;
// the scheduler removes it permanently
var ErrCancelTask = errors.New("task cancelled itself")

// indicates that Start() was called while tasks are already processing
type AlreadyRunningError struct {
}

func (e AlreadyRunningError) Error() string {
	return "task processing has already started"
}

// indicates that Stop() was called before Start()
type NotRunningError struct {
}

func (e NotRunningError) Error() string {
	return "task processing has not been started"
}

// indicates that a task was configured against a store this librarian
// does not have
type UnknownStoreError struct {
	Store string
}

func (e UnknownStoreError) Error() string {
	return fmt.Sprintf("unknown store: %s", e.Store)
}
