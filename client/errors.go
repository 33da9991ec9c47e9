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

package client

import "fmt"

// indicates that a peer couldn't be reached before the request timeout
type PeerUnreachableError struct {
	Librarian string
	Err       error
}

func (e PeerUnreachableError) Error() string {
	return fmt.Sprintf("peer librarian %s is unreachable: %s", e.Librarian, e.Err)
}

func (e PeerUnreachableError) Unwrap() error {
	return e.Err
}

// indicates a non-2xx response from a peer, with the rejection body if
// the peer sent one
type PeerHTTPError struct {
	Librarian       string
	Endpoint        string
	StatusCode      int
	Reason          string
	SuggestedRemedy string
}

func (e PeerHTTPError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("peer librarian %s returned %d for %s: %s",
			e.Librarian, e.StatusCode, e.Endpoint, e.Reason)
	}
	return fmt.Sprintf("peer librarian %s returned %d for %s",
		e.Librarian, e.StatusCode, e.Endpoint)
}

// indicates that an HTTPS connection to a peer was downgraded to HTTP
// by a redirect
type DowngradedRedirectError struct {
	Endpoint string
}

func (e DowngradedRedirectError) Error() string {
	return fmt.Sprintf("redirect to %s downgrades HTTPS to HTTP", e.Endpoint)
}
