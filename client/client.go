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

// Package client speaks the librarian wire protocol to peer librarians.
// Every call is a JSON POST authenticated with HTTP basic auth; the
// credentials are held encrypted in the librarians table and decrypted
// with the service secret just before use.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/StalkR/hsts"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/db"
)

const defaultPeerTimeout = 30 * time.Second

// Here's a secure HTTP client for talking to peers. It sets a timeout so
// a slow peer cannot stall a background task, refuses redirects that
// downgrade HTTPS to HTTP, and enables HTTP Strict Transport Security
// (HSTS).
func SecureHttpClient(timeout time.Duration) http.Client {
	client := http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme == "http" {
				return &DowngradedRedirectError{
					Endpoint: fmt.Sprintf("%s%s", req.URL.Host, req.URL.Path),
				}
			}
			return http.ErrUseLastResponse
		},
	}
	client.Transport = hsts.New(client.Transport) // enable HSTS
	return client
}

type LibrarianClient struct {
	// the peer's name (as this librarian knows it)
	Name string
	// scheme://host:port base for all endpoint paths
	BaseURL string

	username string
	password string
	client   http.Client
}

// Creates a client for the given peer, decrypting its stored credentials
// with the service secret.
func NewLibrarianClient(librarian db.Librarian) (*LibrarianClient, error) {
	username, password, err := auth.DecryptPeerCredentials(
		librarian.Authenticator, config.Service.Secret)
	if err != nil {
		return nil, fmt.Errorf("couldn't decrypt credentials for %s: %w",
			librarian.Name, err)
	}

	timeout := defaultPeerTimeout
	if config.Service.PeerTimeout > 0 {
		timeout = time.Duration(config.Service.PeerTimeout) * time.Second
	}

	return &LibrarianClient{
		Name:     librarian.Name,
		BaseURL:  fmt.Sprintf("%s:%d", strings.TrimSuffix(librarian.Url, "/"), librarian.Port),
		username: username,
		password: password,
		client:   SecureHttpClient(timeout),
	}, nil
}

// posts the given request body to the given endpoint path and decodes
// the response into result (which may be nil if the body is irrelevant)
func (c *LibrarianClient) post(path string, request, result any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return PeerUnreachableError{Librarian: c.Name, Err: err}
	}
	defer resp.Body.Close()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		httpErr := PeerHTTPError{
			Librarian:  c.Name,
			Endpoint:   path,
			StatusCode: resp.StatusCode,
		}
		// rejections from clone endpoints carry a structured body
		var rejection api.CloneFailedResponse
		if json.Unmarshal(responseBody, &rejection) == nil {
			httpErr.Reason = rejection.Reason
			httpErr.SuggestedRemedy = rejection.SuggestedRemedy
		}
		return httpErr
	}

	if result != nil {
		return json.Unmarshal(responseBody, result)
	}
	return nil
}

// asks the peer to identify itself
func (c *LibrarianClient) Ping() (api.PingResponse, error) {
	var response api.PingResponse
	err := c.post("/ping", struct{}{}, &response)
	return response, err
}

// searches the peer's file records
func (c *LibrarianClient) SearchFiles(request api.SearchFilesRequest) ([]api.FileResult, error) {
	var response []api.FileResult
	err := c.post("/search/file", request, &response)
	return response, err
}

// asks the peer to validate its instances of the named file
func (c *LibrarianClient) ValidateFile(fileName string) ([]api.FileValidation, error) {
	var response []api.FileValidation
	err := c.post("/validate/file", api.ValidateFileRequest{FileName: fileName}, &response)
	return response, err
}

// stages a single inbound clone on the peer
func (c *LibrarianClient) CloneStage(request api.CloneStageRequest) (api.CloneStageResponse, error) {
	var response api.CloneStageResponse
	err := c.post("/clone/stage", request, &response)
	return response, err
}

// stages a batch of inbound clones on the peer in one call
func (c *LibrarianClient) CloneBatchStage(request api.CloneBatchStageRequest) (api.CloneBatchStageResponse, error) {
	var response api.CloneBatchStageResponse
	err := c.post("/clone/batch_stage", request, &response)
	return response, err
}

// informs the peer that bytes are in flight for a staged clone
func (c *LibrarianClient) CloneOngoing(sourceTransferId, destinationTransferId int64) error {
	return c.post("/clone/ongoing", api.CloneOngoingRequest{
		SourceTransferId:      sourceTransferId,
		DestinationTransferId: destinationTransferId,
	}, nil)
}

// informs the peer that all bytes for a clone have landed in staging
func (c *LibrarianClient) CloneStaged(sourceTransferId, destinationTransferId int64) error {
	return c.post("/clone/staged", api.CloneStagedRequest{
		SourceTransferId:      sourceTransferId,
		DestinationTransferId: destinationTransferId,
	}, nil)
}

// acknowledges to the source that this librarian has ingested a clone
func (c *LibrarianClient) CloneComplete(request api.CloneCompleteRequest) error {
	return c.post("/clone/complete", request, nil)
}

// informs the peer that a clone has failed
func (c *LibrarianClient) CloneFail(sourceTransferId, destinationTransferId int64, reason string) error {
	return c.post("/clone/fail", api.CloneFailRequest{
		SourceTransferId:      sourceTransferId,
		DestinationTransferId: destinationTransferId,
		Reason:                reason,
	}, nil)
}

// asks the peer for the status of the given transfers
func (c *LibrarianClient) CheckinStatus(request api.CheckinStatusRequest) (api.CheckinStatusResponse, error) {
	var response api.CheckinStatusResponse
	err := c.post("/checkin/status", request, &response)
	return response, err
}

// asks the peer to move the given transfers to a new status
func (c *LibrarianClient) CheckinUpdate(request api.CheckinUpdateRequest) (api.CheckinUpdateResponse, error) {
	var response api.CheckinUpdateResponse
	err := c.post("/checkin/update", request, &response)
	return response, err
}
