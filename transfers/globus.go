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

package transfers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/librarian-project/librarian/core"
)

// This file implements the Globus asynchronous transfer manager. It uses
// the Globus Transfer API described at https://docs.globus.org/api/transfer/.
// Unlike the inline managers, a Globus batch really is asynchronous: the
// manager submits a transfer task, remembers its task id, and is polled by
// the completion checker until the task settles.

const (
	globusAuthURL         = "https://auth.globus.org/v2/oauth2/token"
	globusTransferBaseURL = "https://transfer.api.globusonline.org/v0.10"
)

// captures results from Globus Transfer API responses, including any
// errors encountered (https://docs.globus.org/api/transfer/overview/#errors)
type globusResult struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GlobusAsyncManager struct {
	// the source and destination Globus collections
	SourceCollection string `json:"source_collection"`
	CollectionId     string `json:"collection_id"`
	// credentials for the client credentials grant
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// the id of the submitted transfer task, once known
	TaskId string `json:"task_id"`

	// HTTPS header containing the bearer token (rebuilt after revival)
	header http.Header
}

func (m *GlobusAsyncManager) Valid() bool {
	return m.CollectionId != "" && m.ClientId != "" && m.ClientSecret != ""
}

// authenticates with Globus using a client ID and secret to obtain an
// access token (https://docs.globus.org/api/auth/reference/#client_credentials_grant)
func (m *GlobusAsyncManager) authenticate() error {
	if m.header != nil {
		return nil
	}
	data := url.Values{}
	data.Set("scope", "urn:globus:auth:scope:transfer.api.globus.org:all")
	data.Set("grant_type", "client_credentials")
	req, err := http.NewRequest(http.MethodPost, globusAuthURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(m.ClientId, m.ClientSecret)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var authResponse struct {
		AccessToken string `json:"access_token"`
	}
	if err = json.Unmarshal(body, &authResponse); err != nil {
		return err
	}
	if authResponse.AccessToken == "" {
		var result globusResult
		json.Unmarshal(body, &result)
		return fmt.Errorf("Globus authentication failed (%s): %s",
			result.Code, result.Message)
	}
	m.header = make(http.Header)
	m.header.Add("Authorization", fmt.Sprintf("Bearer %s", authResponse.AccessToken))
	return nil
}

// issues an authenticated request against the Globus Transfer API
func (m *GlobusAsyncManager) apiRequest(method, path string,
	body []byte) ([]byte, error) {

	if err := m.authenticate(); err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, globusTransferBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header = m.header.Clone()
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var result globusResult
		json.Unmarshal(responseBody, &result)
		return nil, fmt.Errorf("Globus Transfer API error (%s): %s",
			result.Code, result.Message)
	}
	return responseBody, nil
}

func (m *GlobusAsyncManager) BatchTransfer(pairs []TransferPair) error {
	// first, get a submission ID
	// https://docs.globus.org/api/transfer/task_submit/#get_submission_id
	body, err := m.apiRequest(http.MethodGet, "/submission_id", nil)
	if err != nil {
		return err
	}
	var submission struct {
		Value string `json:"value"`
	}
	if err = json.Unmarshal(body, &submission); err != nil {
		return err
	}

	// now, submit the transfer task itself
	// https://docs.globus.org/api/transfer/task_submit/#submit_transfer_task
	type transferItem struct {
		DataType        string `json:"DATA_TYPE"`
		SourcePath      string `json:"source_path"`
		DestinationPath string `json:"destination_path"`
		Recursive       bool   `json:"recursive"`
	}
	items := make([]transferItem, len(pairs))
	for i, pair := range pairs {
		items[i] = transferItem{
			DataType:        "transfer_item",
			SourcePath:      pair.Source,
			DestinationPath: pair.Destination,
		}
	}
	request, err := json.Marshal(struct {
		DataType            string         `json:"DATA_TYPE"`
		Id                  string         `json:"submission_id"`
		Label               string         `json:"label"`
		Data                []transferItem `json:"DATA"`
		SourceEndpoint      string         `json:"source_endpoint"`
		DestinationEndpoint string         `json:"destination_endpoint"`
		SyncLevel           int            `json:"sync_level"`
		VerifyChecksum      bool           `json:"verify_checksum"`
		FailOnQuotaErrors   bool           `json:"fail_on_quota_errors"`
	}{
		DataType:            "transfer",
		Id:                  submission.Value,
		Label:               "librarian",
		Data:                items,
		SourceEndpoint:      m.SourceCollection,
		DestinationEndpoint: m.CollectionId,
		SyncLevel:           3, // transfer only if checksums don't match
		VerifyChecksum:      true,
		FailOnQuotaErrors:   true,
	})
	if err != nil {
		return err
	}

	body, err = m.apiRequest(http.MethodPost, "/transfer", request)
	if err != nil {
		return err
	}
	var response struct {
		TaskId string `json:"task_id"`
	}
	if err = json.Unmarshal(body, &response); err != nil {
		return err
	}
	if response.TaskId == "" {
		return fmt.Errorf("Globus transfer submission returned no task id")
	}
	m.TaskId = response.TaskId
	return nil
}

func (m *GlobusAsyncManager) Transfer(src, dst string) error {
	return m.BatchTransfer([]TransferPair{{Source: src, Destination: dst}})
}

func (m *GlobusAsyncManager) Status() (core.TransferStatus, error) {
	if m.TaskId == "" {
		return core.StatusInitiated, nil
	}

	// https://docs.globus.org/api/transfer/task/#get_task_by_id
	body, err := m.apiRequest(http.MethodGet, fmt.Sprintf("/task/%s", m.TaskId), nil)
	if err != nil {
		return core.StatusInitiated, err
	}
	var response struct {
		Status string `json:"status"`
	}
	if err = json.Unmarshal(body, &response); err != nil {
		return core.StatusInitiated, err
	}
	switch response.Status {
	case "SUCCEEDED":
		return core.StatusCompleted, nil
	case "FAILED":
		return core.StatusFailed, nil
	}
	// ACTIVE and INACTIVE tasks are still in flight
	return core.StatusInitiated, nil
}
