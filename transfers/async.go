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
	"encoding/json"
	"fmt"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
)

// Asynchronous transfer managers carry outbound clone batches. A manager
// value is created during batch staging, persisted as tagged JSON in its
// send-queue row, revived by the queue consumer to start the batch, and
// revived again by the completion checker to poll it. Any internal state a
// manager needs across those revivals (a remote task id, a completion
// flag) therefore lives in exported JSON-tagged fields.

// one source-to-destination file movement within a batch
type TransferPair struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type AsyncManager interface {
	// reports whether this manager is usable from the current host
	Valid() bool
	// starts (or performs) the batch; managers that move bytes inline
	// return only when the batch is done
	BatchTransfer(pairs []TransferPair) error
	// moves a single file
	Transfer(src, dst string) error
	// reports the batch's progress: INITIATED while running, COMPLETED or
	// FAILED once settled
	Status() (core.TransferStatus, error)
}

// creates an asynchronous transfer manager from its configuration
func NewAsyncManager(conf config.AsyncTransferManagerConfig) (AsyncManager, error) {
	switch conf.TransferType {
	case "local":
		return &LocalAsyncManager{Hostname: conf.Hostname}, nil
	case "rsync":
		return &RsyncAsyncManager{
			Hostname: conf.Hostname,
			Username: conf.Username,
		}, nil
	case "globus":
		return &GlobusAsyncManager{
			CollectionId: conf.CollectionId,
			ClientId:     conf.ClientId,
			ClientSecret: conf.ClientSecret,
		}, nil
	case "s3":
		return &S3AsyncManager{
			Bucket:          conf.Bucket,
			Region:          conf.Region,
			Endpoint:        conf.Endpoint,
			AccessKeyId:     conf.AccessKeyId,
			SecretAccessKey: conf.SecretAccessKey,
		}, nil
	}
	return nil, fmt.Errorf("unknown async transfer manager type: %s", conf.TransferType)
}

// the envelope that tags a serialized manager with its variant
type asyncEnvelope struct {
	Type    string          `json:"type"`
	Manager json.RawMessage `json:"manager"`
}

// serializes an async transfer manager, with its internal state, for
// storage in a send-queue row
func MarshalAsyncManager(manager AsyncManager) (string, error) {
	var managerType string
	switch manager.(type) {
	case *LocalAsyncManager:
		managerType = "local"
	case *RsyncAsyncManager:
		managerType = "rsync"
	case *GlobusAsyncManager:
		managerType = "globus"
	case *S3AsyncManager:
		managerType = "s3"
	default:
		return "", fmt.Errorf("unknown async transfer manager type: %T", manager)
	}

	inner, err := json.Marshal(manager)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(asyncEnvelope{Type: managerType, Manager: inner})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// revives an async transfer manager from its serialized form
func UnmarshalAsyncManager(data string) (AsyncManager, error) {
	var envelope asyncEnvelope
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, err
	}

	var manager AsyncManager
	switch envelope.Type {
	case "local":
		manager = &LocalAsyncManager{}
	case "rsync":
		manager = &RsyncAsyncManager{}
	case "globus":
		manager = &GlobusAsyncManager{}
	case "s3":
		manager = &S3AsyncManager{}
	default:
		return nil, fmt.Errorf("unknown async transfer manager type: %s", envelope.Type)
	}
	if err := json.Unmarshal(envelope.Manager, manager); err != nil {
		return nil, err
	}
	return manager, nil
}
