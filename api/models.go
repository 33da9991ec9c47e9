package api

import (
	"time"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
)

// Wire models for the librarian's endpoints. Every request and response
// body is UTF-8 JSON; timestamps are ISO-8601 UTC; checksums travel in
// their canonical "<algorithm>:<hex>" form.

//---------
// Upload
//---------

type UploadStageRequest struct {
	DestinationLocation string        `json:"destination_location" doc:"the unique name the file will be known by"`
	UploadSize          int64         `json:"upload_size" doc:"size of the upload in bytes"`
	UploadChecksum      core.Checksum `json:"upload_checksum"`
	UploadName          string        `json:"upload_name" doc:"the name the staged bytes are placed under"`
	Uploader            string        `json:"uploader"`
}

type UploadStageResponse struct {
	TransferId          int64                                   `json:"transfer_id"`
	StoreName           string                                  `json:"store_name"`
	StagingName         string                                  `json:"staging_name"`
	StagingLocation     string                                  `json:"staging_location"`
	UploadName          string                                  `json:"upload_name"`
	DestinationLocation string                                  `json:"destination_location"`
	TransferProviders   map[string]config.TransferManagerConfig `json:"transfer_providers"`
}

type UploadCommitRequest struct {
	TransferId           int64  `json:"transfer_id"`
	TransferProviderName string `json:"transfer_provider_name"`
}

//--------
// Clone
//--------

type CloneStageRequest struct {
	DestinationLocation string        `json:"destination_location"`
	UploadSize          int64         `json:"upload_size"`
	UploadChecksum      core.Checksum `json:"upload_checksum"`
	UploadName          string        `json:"upload_name"`
	Uploader            string        `json:"uploader"`
	Source              string        `json:"source" doc:"the name of the calling librarian"`
	SourceTransferId    int64         `json:"source_transfer_id"`
}

type CloneStageResponse struct {
	StoreName              string                                       `json:"store_name"`
	StagingName            string                                       `json:"staging_name"`
	StagingLocation        string                                       `json:"staging_location"`
	UploadName             string                                       `json:"upload_name"`
	DestinationLocation    string                                       `json:"destination_location"`
	SourceTransferId       int64                                        `json:"source_transfer_id"`
	DestinationTransferId  int64                                        `json:"destination_transfer_id"`
	AsyncTransferProviders map[string]config.AsyncTransferManagerConfig `json:"async_transfer_providers"`
}

type CloneBatchStageRequest struct {
	Uploads []CloneStageRequest `json:"uploads"`
}

type CloneBatchStageResponse struct {
	StoreName              string                                       `json:"store_name"`
	Uploads                []CloneStageResponse                         `json:"uploads"`
	AsyncTransferProviders map[string]config.AsyncTransferManagerConfig `json:"async_transfer_providers"`
}

type CloneOngoingRequest struct {
	SourceTransferId      int64 `json:"source_transfer_id"`
	DestinationTransferId int64 `json:"destination_transfer_id"`
}

type CloneStagedRequest struct {
	SourceTransferId      int64 `json:"source_transfer_id"`
	DestinationTransferId int64 `json:"destination_transfer_id"`
}

// sent by the destination to the source once the destination has fully
// ingested the file
type CloneCompleteRequest struct {
	SourceTransferId      int64  `json:"source_transfer_id"`
	DestinationTransferId int64  `json:"destination_transfer_id"`
	DestinationStoreName  string `json:"destination_store_name" doc:"the destination's identifier for the store now holding the file"`
}

type CloneFailRequest struct {
	SourceTransferId      int64  `json:"source_transfer_id"`
	DestinationTransferId int64  `json:"destination_transfer_id"`
	Reason                string `json:"reason"`
}

// the error body every clone endpoint returns on rejection
type CloneFailedResponse struct {
	Reason                string `json:"reason"`
	SuggestedRemedy       string `json:"suggested_remedy"`
	SourceTransferId      int64  `json:"source_transfer_id"`
	DestinationTransferId int64  `json:"destination_transfer_id"`
}

//----------
// Checkin
//----------

type CheckinStatusRequest struct {
	SourceTransferIds      []int64 `json:"source_transfer_ids"`
	DestinationTransferIds []int64 `json:"destination_transfer_ids"`
}

// a nil status means "unknown or not authorized"
type CheckinStatusResponse struct {
	SourceTransferStatus      map[int64]*core.TransferStatus `json:"source_transfer_status"`
	DestinationTransferStatus map[int64]*core.TransferStatus `json:"destination_transfer_status"`
}

type CheckinUpdateRequest struct {
	SourceTransferIds      []int64             `json:"source_transfer_ids"`
	DestinationTransferIds []int64             `json:"destination_transfer_ids"`
	NewStatus              core.TransferStatus `json:"new_status"`
}

type CheckinUpdateResponse struct {
	ModifiedSourceTransferIds        []int64  `json:"modified_source_transfer_ids"`
	ModifiedDestinationTransferIds   []int64  `json:"modified_destination_transfer_ids"`
	UnmodifiedSourceTransferIds      []int64  `json:"unmodified_source_transfer_ids"`
	UnmodifiedDestinationTransferIds []int64  `json:"unmodified_destination_transfer_ids"`
	Reasons                          []string `json:"reasons"`
}

//---------
// Search
//---------

type SearchFilesRequest struct {
	Name            string     `json:"name,omitempty" doc:"exact file name to match"`
	NameRegex       string     `json:"name_regex,omitempty" doc:"regular expression to match file names against"`
	CreateTimeStart *time.Time `json:"create_time_start,omitempty"`
	CreateTimeEnd   *time.Time `json:"create_time_end,omitempty"`
	Uploader        string     `json:"uploader,omitempty"`
	Source          string     `json:"source,omitempty"`
	MaxResults      int        `json:"max_results,omitempty"`
}

type InstanceResult struct {
	Id             int64               `json:"id"`
	Path           string              `json:"path"`
	StoreName      string              `json:"store_name"`
	DeletionPolicy core.DeletionPolicy `json:"deletion_policy"`
	CreatedTime    time.Time           `json:"created_time"`
	Available      bool                `json:"available"`
}

type RemoteInstanceResult struct {
	Id            int64     `json:"id"`
	LibrarianName string    `json:"librarian_name"`
	RemoteStoreId string    `json:"remote_store_id"`
	CopyTime      time.Time `json:"copy_time"`
}

type FileResult struct {
	Name            string                 `json:"name"`
	CreateTime      time.Time              `json:"create_time"`
	Size            int64                  `json:"size"`
	Checksum        core.Checksum          `json:"checksum"`
	Uploader        string                 `json:"uploader"`
	Source          string                 `json:"source"`
	Instances       []InstanceResult       `json:"instances"`
	RemoteInstances []RemoteInstanceResult `json:"remote_instances"`
}

//-----------
// Validate
//-----------

type ValidateFileRequest struct {
	FileName string `json:"file_name"`
}

type FileValidation struct {
	Librarian            string        `json:"librarian"`
	Store                string        `json:"store"`
	InstanceId           int64         `json:"instance_id"`
	OriginalChecksum     core.Checksum `json:"original_checksum"`
	OriginalSize         int64         `json:"original_size"`
	CurrentChecksum      core.Checksum `json:"current_checksum"`
	CurrentSize          int64         `json:"current_size"`
	ComputedSameChecksum bool          `json:"computed_same_checksum"`
}

//-------
// Ping
//-------

type PingResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

//---------------
// Error admin
//---------------

type ErrorSearchRequest struct {
	Id             int64      `json:"id,omitempty"`
	Severity       string     `json:"severity,omitempty"`
	Category       string     `json:"category,omitempty"`
	RaisedAfter    *time.Time `json:"raised_after,omitempty"`
	RaisedBefore   *time.Time `json:"raised_before,omitempty"`
	IncludeCleared bool       `json:"include_cleared,omitempty"`
	MaxResults     int        `json:"max_results,omitempty"`
}

type ErrorResult struct {
	Id          int64              `json:"id"`
	Severity    core.ErrorSeverity `json:"severity"`
	Category    core.ErrorCategory `json:"category"`
	Message     string             `json:"message"`
	Caller      string             `json:"caller"`
	RaisedTime  time.Time          `json:"raised_time"`
	Cleared     bool               `json:"cleared"`
	ClearedTime *time.Time         `json:"cleared_time"`
}

type ErrorClearRequest struct {
	Id int64 `json:"id"`
}
