package db

import (
	"time"

	"github.com/librarian-project/librarian/core"
)

// The librarian's metadata model. The database is the single source of
// truth: relationships are explicit foreign keys, and the ingest path
// commits File, Instance, and transfer updates in one transaction or rolls
// all of them back.

// a file tracked by this librarian, identified by a globally unique
// path-like name; size and checksum are immutable for its lifetime
type File struct {
	Name       string        `gorm:"primaryKey" json:"name"`
	CreateTime time.Time     `json:"create_time"`
	Size       int64         `json:"size"`
	Checksum   core.Checksum `gorm:"type:text" json:"checksum"`
	Uploader   string        `json:"uploader"`
	Source     string        `json:"source"`

	Instances       []Instance       `gorm:"foreignKey:FileName;references:Name;constraint:OnDelete:CASCADE" json:"instances"`
	RemoteInstances []RemoteInstance `gorm:"foreignKey:FileName;references:Name;constraint:OnDelete:CASCADE" json:"remote_instances"`
}

// a concrete local copy of a File on one store
type Instance struct {
	Id             int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	FileName       string              `gorm:"index" json:"file_name"`
	Path           string              `json:"path"`
	StoreName      string              `json:"store_name"`
	DeletionPolicy core.DeletionPolicy `gorm:"type:text" json:"deletion_policy"`
	CreatedTime    time.Time           `json:"created_time"`
	Available      bool                `json:"available"`
}

// a record that a named peer librarian holds a copy of a File
type RemoteInstance struct {
	Id            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FileName      string    `gorm:"index" json:"file_name"`
	LibrarianName string    `gorm:"index" json:"librarian_name"`
	// the peer's identifier for the store holding the copy (opaque to us)
	RemoteStoreId string    `json:"remote_store_id"`
	CopyTime      time.Time `json:"copy_time"`
	Sender        string    `json:"sender"`
}

// a named remote librarian; its authenticator ("user:password") is held
// fernet-encrypted and only decrypted at the moment of an outbound call
type Librarian struct {
	Name             string     `gorm:"primaryKey" json:"name"`
	Url              string     `json:"url"`
	Port             int        `json:"port"`
	Authenticator    string     `json:"-"`
	LastSeen         *time.Time `json:"last_seen"`
	LastHeard        *time.Time `json:"last_heard"`
	TransfersEnabled bool       `json:"transfers_enabled"`
}

// a durable record of an in-flight inbound transfer (upload or clone)
type IncomingTransfer struct {
	Id     int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Status core.TransferStatus `gorm:"type:text;index" json:"status"`

	// who is sending: a client's username or a peer librarian's name
	Uploader string `json:"uploader"`
	Source   string `json:"source"`
	// the sender's identifier for its matching outgoing transfer, once known
	SourceTransferId *int64 `json:"source_transfer_id"`

	UploadName       string        `json:"upload_name"`
	TransferSize     int64         `json:"transfer_size"`
	TransferChecksum core.Checksum `gorm:"type:text" json:"transfer_checksum"`

	StoreName string `json:"store_name"`
	// the opaque staging id handed out by the store manager, used to
	// release the staging area
	StagingName string `json:"staging_name"`
	StagingPath string `json:"staging_path"`
	// the final location the bytes are committed to (the destination name)
	StorePath string `gorm:"index" json:"store_path"`

	// the transfer manager the sender elected to use, once known
	TransferManagerName string `json:"transfer_manager_name"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

// a durable record of an in-flight outbound transfer to a peer
type OutgoingTransfer struct {
	Id     int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Status core.TransferStatus `gorm:"type:text;index" json:"status"`

	DestinationName string `gorm:"index" json:"destination_name"`
	// the destination's identifier for its matching incoming transfer
	RemoteTransferId *int64 `json:"remote_transfer_id"`

	FileName   string `gorm:"index" json:"file_name"`
	InstanceId int64  `json:"instance_id"`

	SourcePath       string        `json:"source_path"`
	DestPath         string        `json:"dest_path"`
	TransferSize     int64         `json:"transfer_size"`
	TransferChecksum core.Checksum `gorm:"type:text" json:"transfer_checksum"`

	SendQueueItemId *int64 `gorm:"index" json:"send_queue_item_id"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

// a durable record of a local cross-store copy
type CloneTransfer struct {
	Id     int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Status core.TransferStatus `gorm:"type:text;index" json:"status"`

	FileName         string `gorm:"index" json:"file_name"`
	SourceStore      string `json:"source_store"`
	DestinationStore string `json:"destination_store"`
	StagingPath      string `json:"staging_path"`
	DestinationPath  string `json:"destination_path"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

// one outbound batch awaiting (or undergoing) asynchronous transfer; the
// async transfer manager is persisted as tagged JSON so that its internal
// state (e.g. a remote task id) survives process restarts
type SendQueueItem struct {
	Id              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Priority        int       `gorm:"index" json:"priority"`
	DestinationName string    `json:"destination_name"`
	CreatedTime     time.Time `json:"created_time"`
	Retries         int       `json:"retries"`

	AsyncTransferManager string `json:"async_transfer_manager"`

	Consumed      bool       `json:"consumed"`
	ConsumedTime  *time.Time `json:"consumed_time"`
	Completed     bool       `json:"completed"`
	CompletedTime *time.Time `json:"completed_time"`
	Failed        bool       `json:"failed"`

	Transfers []OutgoingTransfer `gorm:"foreignKey:SendQueueItemId" json:"transfers"`
}

// a durable diagnostic record, searchable and clearable via the admin API
type Error struct {
	Id          int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Severity    core.ErrorSeverity  `gorm:"type:text;index" json:"severity"`
	Category    core.ErrorCategory  `gorm:"type:text;index" json:"category"`
	Message     string              `json:"message"`
	Caller      string              `json:"caller"`
	RaisedTime  time.Time           `json:"raised_time"`
	Cleared     bool                `json:"cleared"`
	ClearedTime *time.Time          `json:"cleared_time"`
}

// a marker that an instance's on-disk bytes no longer match its File's
// recorded size or checksum
type CorruptFile struct {
	Id              int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	FileName        string        `gorm:"index" json:"file_name"`
	InstanceId      int64         `gorm:"index" json:"instance_id"`
	CorruptSize     int64         `json:"corrupt_size"`
	CorruptChecksum core.Checksum `gorm:"type:text" json:"corrupt_checksum"`
	CorruptTime     time.Time     `json:"corrupt_time"`
	Count           int           `json:"count"`
}

// the models migrated into every database schema
func AllModels() []any {
	return []any{
		&File{},
		&Instance{},
		&RemoteInstance{},
		&Librarian{},
		&IncomingTransfer{},
		&OutgoingTransfer{},
		&CloneTransfer{},
		&SendQueueItem{},
		&Error{},
		&CorruptFile{},
	}
}
