package config

// Configuration for the background task scheduler. Each task entry names
// its run period and soft timeout in seconds; a task whose elapsed time
// exceeds its soft timeout yields and finishes its work on the next tick.

type tasksConfig struct {
	// milliseconds between scheduler wakeups
	PollInterval int `json:"pollInterval" yaml:"pollInterval"`

	CheckIntegrity                    []CheckIntegrityConfig   `json:"checkIntegrity" yaml:"checkIntegrity"`
	CreateLocalClone                  []CreateLocalCloneConfig `json:"createLocalClone" yaml:"createLocalClone"`
	SendClone                         []SendCloneConfig        `json:"sendClone" yaml:"sendClone"`
	ReceiveClone                      []ReceiveCloneConfig     `json:"receiveClone" yaml:"receiveClone"`
	IncomingTransferHypervisor        *HypervisorConfig        `json:"incomingTransferHypervisor" yaml:"incomingTransferHypervisor"`
	OutgoingTransferHypervisor        *HypervisorConfig        `json:"outgoingTransferHypervisor" yaml:"outgoingTransferHypervisor"`
	DuplicateRemoteInstanceHypervisor *HypervisorConfig        `json:"duplicateRemoteInstanceHypervisor" yaml:"duplicateRemoteInstanceHypervisor"`
	RollingDeletion                   []RollingDeletionConfig  `json:"rollingDeletion" yaml:"rollingDeletion"`
	QueueConsumer                     *QueueConfig             `json:"queueConsumer" yaml:"queueConsumer"`
	QueueChecker                      *QueueConfig             `json:"queueChecker" yaml:"queueChecker"`
}

// scheduling parameters common to every background task
type TaskSchedule struct {
	// seconds between runs
	Period int `json:"period" yaml:"period"`
	// seconds a single run may take before it yields
	SoftTimeout int `json:"softTimeout" yaml:"softTimeout"`
}

type CheckIntegrityConfig struct {
	TaskSchedule `yaml:",inline"`
	Store        string `json:"store" yaml:"store"`
	AgeInDays    int    `json:"ageInDays" yaml:"ageInDays"`
}

type CreateLocalCloneConfig struct {
	TaskSchedule `yaml:",inline"`
	From         string   `json:"from" yaml:"from"`
	To           []string `json:"to" yaml:"to"`
	AgeInDays    int      `json:"ageInDays" yaml:"ageInDays"`
	FilesPerRun  int      `json:"filesPerRun" yaml:"filesPerRun"`
	// disable a destination store rather than skipping it when it is too
	// full to accept a clone
	DisableStoreOnFull bool `json:"disableStoreOnFull" yaml:"disableStoreOnFull"`
}

type SendCloneConfig struct {
	TaskSchedule    `yaml:",inline"`
	Destination     string `json:"destination" yaml:"destination"`
	AgeInDays       int    `json:"ageInDays" yaml:"ageInDays"`
	StorePreference string `json:"storePreference" yaml:"storePreference"`
	SendBatchSize   int    `json:"sendBatchSize" yaml:"sendBatchSize"`
}

type ReceiveCloneConfig struct {
	TaskSchedule   `yaml:",inline"`
	DeletionPolicy string `json:"deletionPolicy" yaml:"deletionPolicy"`
	FilesPerRun    int    `json:"filesPerRun" yaml:"filesPerRun"`
}

type HypervisorConfig struct {
	TaskSchedule `yaml:",inline"`
	AgeInDays    int `json:"ageInDays" yaml:"ageInDays"`
}

type RollingDeletionConfig struct {
	TaskSchedule              `yaml:",inline"`
	Store                     string `json:"store" yaml:"store"`
	AgeInDays                 int    `json:"ageInDays" yaml:"ageInDays"`
	NumberOfRemoteCopies      int    `json:"numberOfRemoteCopies" yaml:"numberOfRemoteCopies"`
	VerifyDownstreamChecksums bool   `json:"verifyDownstreamChecksums" yaml:"verifyDownstreamChecksums"`
	MarkUnavailable           bool   `json:"markUnavailable" yaml:"markUnavailable"`
	ForceDeletion             bool   `json:"forceDeletion" yaml:"forceDeletion"`
}

type QueueConfig struct {
	TaskSchedule `yaml:",inline"`
}
