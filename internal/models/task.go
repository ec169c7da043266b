package models

import "time"

// Status is the lifecycle state of an UploadTask.
type Status string

const (
	StatusUploading Status = "Uploading"
	StatusDeleting  Status = "Deleting"
	StatusSkipped   Status = "Skipped"
	StatusSuccess   Status = "Success"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusSkipped, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// OperationKind distinguishes uploads from deletes. Stored as an integer.
type OperationKind int

const (
	OperationUpload OperationKind = 0
	OperationDelete OperationKind = 1
)

func (o OperationKind) String() string {
	switch o {
	case OperationUpload:
		return "upload"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// UploadTask is one entry of the operation log: a single upload or delete
// attempt and its outcome.
type UploadTask struct {
	ID      int64
	BatchID string

	// SourcePath is the local path for uploads and the tree path for deletes.
	SourcePath string

	// ParentID is the destination folder of an upload (nil for root).
	// NodeID is the node created by an upload or targeted by a delete.
	ParentID *int64
	NodeID   *int64

	Status    Status
	Progress  int
	Message   string
	BlobRef   string
	Retryable bool
	Operation OperationKind

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that shares no pointers with t.
func (t *UploadTask) Clone() *UploadTask {
	c := *t
	if t.ParentID != nil {
		id := *t.ParentID
		c.ParentID = &id
	}
	if t.NodeID != nil {
		id := *t.NodeID
		c.NodeID = &id
	}
	return &c
}
