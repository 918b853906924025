package models

// AssetStatus is the lifecycle state of a queued upload.
type AssetStatus string

const (
	AssetPending   AssetStatus = "pending"
	AssetUploading AssetStatus = "uploading"
	AssetFailed    AssetStatus = "failed"
	AssetCompleted AssetStatus = "completed"
)

// QueuedAsset is a local file waiting to be uploaded and attached to a record.
type QueuedAsset struct {
	ID              string      `json:"id"`
	LocalPath       string      `json:"local_path"`
	ContentType     string      `json:"content_type,omitempty"`
	OwnerCollection string      `json:"owner_collection"`
	OwnerID         string      `json:"owner_id"`
	OwnerField      string      `json:"owner_field"`
	CreatedAt       int64       `json:"created_at"`
	UpdatedAt       int64       `json:"updated_at"`
	RetryCount      int         `json:"retry_count"`
	Status          AssetStatus `json:"status"`
	LastError       string      `json:"last_error,omitempty"`
	NextAttemptAt   int64       `json:"next_attempt_at,omitempty"`
	RemoteURL       string      `json:"remote_url,omitempty"`
	// Attached is set once RemoteURL has been written into the owner record
	// or the owner turned out to be gone.
	Attached bool `json:"attached,omitempty"`
}

// AwaitingAttach reports whether an uploaded asset still has to be written
// back to its owner.
func (a *QueuedAsset) AwaitingAttach() bool {
	return a.Status == AssetCompleted && !a.Attached
}

// Due reports whether the asset may be attempted at nowMillis.
func (a *QueuedAsset) Due(nowMillis int64) bool {
	return a.Status == AssetPending && a.NextAttemptAt <= nowMillis
}
