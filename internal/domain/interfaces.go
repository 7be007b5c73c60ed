package domain

import "context"

// Submitter reserves an upload target for a named file
type Submitter interface {
	// Submit registers fileName with the given options and returns the
	// batch identifier together with the first upload target.
	Submit(ctx context.Context, fileName string, opts ProcessingOptions) (BatchHandle, UploadTarget, error)
}

// Uploader transfers raw file bytes to a pre-signed target
type Uploader interface {
	Upload(ctx context.Context, localPath string, target UploadTarget) error
}

// StatusQuerier performs a single status query for a batch
type StatusQuerier interface {
	QueryStatus(ctx context.Context, batch BatchHandle) (TaskStatus, error)
}
