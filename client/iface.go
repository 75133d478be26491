package client

import "context"

// Interface is the Fluxsave client interface.
type Interface interface {
	UploadFile(ctx context.Context, filePath string, opts *UploadOptions) (*Result, error)
	UploadFiles(ctx context.Context, filePaths []string, opts *UploadOptions) (*Result, error)
	ListFiles(ctx context.Context) (*Result, error)
	GetFileMetadata(ctx context.Context, fileID string) (*Result, error)
	UpdateFile(ctx context.Context, fileID, filePath string, opts *UploadOptions) (*Result, error)
	DeleteFile(ctx context.Context, fileID string) (*Result, error)
	GetMetrics(ctx context.Context) (*Result, error)
	BuildFileURL(fileID string, params ...QueryParam) string
}

// UploadOptions carries the optional form fields sent along with uploaded files.
type UploadOptions struct {
	// Name is sent as the "name" field when non-empty.
	Name string
	// Transform is sent as the "transform" field only when non-nil.
	Transform *bool
}

// Bool returns a pointer to v, for UploadOptions.Transform.
func Bool(v bool) *bool {
	return &v
}

// QueryParam is a single query option appended by BuildFileURL.
type QueryParam struct {
	Key, Value string
}
