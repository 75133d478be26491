package client

import "log/slog"

// Stats holds call statistics for a client. Can be requested with Client.GetStatistics().
type Stats struct {
	// Requests sent to the service, including failed ones.
	RequestCount int
	// Requests that failed in transport or returned an error status.
	ErrorsCount int
	// Calls rejected before sending because credentials were missing.
	AuthErrorsCount int

	// Upload and update requests, the files they carried and their total size.
	UploadCount   int
	UploadedFiles int
	UploadedBytes int64
}

// SlogArgs converts non-zero stats to attributes that can be passed to slog logging
// functions, e.g. logger.Info("client stats", stats.SlogArgs()...)
func (st Stats) SlogArgs() []any {
	counters := []struct {
		key   string
		value int64
	}{
		{"requests", int64(st.RequestCount)},
		{"errors", int64(st.ErrorsCount)},
		{"auth_errors", int64(st.AuthErrorsCount)},
		{"uploads", int64(st.UploadCount)},
		{"ul_files", int64(st.UploadedFiles)},
		{"ul_bytes", st.UploadedBytes},
	}

	var args []any
	for _, c := range counters {
		if c.value > 0 {
			args = append(args, slog.Int64(c.key, c.value))
		}
	}
	if len(args) == 0 {
		return []any{slog.Int("requests", 0)}
	}
	return args
}
