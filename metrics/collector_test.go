package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lutheralien/fluxsave-sdk-go/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
)

type fixedStats client.Stats

func (f fixedStats) GetStatistics() client.Stats {
	return client.Stats(f)
}

func TestCollector(t *testing.T) {
	c := NewCollector(fixedStats{
		RequestCount:  5,
		ErrorsCount:   1,
		UploadCount:   2,
		UploadedFiles: 3,
		UploadedBytes: 1024,
	}, nil)

	assert.Equal(t, testutil.CollectAndCount(c), 6)

	expected := `
# HELP fluxsave_client_requests_total Requests sent to the Fluxsave service.
# TYPE fluxsave_client_requests_total counter
fluxsave_client_requests_total 5
# HELP fluxsave_client_uploaded_bytes_total File bytes sent in upload and update requests.
# TYPE fluxsave_client_uploaded_bytes_total counter
fluxsave_client_uploaded_bytes_total 1024
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"fluxsave_client_requests_total", "fluxsave_client_uploaded_bytes_total")
	assert.NilError(t, err)
}

func TestCollectorReadsLiveStats(t *testing.T) {
	cl, err := client.New("http://127.0.0.1:1")
	assert.NilError(t, err)

	c := NewCollector(cl, prometheus.Labels{"service": "test"})
	reg := prometheus.NewPedanticRegistry()
	assert.NilError(t, reg.Register(c))

	// No credentials: rejected locally, nothing is sent.
	_, err = cl.ListFiles(context.Background())
	assert.Assert(t, client.IsAuthError(err))

	expected := `
# HELP fluxsave_client_auth_errors_total Calls rejected locally because credentials were missing.
# TYPE fluxsave_client_auth_errors_total counter
fluxsave_client_auth_errors_total{service="test"} 1
# HELP fluxsave_client_requests_total Requests sent to the Fluxsave service.
# TYPE fluxsave_client_requests_total counter
fluxsave_client_requests_total{service="test"} 0
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"fluxsave_client_auth_errors_total", "fluxsave_client_requests_total")
	assert.NilError(t, err)

	problems, err := testutil.GatherAndLint(reg)
	assert.NilError(t, err)
	assert.Equal(t, len(problems), 0)
}

func TestWriteTextfile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "fluxsave.prom")

	err := WriteTextfile(filename, fixedStats{AuthErrorsCount: 7}, prometheus.Labels{"command": "list"})
	assert.NilError(t, err)

	data, err := os.ReadFile(filename)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(data), `fluxsave_client_auth_errors_total{command="list"} 7`))
}

func TestWriteTextfileErrors(t *testing.T) {
	missingDir := filepath.Join(t.TempDir(), "missing", "fluxsave.prom")
	err := WriteTextfile(missingDir, fixedStats{}, nil)
	assert.ErrorContains(t, err, "writing metrics textfile failed")

	err = WriteTextfile(filepath.Join(t.TempDir(), "bad.prom"), fixedStats{}, prometheus.Labels{"bad-label": "x"})
	assert.ErrorContains(t, err, "registering collector failed")
}
