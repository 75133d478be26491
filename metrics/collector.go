// Package metrics exports Fluxsave client statistics to Prometheus.
package metrics

import (
	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/lutheralien/fluxsave-sdk-go/client"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fluxsave_client"

// StatsSource is implemented by *client.Client.
type StatsSource interface {
	GetStatistics() client.Stats
}

type counter struct {
	desc  *prometheus.Desc
	value func(client.Stats) float64
}

// Collector is a prometheus.Collector reading a client's statistics at scrape time.
type Collector struct {
	source   StatsSource
	counters []counter
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for source. constLabels are attached to every metric.
func NewCollector(source StatsSource, constLabels prometheus.Labels) *Collector {
	newDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, constLabels)
	}

	return &Collector{
		source: source,
		counters: []counter{
			{
				desc:  newDesc("requests_total", "Requests sent to the Fluxsave service."),
				value: func(st client.Stats) float64 { return float64(st.RequestCount) },
			},
			{
				desc:  newDesc("errors_total", "Requests that failed in transport or with an error status."),
				value: func(st client.Stats) float64 { return float64(st.ErrorsCount) },
			},
			{
				desc:  newDesc("auth_errors_total", "Calls rejected locally because credentials were missing."),
				value: func(st client.Stats) float64 { return float64(st.AuthErrorsCount) },
			},
			{
				desc:  newDesc("uploads_total", "Upload and update requests."),
				value: func(st client.Stats) float64 { return float64(st.UploadCount) },
			},
			{
				desc:  newDesc("uploaded_files_total", "Files sent in upload and update requests."),
				value: func(st client.Stats) float64 { return float64(st.UploadedFiles) },
			},
			{
				desc:  newDesc("uploaded_bytes_total", "File bytes sent in upload and update requests."),
				value: func(st client.Stats) float64 { return float64(st.UploadedBytes) },
			},
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cnt := range c.counters {
		ch <- cnt.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.GetStatistics()
	for _, cnt := range c.counters {
		ch <- prometheus.MustNewConstMetric(cnt.desc, prometheus.CounterValue, cnt.value(st))
	}
}

// WriteTextfile registers a collector for source in a fresh registry and writes it to
// filename in the text exposition format, for the node_exporter textfile collector.
func WriteTextfile(filename string, source StatsSource, constLabels prometheus.Labels) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(source, constLabels)); err != nil {
		return fault.Wrap(err, fmsg.With("registering collector failed"))
	}
	if err := prometheus.WriteToTextfile(filename, reg); err != nil {
		return fault.Wrap(err, fmsg.With("writing metrics textfile failed"))
	}
	return nil
}
