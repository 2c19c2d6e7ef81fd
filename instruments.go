package workq

import (
	"github.com/ygrebnov/workq/metrics"
)

// Instrument names recorded by Queue and Coordinator.
const (
	MetricItemsPut           = "workq_items_put_total"
	MetricItemsGot           = "workq_items_got_total"
	MetricItemsDone          = "workq_items_done_total"
	MetricProcessingFailures = "workq_processing_failures_total"
	MetricFaults             = "workq_faults_total"
	MetricQueueDepth         = "workq_queue_depth"
	MetricItemsInflight      = "workq_items_inflight"
	MetricPutWaitSeconds     = "workq_put_wait_seconds"
	MetricProcessSeconds     = "workq_process_seconds"
)

type queueInstruments struct {
	put      metrics.Counter
	got      metrics.Counter
	done     metrics.Counter
	depth    metrics.UpDownCounter
	inflight metrics.UpDownCounter
	putWait  metrics.Histogram
}

func newQueueInstruments(p metrics.Provider) queueInstruments {
	return queueInstruments{
		put:      p.Counter(MetricItemsPut, metrics.WithDescription("items accepted by the queue")),
		got:      p.Counter(MetricItemsGot, metrics.WithDescription("items handed out by Get")),
		done:     p.Counter(MetricItemsDone, metrics.WithDescription("items acknowledged with TaskDone")),
		depth:    p.UpDownCounter(MetricQueueDepth, metrics.WithDescription("items buffered")),
		inflight: p.UpDownCounter(MetricItemsInflight, metrics.WithDescription("items handed out and not yet acknowledged")),
		putWait: p.Histogram(
			MetricPutWaitSeconds,
			metrics.WithUnit("seconds"),
			metrics.WithDescription("time Put spent suspended on a full queue"),
		),
	}
}

type runInstruments struct {
	failures metrics.Counter
	faults   metrics.Counter
	process  metrics.Histogram
}

func newRunInstruments(p metrics.Provider) runInstruments {
	return runInstruments{
		failures: p.Counter(MetricProcessingFailures, metrics.WithDescription("items whose processing returned an error")),
		faults:   p.Counter(MetricFaults, metrics.WithDescription("unexpected producer or worker faults")),
		process: p.Histogram(
			MetricProcessSeconds,
			metrics.WithUnit("seconds"),
			metrics.WithDescription("duration of the processing step"),
		),
	}
}
