// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/al-berger/regd/lib/failure"
)

// unknownCommand is the label of requests that named no known command,
// so that client input cannot grow the label set.
const unknownCommand = "unknown"

// Metrics counts requests per command and result. Each Server has its
// own registry.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regd",
			Name:      "requests_total",
			Help:      "Requests by command and result.",
		}, []string{"command", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "regd",
			Name:      "request_duration_seconds",
			Help:      "Time from decoded request to encoded response.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"command"}),
	}
	metrics.registry.MustRegister(metrics.requests, metrics.duration)
	return metrics
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observe(command string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = failure.KindOf(err).String()
	}
	m.requests.WithLabelValues(command, result).Inc()
	m.duration.WithLabelValues(command).Observe(elapsed.Seconds())
}

type commandSummary struct {
	results map[string]uint64
	total   uint64
	seconds float64
}

// Report renders one line per command seen, sorted by name:
//
//	get: 5 requests (NotFound 1, ok 4), mean 120µs
func (m *Metrics) Report() ([]string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	summaries := make(map[string]*commandSummary)
	summary := func(name string) *commandSummary {
		if summaries[name] == nil {
			summaries[name] = &commandSummary{results: make(map[string]uint64)}
		}
		return summaries[name]
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := labelMap(metric.GetLabel())
			switch family.GetName() {
			case "regd_requests_total":
				count := uint64(metric.GetCounter().GetValue())
				entry := summary(labels["command"])
				entry.results[labels["result"]] += count
				entry.total += count
			case "regd_request_duration_seconds":
				summary(labels["command"]).seconds += metric.GetHistogram().GetSampleSum()
			}
		}
	}

	names := make([]string, 0, len(summaries))
	for name := range summaries {
		names = append(names, name)
	}
	slices.Sort(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		entry := summaries[name]
		results := make([]string, 0, len(entry.results))
		for result, count := range entry.results {
			results = append(results, fmt.Sprintf("%s %d", result, count))
		}
		slices.Sort(results)
		mean := time.Duration(0)
		if entry.total > 0 {
			mean = time.Duration(entry.seconds / float64(entry.total) * float64(time.Second))
		}
		lines = append(lines, fmt.Sprintf("%s: %d requests (%s), mean %s",
			name, entry.total, strings.Join(results, ", "), mean.Round(time.Microsecond)))
	}
	return lines, nil
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		labels[pair.GetName()] = pair.GetValue()
	}
	return labels
}

