/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricsNamespace = "blockmanager"

type metrics struct {
	registered prometheus.Gauge
	running    prometheus.Gauge
	operations *prometheus.CounterVec
	duration   metric.Float64Histogram
}

func newMetrics(reg prometheus.Registerer, meter metric.Meter) (*metrics, error) {
	m := &metrics{
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "blocks_registered",
			Help:      "Number of blocks in the registry.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "blocks_running",
			Help:      "Number of blocks whose worker is executing.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by operation and result.",
		}, []string{"operation", "result"}),
	}
	for _, c := range []prometheus.Collector{m.registered, m.running, m.operations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	h, err := meter.Float64Histogram("blockmanager.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of block lifecycle operations."))
	if err != nil {
		return nil, err
	}
	m.duration = h
	return m, nil
}

func (m *metrics) observe(ctx context.Context, op string, elapsed time.Duration, err error) {
	result := resultOf(err)
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBlockExists), errors.Is(err, ErrBlockNotFound):
		return "rejected"
	case errors.Is(err, ErrStopTimeout):
		return "timeout"
	default:
		return "error"
	}
}
