// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recommend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelReason = "reason"

	ReasonNoRatings   = "no_ratings"
	ReasonUnknownUser = "unknown_user"
	ReasonFewRatings  = "few_ratings"
	ReasonFactorize   = "factorize"
)

var (
	CacheHitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anirec",
		Subsystem: "recommend",
		Name:      "cache_hit_total",
	})
	CacheMissTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anirec",
		Subsystem: "recommend",
		Name:      "cache_miss_total",
	})
	FallbackTotalVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anirec",
		Subsystem: "recommend",
		Name:      "fallback_total",
	}, []string{LabelReason})
	ComputeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "anirec",
		Subsystem: "recommend",
		Name:      "compute_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	})
	InvalidateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anirec",
		Subsystem: "recommend",
		Name:      "invalidate_total",
	})
)
