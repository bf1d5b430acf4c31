// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exports observations as Prometheus metrics
type PrometheusObserver struct {
	validPixels  *prometheus.GaugeVec
	pixelRatio   *prometheus.GaugeVec
	correlation  *prometheus.GaugeVec
	degenerate   *prometheus.CounterVec
	gain         *prometheus.GaugeVec
	offset       *prometheus.GaugeVec
	stageSeconds *prometheus.HistogramVec
}

// Registers the normalization metrics with the given registry
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	f := promauto.With(reg)
	return &PrometheusObserver{
		validPixels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "radnorm_valid_pixels",
			Help: "Number of valid pixels after a stage",
		}, []string{"stage", "band"}),
		pixelRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "radnorm_valid_pixel_ratio",
			Help: "Fraction of valid pixels after a stage",
		}, []string{"stage", "band"}),
		correlation: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "radnorm_correlation",
			Help: "Correlation of candidate and reference values",
		}, []string{"stage", "band", "when"}),
		degenerate: f.NewCounterVec(prometheus.CounterOpts{
			Name: "radnorm_degenerate_fits_total",
			Help: "Number of degenerate inputs which forced a fallback",
		}, []string{"stage", "band"}),
		gain: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "radnorm_gain",
			Help: "Fitted gain of the last transformation",
		}, []string{"band"}),
		offset: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "radnorm_offset",
			Help: "Fitted offset of the last transformation",
		}, []string{"band"}),
		stageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "radnorm_stage_seconds",
			Help:    "Time spent per stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
	}
}

func (p *PrometheusObserver) ValidPixels(stage string, band, valid, total int) {
	b := strconv.Itoa(band)
	p.validPixels.WithLabelValues(stage, b).Set(float64(valid))
	if total > 0 {
		p.pixelRatio.WithLabelValues(stage, b).Set(float64(valid) / float64(total))
	}
}

func (p *PrometheusObserver) Correlation(stage string, band int, before, after float64) {
	b := strconv.Itoa(band)
	p.correlation.WithLabelValues(stage, b, "before").Set(before)
	p.correlation.WithLabelValues(stage, b, "after").Set(after)
}

func (p *PrometheusObserver) DegenerateFit(stage string, band int) {
	p.degenerate.WithLabelValues(stage, strconv.Itoa(band)).Inc()
}

func (p *PrometheusObserver) Transformation(band int, gain, offset float64) {
	b := strconv.Itoa(band)
	p.gain.WithLabelValues(b).Set(gain)
	p.offset.WithLabelValues(b).Set(offset)
}

func (p *PrometheusObserver) Duration(stage string, d time.Duration) {
	p.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}
