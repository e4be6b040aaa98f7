// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every Prometheus collector the core exports.
type Metrics struct {
	ldapOperationsTotal   *prometheus.CounterVec
	ldapOperationDuration *prometheus.HistogramVec
	poolSessions          *prometheus.GaugeVec
	poolAcquisitions      *prometheus.CounterVec
	vaultOperationsTotal  *prometheus.CounterVec
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics returns the process-wide metrics registry, creating it on first
// use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			ldapOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ldap_operations_total",
				Help: "LDAP operations by cluster, operation and outcome.",
			}, []string{"cluster", "operation", "outcome"}),
			ldapOperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ldap_operation_duration_seconds",
				Help:    "Wall-clock duration of LDAP operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"cluster", "operation"}),
			poolSessions: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ldap_pool_sessions",
				Help: "Idle pooled sessions by cluster.",
			}, []string{"cluster"}),
			poolAcquisitions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ldap_pool_acquisitions_total",
				Help: "Pool checkouts by cluster and result (hit, miss).",
			}, []string{"cluster", "result"}),
			vaultOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_operations_total",
				Help: "Credential vault operations by kind and outcome.",
			}, []string{"operation", "outcome"}),
		}
	})

	return metrics
}

// GetLdapOperationsTotal returns the LDAP operation counter.
func (m *Metrics) GetLdapOperationsTotal() *prometheus.CounterVec {
	return m.ldapOperationsTotal
}

// GetLdapOperationDuration returns the LDAP duration histogram.
func (m *Metrics) GetLdapOperationDuration() *prometheus.HistogramVec {
	return m.ldapOperationDuration
}

// GetPoolSessions returns the idle-session gauge.
func (m *Metrics) GetPoolSessions() *prometheus.GaugeVec {
	return m.poolSessions
}

// GetPoolAcquisitions returns the checkout counter.
func (m *Metrics) GetPoolAcquisitions() *prometheus.CounterVec {
	return m.poolAcquisitions
}

// GetVaultOperationsTotal returns the vault operation counter.
func (m *Metrics) GetVaultOperationsTotal() *prometheus.CounterVec {
	return m.vaultOperationsTotal
}
