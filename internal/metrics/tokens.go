package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	tokenOpsTotal   *prometheus.CounterVec
	secretVerifyDur prometheus.Histogram
)

// Register inicializa y registra las métricas del core de tokens.
// Idempotente; con registry nil usa el DefaultRegisterer.
func Register(registry prometheus.Registerer) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	metricsOnce.Do(func() {
		tokenOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_operations_total",
			Help: "Operaciones sobre artefactos de seguridad por clase, operación y resultado",
		}, []string{"kind", "op", "outcome"})

		secretVerifyDur = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "client_secret_verify_duration_seconds",
			Help:    "Latencia de verificación de client secrets (KDF lenta)",
			Buckets: prometheus.DefBuckets,
		})

		registry.MustRegister(tokenOpsTotal, secretVerifyDur)
	})
}

// TokenOp incrementa el contador de operaciones.
// kind: "authcode" | "refresh" | "mfa" | "access" | "client"
// op:   "issue" | "redeem" | "validate" | "revoke" | "revoke_all" | "sign"
// outcome: "ok" | "rejected" | "error"
func TokenOp(kind, op, outcome string) {
	if tokenOpsTotal != nil {
		tokenOpsTotal.WithLabelValues(kind, op, outcome).Inc()
	}
}

// ObserveSecretVerify registra la duración de una verificación de secret.
func ObserveSecretVerify(seconds float64) {
	if secretVerifyDur != nil {
		secretVerifyDur.Observe(seconds)
	}
}
