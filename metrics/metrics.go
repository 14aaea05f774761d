// Package metrics counts and times the engine's operations: signature
// verifications, payment confirmations, uploads and fee settlements.
// Deployments plug in the Prometheus recorder or their own.
package metrics

import "time"

// Recorder receives operational measurements. Label maps are flat and may
// be nil.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
