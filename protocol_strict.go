//go:build workq_strict

package workq

// strictProtocol is true in builds tagged workq_strict: protocol violations panic.
const strictProtocol = true
