//go:build !workq_strict

package workq

// strictProtocol is false by default: protocol violations are returned as errors.
const strictProtocol = false
