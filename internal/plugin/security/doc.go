// Package security provides the isolation primitives for untrusted
// plugins: capability permissions, rate quotas, cumulative resource
// accounting, and panic containment. The managers are independent; the
// sandbox layer composes them.
package security
