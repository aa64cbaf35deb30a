// SPDX-License-Identifier: MIT
/*
Package transport delivers extracted features to external consumers. Every
delivery path implements the same small contract and reads stable snapshots
(the orchestrator's report or the conditioner taps), never live pipeline
buffers.
*/
package transport

// Transport is the generic delivery contract. Implementations must be safe
// for concurrent use and must never block the caller: a slow or absent
// consumer drops data, it does not stall feature extraction.
type Transport interface {
	Send(data any) error
	Close() error
}
