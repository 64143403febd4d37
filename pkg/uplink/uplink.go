// Package uplink declares the interface to the remote counting server.
//
// The wire client (HTTP transport, authentication, payload format) is owned
// by the host application and injected at the composition root; this module
// only requires the Push contract below. Push must be idempotent on the
// server side — the upload worker retries failed batches.
package uplink

import (
	"context"
	"time"
)

// Count is one confirmed observation queued for upload.
type Count struct {
	// SpeciesID identifies the species on the counting server.
	SpeciesID string `json:"species_id"`

	// Amount is the number of individuals counted.
	Amount int `json:"amount"`

	// Heard is the raw utterance the observation was derived from, kept for
	// server-side auditing of speech-entry mistakes. May be empty for
	// manually entered counts.
	Heard string `json:"heard,omitempty"`

	// RecordedAt is when the observation was confirmed on the device.
	RecordedAt time.Time `json:"recorded_at"`
}

// Client pushes observation batches to the counting server.
type Client interface {
	// Push uploads counts in one batch. An error means the whole batch must
	// be retried later; partial acceptance is not part of the contract.
	Push(ctx context.Context, counts []Count) error
}
