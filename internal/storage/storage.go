// ABOUTME: Audio blob storage abstraction
// ABOUTME: The coordinator only needs upload minting, delete, and prefix delete
package storage

import (
	"context"
	"io"
)

// UploadTarget is handed to a client that wants to upload a track. The client
// PUTs the bytes to UploadURL and the track becomes fetchable at PublicURL.
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
}

// Store is the object-storage collaborator. Deletes are idempotent: removing
// an object that is already gone succeeds.
type Store interface {
	// PresignUpload mints a one-time upload URL for a room-scoped object.
	PresignUpload(roomID, fileName string) (UploadTarget, error)

	// Put consumes an upload token and writes the object bytes.
	Put(ctx context.Context, token string, r io.Reader) (publicURL string, err error)

	// Owns reports whether url points at an object this store holds for roomID.
	Owns(roomID, url string) bool

	// Delete removes the object behind a public URL.
	Delete(ctx context.Context, url string) error

	// DeletePrefix removes every object under a key prefix such as "room-123456".
	DeletePrefix(ctx context.Context, prefix string) error
}
