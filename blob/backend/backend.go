// Package backend implements the remote object-store flavors a Blob
// Client can be configured against.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package backend

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is the subset of remote-object metadata the Blob Client needs.
type ObjectInfo struct {
	Name         string
	SizeB        int64
	LastModified time.Time
}

// Provider is implemented by each concrete remote flavor (plain HTTP/REST,
// S3-compatible, ...). Every method call is expected to already carry a
// deadline via ctx; providers must not set up their own unbounded retries.
type Provider interface {
	// List returns object metadata for names with the given prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Fetch streams an object's body. Caller must Close the reader.
	Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error)
	// Put uploads an object, replacing any existing object of the same name.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Delete removes an object; a missing object is not an error.
	Delete(ctx context.Context, name string) error
}
