// Package blob implements the authenticated remote object-store client the
// Weather Array Store uses to pull GEFS arrays on demand, grounded on
// gefs.py's requests.Session + urllib3 Retry + cycle-pointer cache.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package blob

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/habsim/core/blob/backend"
	"github.com/habsim/core/xlog"
)

var log = xlog.Named("blob")

const (
	whichGefsTTL   = 60 * time.Second
	retryBaseDelay = 2 * time.Second
)

// Client wraps a backend.Provider with retry/backoff and the short-lived
// "which cycle is current" cache the original's _whichgefs_cache provides.
type Client struct {
	provider backend.Provider

	mu           sync.Mutex
	whichCycle   string
	whichCycleAt time.Time
}

// New builds a Client against baseURL, selecting the S3 backend when the
// URL uses an s3:// scheme and the default HTTP/REST backend otherwise.
// token, if non-empty, must be a JWT whose exp claim has not passed.
func New(baseURL, token string) (*Client, error) {
	if token != "" {
		if err := checkTokenNotExpired(token); err != nil {
			return nil, errors.Wrap(err, "object store token")
		}
	}
	var (
		p   backend.Provider
		err error
	)
	if strings.HasPrefix(baseURL, "s3://") {
		p, err = backend.NewS3(baseURL)
	} else {
		p = backend.NewHTTP(baseURL, token)
	}
	if err != nil {
		return nil, err
	}
	return &Client{provider: p}, nil
}

func checkTokenNotExpired(token string) error {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return errors.Wrap(err, "parse token")
	}
	if err := claims.Valid(); err != nil {
		return errors.Wrap(err, "token expired or not yet valid")
	}
	return nil
}

// WhichCycle returns the current GEFS cycle id as reported by the object
// store's pointer object, cached for whichGefsTTL to absorb the call
// pattern of many concurrent ensemble requests hitting it at once.
func (c *Client) WhichCycle(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.whichCycle != "" && time.Since(c.whichCycleAt) < whichGefsTTL {
		cycle := c.whichCycle
		c.mu.Unlock()
		return cycle, nil
	}
	c.mu.Unlock()

	r, _, err := c.provider.Fetch(ctx, "whichgefs")
	if err != nil {
		return "", errors.Wrap(err, "fetch whichgefs pointer")
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	cycle := strings.TrimSpace(string(raw))

	c.mu.Lock()
	c.whichCycle = cycle
	c.whichCycleAt = time.Now()
	c.mu.Unlock()
	return cycle, nil
}

// List returns object metadata for names under prefix, delegating straight
// to the backend provider: listing is cheap and idempotent, unlike the
// large-file downloads Fetch retries.
func (c *Client) List(ctx context.Context, prefix string) ([]backend.ObjectInfo, error) {
	return c.provider.List(ctx, prefix)
}

// retriesFor mirrors gefs.py's per-file-type retry budget: 5 attempts for
// .npz model files, 3 for other large files, 1 otherwise.
func retriesFor(name string) int {
	switch {
	case strings.HasSuffix(name, ".npz"):
		return 5
	case strings.HasSuffix(name, ".npy"):
		return 3
	default:
		return 1
	}
}

// Fetch downloads name with exponential backoff (2/4/8/16 s, i.e.
// 2^attempt seconds measured from the failed attempt) across up to
// retriesFor(name) attempts.
func (c *Client) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	attempts := retriesFor(name)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			log.Warnf("retrying fetch %s after %v (attempt %d/%d): %v", name, delay, attempt+1, attempts, lastErr)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
		}
		r, size, err := c.provider.Fetch(ctx, name)
		if err == nil {
			return r, size, nil
		}
		lastErr = err
	}
	return nil, 0, errors.Wrapf(lastErr, "fetch %s failed after %d attempts", name, attempts)
}

func (c *Client) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	return c.provider.Put(ctx, name, r, size)
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.provider.Delete(ctx, name)
}
