// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/updategraph/pkg/scope"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// maxDocumentBytes bounds a single metadata document read. Release indexes
// are small; anything larger is a sign of a corrupted or hostile object.
const maxDocumentBytes = 16 << 20

// Source fetches the raw release enumeration for one scope. Implementations
// must treat every call as independent; the adapter holds no graph state.
type Source interface {
	Fetch(ctx context.Context, sc scope.Scope) (*ReleaseIndex, *UpdatesDoc, error)
}

// GCSSource reads release metadata documents from a Google Cloud Storage
// bucket laid out as <prefix>/<stream>/releases.json and
// <prefix>/<stream>/updates.json.
type GCSSource struct {
	client  *storage.Client
	bucket  string
	prefix  string
	timeout time.Duration
	limiter *rate.Limiter
}

// GCSOptions configures NewGCSSource.
type GCSOptions struct {
	Bucket string
	Prefix string

	// CredentialsFile is an optional service account key. Empty means
	// anonymous access, which is the normal mode for public release
	// buckets.
	CredentialsFile string

	// FetchTimeout bounds each Fetch call end to end.
	FetchTimeout time.Duration

	// RequestsPerSecond bounds object reads across all refresh loops.
	// Zero disables rate limiting.
	RequestsPerSecond float64
}

// NewGCSSource creates the object store adapter.
func NewGCSSource(ctx context.Context, opts GCSOptions) (*GCSSource, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("source bucket must not be empty")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	} else {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GCSSource{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		timeout: timeout,
		limiter: limiter,
	}, nil
}

// Fetch reads and decodes both metadata documents for a scope. The updates
// document is optional upstream; a missing one yields an empty UpdatesDoc
// rather than an error, since a stream without policy notes is legal.
func (s *GCSSource) Fetch(ctx context.Context, sc scope.Scope) (*ReleaseIndex, *UpdatesDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var index ReleaseIndex
	if err := s.readJSON(ctx, s.objectPath(sc.Stream, "releases.json"), &index); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch release index for %s: %w", sc, err)
	}

	var updates UpdatesDoc
	err := s.readJSON(ctx, s.objectPath(sc.Stream, "updates.json"), &updates)
	if errors.Is(err, storage.ErrObjectNotExist) {
		slog.Debug("no updates document for stream", "stream", sc.Stream)
		updates = UpdatesDoc{Stream: sc.Stream}
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch updates document for %s: %w", sc, err)
	}

	return &index, &updates, nil
}

func (s *GCSSource) objectPath(stream, name string) string {
	return path.Join(s.prefix, stream, name)
}

// readJSON streams one object and strictly decodes it into out.
func (s *GCSSource) readJSON(ctx context.Context, object string, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	reader, err := s.client.Bucket(s.bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return err
		}
		return fmt.Errorf("failed to open gs://%s/%s: %w", s.bucket, object, err)
	}
	defer reader.Close()

	decoder := json.NewDecoder(io.LimitReader(reader, maxDocumentBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode gs://%s/%s: %w", s.bucket, object, err)
	}
	return nil
}
