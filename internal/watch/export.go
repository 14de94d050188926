// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package watch

// This file contains the implementation of a status exporter that writes
// queue state snapshots to an S3 compatible object store where dashboards
// and other off cluster consumers can pick them up

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// Exporter carries the object store location that queue state snapshots
// are written into
type Exporter struct {
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
	prefix    string
	secure    bool
}

// NewExporter validates the object store coordinates for snapshot export.
// The endpoint is host and port only, without a URL scheme, with secure
// selecting whether TLS is used to reach it.
func NewExporter(endpoint string, accessKey string, secretKey string, bucket string, prefix string, secure bool) (exporter *Exporter, err kv.Error) {
	if len(endpoint) == 0 {
		return nil, kv.NewError("an object store endpoint is needed for status export").With("stack", stack.Trace().TrimRuntime())
	}
	if len(bucket) == 0 {
		return nil, kv.NewError("an object store bucket is needed for status export").With("endpoint", endpoint).With("stack", stack.Trace().TrimRuntime())
	}
	return &Exporter{
		endpoint:  endpoint,
		accessKey: accessKey,
		secretKey: secretKey,
		bucket:    bucket,
		prefix:    prefix,
		secure:    secure,
	}, nil
}

// Export writes the snapshot into the bucket as indented JSON.  The object
// key is derived from the environment so that watchers covering different
// environments can share one bucket, each overwriting only its own entry.
func (exporter *Exporter) Export(ctx context.Context, snap *Snapshot) (err kv.Error) {
	client, errGo := minio.New(exporter.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(exporter.accessKey, exporter.secretKey, ""),
		Secure: exporter.secure,
	})
	if errGo != nil {
		return kv.Wrap(errGo).With("endpoint", exporter.endpoint).With("stack", stack.Trace().TrimRuntime())
	}

	exists, errGo := client.BucketExists(ctx, exporter.bucket)
	if errGo != nil {
		return kv.Wrap(errGo).With("endpoint", exporter.endpoint, "bucket", exporter.bucket).With("stack", stack.Trace().TrimRuntime())
	}
	if !exists {
		if errGo = client.MakeBucket(ctx, exporter.bucket, minio.MakeBucketOptions{}); errGo != nil {
			return kv.Wrap(errGo).With("endpoint", exporter.endpoint, "bucket", exporter.bucket).With("stack", stack.Trace().TrimRuntime())
		}
	}

	payload, errGo := json.MarshalIndent(snap, "", "    ")
	if errGo != nil {
		return kv.Wrap(errGo).With("environment", snap.Environment).With("stack", stack.Trace().TrimRuntime())
	}

	key := exporter.Key(snap.Environment)
	if _, errGo = client.PutObject(ctx, exporter.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"}); errGo != nil {
		return kv.Wrap(errGo).With("endpoint", exporter.endpoint, "bucket", exporter.bucket, "key", key).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// Key composes the object key a snapshot for the environment is written
// under
func (exporter *Exporter) Key(environment string) (key string) {
	return exporter.prefix + environment + "-queues.json"
}
