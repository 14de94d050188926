// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package watch

// Tests for the object store snapshot export.  These will only run when an
// S3 compatible server such as minio has been supplied on the command line
// or the matching environment variables.

import (
	"context"
	"encoding/json"
	"flag"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/karlmutch/envflag"
	"github.com/rs/xid"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

var (
	statusEndpointOpt = flag.String("status-endpoint", "", "host:port of an S3 compatible server used for status export tests")
	statusAccessOpt   = flag.String("status-access-key", "", "access key for the status export test server")
	statusSecretOpt   = flag.String("status-secret-key", "", "secret key for the status export test server")
)

func TestMain(m *testing.M) {
	if !flag.Parsed() {
		envflag.Parse()
	}
	os.Exit(m.Run())
}

func TestExportSnapshot(t *testing.T) {
	if len(*statusEndpointOpt) == 0 {
		t.Skip("status export test needs --status-endpoint")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// A unique bucket keeps concurrent test runs from treading on each
	// other and exercises the bucket creation path
	bucket := "status-" + xid.New().String()

	exporter, err := NewExporter(*statusEndpointOpt, *statusAccessOpt, *statusSecretOpt, bucket, "advisor/", false)
	if err != nil {
		t.Fatal(err)
	}

	snap := testSnapshot()
	if err = exporter.Export(ctx, snap); err != nil {
		t.Fatal(err)
	}

	client, errGo := minio.New(*statusEndpointOpt, &minio.Options{
		Creds:  miniocreds.NewStaticV4(*statusAccessOpt, *statusSecretOpt, ""),
		Secure: false,
	})
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("endpoint", *statusEndpointOpt).With("stack", stack.Trace().TrimRuntime()))
	}

	key := exporter.Key(snap.Environment)
	obj, errGo := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("endpoint", *statusEndpointOpt, "bucket", bucket, "key", key).With("stack", stack.Trace().TrimRuntime()))
	}
	payload, errGo := ioutil.ReadAll(obj)
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("endpoint", *statusEndpointOpt, "bucket", bucket, "key", key).With("stack", stack.Trace().TrimRuntime()))
	}

	read := Snapshot{}
	if errGo = json.Unmarshal(payload, &read); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if read.Environment != snap.Environment || len(read.Queues) != len(snap.Queues) {
		t.Fatal(kv.NewError("exported snapshot did not survive the round trip").With("environment", read.Environment, "queues", len(read.Queues), "stack", stack.Trace().TrimRuntime()))
	}
	if read.Queues["prodJobQueue_memory_high"].Ready != snap.Queues["prodJobQueue_memory_high"].Ready {
		t.Fatal(kv.NewError("exported depths did not survive the round trip").With("stack", stack.Trace().TrimRuntime()))
	}

	// Erase what this test wrote so repeated runs against a shared server
	// stay tidy
	if errGo = client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("endpoint", *statusEndpointOpt, "bucket", bucket, "key", key).With("stack", stack.Trace().TrimRuntime()))
	}
	if errGo = client.RemoveBucket(ctx, bucket); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("endpoint", *statusEndpointOpt, "bucket", bucket).With("stack", stack.Trace().TrimRuntime()))
	}
}
