// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package catalog

// This file contains tests that exercise the RabbitMQ catalog reader
// against a live broker.  The tests are skipped unless an AMQP_URL has
// been supplied, typically pointing at the broker the standalone test
// image starts.

import (
	"context"
	"flag"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/karlmutch/envflag"
	"github.com/rs/xid"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

var (
	amqpURLOpt = flag.String("amqp-url", "", "The URL for an amqp based message queue server used during testing")
)

func TestMain(m *testing.M) {
	// Only perform this Parsed check inside the test framework
	if !flag.Parsed() {
		envflag.Parse()
	}
	os.Exit(m.Run())
}

// rmqCreds extracts the user name and password from the test broker URL
// in the form the catalog reader expects them
func rmqCreds() (creds string, err kv.Error) {
	qURL, errGo := url.Parse(os.ExpandEnv(*amqpURLOpt))
	if errGo != nil {
		return "", kv.Wrap(errGo).With("url", *amqpURLOpt).With("stack", stack.Trace().TrimRuntime())
	}
	if qURL.User == nil {
		return "", kv.NewError("missing credentials in url").With("url", *amqpURLOpt).With("stack", stack.Trace().TrimRuntime())
	}
	pass, _ := qURL.User.Password()
	return qURL.User.Username() + ":" + pass, nil
}

func TestRMQCatalog(t *testing.T) {
	if len(*amqpURLOpt) == 0 {
		t.Skip("amqp-url not specified, rabbitMQ testing disabled")
	}

	creds, err := rmqCreds()
	if err != nil {
		t.Fatal(err)
	}

	if err = PingRMQServer(*amqpURLOpt, creds); err != nil {
		t.Fatal(err)
	}

	cat, err := NewRabbitCatalog(*amqpURLOpt, creds)
	if err != nil {
		t.Fatal(err)
	}

	// Use a unique environment so concurrent test runs cannot interfere
	// with each other on a shared broker
	environment := "tst" + xid.New().String()

	provisioned := []string{
		environment + "JobQueue_general_medium",
		environment + "JobQueue_cpu_high",
	}
	for _, name := range provisioned {
		if err = cat.QueueDeclare(name); err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		for _, name := range provisioned {
			if err := cat.QueueDestroy(name); err != nil {
				t.Log(err.Error())
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// The management interface digests queue declarations asynchronously
	// so allow the listing a few attempts before judging it
	known := map[string]*QueueDescriptor{}
	for attempt := 0; attempt != 10; attempt++ {
		if known, err = cat.Refresh(ctx, environment); err != nil {
			t.Fatal(err)
		}
		if len(known) == len(provisioned) {
			break
		}
		time.Sleep(time.Second)
	}
	if len(known) != len(provisioned) {
		t.Fatal(kv.NewError("provisioned queues were not listed").With("listed", len(known), "stack", stack.Trace().TrimRuntime()))
	}

	desc, isPresent := known[provisioned[0]]
	if !isPresent || !desc.Typed || !desc.Enabled {
		t.Fatal(kv.NewError("general queue descriptor incomplete").With("stack", stack.Trace().TrimRuntime()))
	}

	exists, err := cat.Exists(ctx, provisioned[1])
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal(kv.NewError("provisioned queue reported absent").With("queue", provisioned[1], "stack", stack.Trace().TrimRuntime()))
	}

	exists, err = cat.Exists(ctx, environment+"JobQueue_memory_low")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal(kv.NewError("unprovisioned queue reported present").With("stack", stack.Trace().TrimRuntime()))
	}
}

func TestRMQDepths(t *testing.T) {
	if len(*amqpURLOpt) == 0 {
		t.Skip("amqp-url not specified, rabbitMQ testing disabled")
	}

	creds, err := rmqCreds()
	if err != nil {
		t.Fatal(err)
	}

	if err = PingRMQServer(*amqpURLOpt, creds); err != nil {
		t.Fatal(err)
	}

	cat, err := NewRabbitCatalog(*amqpURLOpt, creds)
	if err != nil {
		t.Fatal(err)
	}

	environment := "tst" + xid.New().String()
	name := environment + "JobQueue_general_medium"

	if err = cat.QueueDeclare(name); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := cat.QueueDestroy(name); err != nil {
			t.Log(err.Error())
		}
	}()

	expected := 3
	for i := 0; i != expected; i++ {
		if err = cat.Publish(name, "application/json", []byte(`{"experiment": "depth-test"}`)); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Depth figures surface through the management interface with a small
	// lag so poll until they arrive
	depth := Depth{}
	for attempt := 0; attempt != 10; attempt++ {
		depths, err := cat.Depths(ctx, []string{name})
		if err != nil {
			t.Fatal(err)
		}
		if sample, isPresent := depths[name]; isPresent && sample.Ready == int64(expected) {
			depth = sample
			break
		}
		time.Sleep(time.Second)
	}
	if depth.Ready != int64(expected) {
		t.Fatal(kv.NewError("published messages were not counted").With("ready", depth.Ready, "expected", expected, "stack", stack.Trace().TrimRuntime()))
	}
	if depth.Active != 0 {
		t.Fatal(kv.NewError("idle queue reported active work").With("active", depth.Active, "stack", stack.Trace().TrimRuntime()))
	}
}
