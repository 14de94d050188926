// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package creds

// Tests for the credential bundle covering static key validation, the
// enclave round trip into an AWS session, and extraction from shared
// credentials style files.  None of the tests touch the network, the
// static and shared file providers resolve locally.

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

func TestStaticBundleValidation(t *testing.T) {
	scenarios := []struct {
		access string
		secret string
		region string
		valid  bool
	}{
		{access: "AKIAEXAMPLE", secret: "wJalrEXAMPLEKEY", region: "us-west-2", valid: true},
		{access: "AKIAEXAMPLE", secret: "", region: "us-west-2", valid: false},
		{access: "", secret: "wJalrEXAMPLEKEY", region: "us-west-2", valid: false},
		{access: "AKIAEXAMPLE", secret: "wJalrEXAMPLEKEY", region: "", valid: false},
		{access: "", secret: "", region: "", valid: false},
	}

	for i, scenario := range scenarios {
		bundle, err := NewStaticBundle(scenario.access, scenario.secret, scenario.region)
		if scenario.valid {
			if err != nil {
				t.Fatal(err.With("scenario", i))
			}
			if bundle.Region != scenario.region {
				t.Fatal(kv.NewError("region was not retained").With("scenario", i, "region", bundle.Region, "stack", stack.Trace().TrimRuntime()))
			}
			continue
		}
		if err == nil {
			t.Fatal(kv.NewError("partial static configuration was accepted").With("scenario", i, "stack", stack.Trace().TrimRuntime()))
		}
	}
}

func TestStaticBundleSession(t *testing.T) {
	bundle, err := NewStaticBundle("AKIAEXAMPLE", "wJalrEXAMPLEKEY", "us-west-2")
	if err != nil {
		t.Fatal(err)
	}

	sess, err := bundle.NewSession()
	if err != nil {
		t.Fatal(err)
	}

	values, errGo := sess.Config.Credentials.Get()
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if values.AccessKeyID != "AKIAEXAMPLE" {
		t.Fatal(kv.NewError("access key did not survive the enclave round trip").With("stack", stack.Trace().TrimRuntime()))
	}
	if values.SecretAccessKey != "wJalrEXAMPLEKEY" {
		t.Fatal(kv.NewError("secret key did not survive the enclave round trip").With("stack", stack.Trace().TrimRuntime()))
	}

	// A second session must be obtainable from the same bundle
	if _, err = bundle.NewSession(); err != nil {
		t.Fatal(err)
	}
}

func TestFileBundle(t *testing.T) {
	dir := t.TempDir()

	credsFn := filepath.Join(dir, "credentials")
	credsBody := "[default]\naws_access_key_id = AKIAFROMFILE\naws_secret_access_key = wJalrFROMFILE\n"
	if errGo := os.WriteFile(credsFn, []byte(credsBody), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}

	configFn := filepath.Join(dir, "config")
	configBody := "[default]\nregion = eu-central-1\n"
	if errGo := os.WriteFile(configFn, []byte(configBody), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}

	bundle, err := NewFileBundle([]string{credsFn, configFn}, "")
	if err != nil {
		t.Fatal(err)
	}
	if bundle.Region != "eu-central-1" {
		t.Fatal(kv.NewError("region was not read from the config file").With("region", bundle.Region, "stack", stack.Trace().TrimRuntime()))
	}

	sess, err := bundle.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	values, errGo := sess.Config.Credentials.Get()
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if values.AccessKeyID != "AKIAFROMFILE" {
		t.Fatal(kv.NewError("key material was not read from the credentials file").With("stack", stack.Trace().TrimRuntime()))
	}
}

func TestFileBundleMissingRegion(t *testing.T) {
	dir := t.TempDir()

	credsFn := filepath.Join(dir, "credentials")
	credsBody := "[default]\naws_access_key_id = AKIAFROMFILE\naws_secret_access_key = wJalrFROMFILE\n"
	if errGo := os.WriteFile(credsFn, []byte(credsBody), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}

	if _, err := NewFileBundle([]string{credsFn}, ""); err == nil {
		t.Fatal(kv.NewError("a credentials file without a region was accepted").With("stack", stack.Trace().TrimRuntime()))
	}
}
