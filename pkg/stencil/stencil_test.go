// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package stencil

// This file contains tests for submission document rendering and for the
// edit directives that are applied to rendered documents before they are
// handed to the platforms submission path

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
	"github.com/rs/xid"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/go-test/deep"
)

// TestStencilRender exercises the variable layering used when rendering
// submission documents, a selection arriving as the JSON values document,
// a value file, and override values with the overrides winning
func TestStencilRender(t *testing.T) {

	dir, errGo := ioutil.TempDir("", xid.New().String())
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	defer os.RemoveAll(dir)

	valuesFn := filepath.Join(dir, "values.yaml")
	values := "project: edi-claims\nregion: us-west-2\nowner: platform\n"
	if errGo = ioutil.WriteFile(valuesFn, []byte(values), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", valuesFn, "stack", stack.Trace().TrimRuntime()))
	}

	selection := `{"Selection": {"environment": "prod", "fallback_used": false, "queue": {"name": "prodJobQueue_memory_high"}}}`

	submission := `{"queue": "{{ .Selection.queue.name }}", "environment": "{{ .Selection.environment | upper }}", "project": "{{ .project }}", "owner": "{{ .owner }}", "fallback": {{ .Selection.fallback_used }}}`
	manifest := `{{ .Selection | toJson }}`

	subOut := &bytes.Buffer{}
	manifestOut := &bytes.Buffer{}

	opts := TemplateOptions{
		IOFiles: []TemplateIOFiles{
			{In: strings.NewReader(submission), Out: subOut},
			{In: strings.NewReader(manifest), Out: manifestOut},
		},
		JSONValues: selection,
		ValueFiles: []string{valuesFn},
		OverrideValues: map[string]string{
			"owner": "'claims'",
		},
	}

	err, warnings := Template(opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatal(kv.NewError("unexpected warnings").With("warnings", warnings, "stack", stack.Trace().TrimRuntime()))
	}

	expected := `{"queue": "prodJobQueue_memory_high", "environment": "PROD", "project": "edi-claims", "owner": "claims", "fallback": false}`
	if diff := deep.Equal(expected, subOut.String()); diff != nil {
		t.Fatal(kv.NewError("rendered submission did not match").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}

	expectedManifest := `{"environment":"prod","fallback_used":false,"queue":{"name":"prodJobQueue_memory_high"}}`
	if diff := deep.Equal(expectedManifest, manifestOut.String()); diff != nil {
		t.Fatal(kv.NewError("rendered manifest did not match").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}
}

// TestStencilRaiseError checks that a template can flag its own
// validation failures and that the failure surfaces to the caller
func TestStencilRaiseError(t *testing.T) {

	submission := `{{ if not .Selection }}{{ RaiseError "a selection is needed to render a submission" }}{{ end }}`

	out := &bytes.Buffer{}
	opts := TemplateOptions{
		IOFiles: []TemplateIOFiles{
			{In: strings.NewReader(submission), Out: out},
		},
	}

	err, warnings := Template(opts)
	if err == nil {
		t.Fatal(kv.NewError("a raised template error went unreported").With("stack", stack.Trace().TrimRuntime()))
	}
	if !strings.Contains(err.Error(), "a selection is needed") {
		t.Fatal(kv.NewError("the raised message was lost").With("error", err.Error(), "stack", stack.Trace().TrimRuntime()))
	}
	if len(warnings) != 1 {
		t.Fatal(kv.NewError("unexpected warning count").With("warnings", warnings, "stack", stack.Trace().TrimRuntime()))
	}
}

// TestDocMergePatch is used to exercise the IETF Merge patch document for
// https://tools.ietf.org/html/rfc7386
func TestDocMergePatch(t *testing.T) {

	x1 := map[string]interface{}{
		"job": map[string]interface{}{
			"cpus":  2,
			"queue": "devJobQueue_general_medium",
		},
	}
	x2 := map[string]interface{}{
		"job": map[string]interface{}{
			"cpus":     4,
			"priority": "medium",
		},
	}

	expected1 := `{ "job": { "cpus": 2, "priority": "medium", "queue": "devJobQueue_general_medium" } }`
	doc1, err := MergedDocument(x1, x2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(expected1, doc1); diff != nil {
		t.Fatal(kv.NewError("JSON Merge Patch RFC 7386 Test failed").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}

	expected2 := `{ "job": { "cpus": 4, "priority": "medium", "queue": "devJobQueue_general_medium" } }`
	doc2, err := MergedDocument(x2, x1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(expected2, doc2); diff != nil {
		t.Fatal(kv.NewError("JSON Merge Patch RFC 7386 Test failed").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}
}

// TestDocEditor drives the document editor with a mixture of RFC 6902
// patches and RFC 7386 merge documents building up a submission
func TestDocEditor(t *testing.T) {

	type testCase struct {
		directive string
		expected  string
	}
	// A table driven test is used with progressive edits and merges
	testCases := []testCase{
		{
			`{"job": {"name": "claims-837-batch", "queue": "devJobQueue_general_medium", "cpus": 2}}`,
			`{"job": {"name": "claims-837-batch", "queue": "devJobQueue_general_medium", "cpus": 2}}`,
		},
		{
			`[{"op": "replace", "path": "/job/queue", "value": "devJobQueue_memory_high"}]`,
			`{"job": {"name": "claims-837-batch", "queue": "devJobQueue_memory_high", "cpus": 2}}`,
		},
		{
			`[{"op": "remove", "path": "/job/cpus"}]`,
			`{"job": {"name": "claims-837-batch", "queue": "devJobQueue_memory_high"}}`,
		},
		{
			`[{"op": "add", "path": "/job/memory", "value": "32gb"}]`,
			`{"job": {"name": "claims-837-batch", "queue": "devJobQueue_memory_high", "memory": "32gb"}}`,
		},
		{
			`{"job": {"retries": 3}}`,
			`{"job": {"name": "claims-837-batch", "queue": "devJobQueue_memory_high", "memory": "32gb", "retries": 3}}`,
		},
	}

	doc := "{}"
	// run one directive at a time
	for _, testCase := range testCases {
		newDoc, err := EditDocument(doc, []string{testCase.directive})
		if err != nil {
			t.Fatal(err)
		}
		if !jsonpatch.Equal([]byte(newDoc), []byte(testCase.expected)) {
			t.Fatal(kv.NewError("JSON Editor Test failed").With("expected", testCase.expected, "actual", newDoc, "stack", stack.Trace().TrimRuntime()))
		}
		doc = newDoc
	}

	// re-run the directives in incremental batches
	for limit := 1; limit != len(testCases)-1; limit++ {
		directives := []string{}
		for _, testCase := range testCases[0:limit] {
			directives = append(directives, testCase.directive)
		}
		doc, err := EditDocument("{}", directives)
		if err != nil {
			t.Fatal(err)
		}
		if !jsonpatch.Equal([]byte(doc), []byte(testCases[limit-1].expected)) {
			t.Fatal(kv.NewError("JSON Editor Test failed").With("expected", testCases[limit-1].expected, "actual", doc, "stack", stack.Trace().TrimRuntime()))
		}
	}
}
