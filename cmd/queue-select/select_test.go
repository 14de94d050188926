// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This file contains tests for the assembly of job resource profiles from
// job spec documents and flag overrides, and for the production of
// rendered submission documents

import (
	"encoding/json"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leaf-ai/queue-advisor/internal/catalog"
	"github.com/leaf-ai/queue-advisor/internal/classify"
	"github.com/leaf-ai/queue-advisor/internal/selector"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
	"github.com/rs/xid"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/go-test/deep"
)

// testSelection produces a selection the way advise would for a job that
// classified onto the environments memory queue
func testSelection() (selection *selector.Selection) {
	return &selector.Selection{
		JobID:       "batch eligibility/270@2022-03",
		Environment: "dev",
		Class:       classify.MemoryOptimized,
		Tier:        classify.High,
		Queue:       catalog.NewDescriptor("devJobQueue_memory_high"),
	}
}

// TestReadProfileOverrides checks that explicit flag values override the
// job spec document while unset flags leave it untouched
func TestReadProfileOverrides(t *testing.T) {

	dir, errGo := ioutil.TempDir("", xid.New().String())
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	defer os.RemoveAll(dir)

	jobFn := filepath.Join(dir, "job.json")
	jobDoc := `{"job_id": "nightly-claims", "cpu_count": 2, "memory_gb": 4}`
	if errGo = ioutil.WriteFile(jobFn, []byte(jobDoc), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", jobFn, "stack", stack.Trace().TrimRuntime()))
	}

	cfg := &Config{
		jobSpec:    jobFn,
		cpus:       8,
		memory:     "32gb",
		serverless: true,
	}

	item, err := readProfile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if item.JobID != "nightly-claims" {
		t.Fatal(kv.NewError("the job identifier was not preserved").With("job_id", item.JobID, "stack", stack.Trace().TrimRuntime()))
	}
	if item.CPUCount != 8 {
		t.Fatal(kv.NewError("the cpu override was not applied").With("cpu_count", item.CPUCount, "stack", stack.Trace().TrimRuntime()))
	}
	if math.Abs(item.MemoryGB-32.0) > 0.001 {
		t.Fatal(kv.NewError("the memory override was not applied").With("memory_gb", item.MemoryGB, "stack", stack.Trace().TrimRuntime()))
	}
	if !item.Serverless {
		t.Fatal(kv.NewError("the serverless override was not applied").With("stack", stack.Trace().TrimRuntime()))
	}

	// A run with no job spec and no overrides uses the platform defaults
	// and mints a job identifier
	item, err = readProfile(&Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(item.JobID) == 0 {
		t.Fatal(kv.NewError("a job identifier should have been assigned").With("stack", stack.Trace().TrimRuntime()))
	}
	if item.CPUCount != 1 || item.MemoryGB != 0 || item.Serverless {
		t.Fatal(kv.NewError("the platform defaults were not applied").With("profile", item.String(), "stack", stack.Trace().TrimRuntime()))
	}
}

// TestRenderDirectives exercises the no template path where the edit
// directives are applied to the selection document itself
func TestRenderDirectives(t *testing.T) {

	dir, errGo := ioutil.TempDir("", xid.New().String())
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	defer os.RemoveAll(dir)

	editsFn := filepath.Join(dir, "edits.jsonl")
	edits := `# promote the submission into the scheduler owned queue set
[{"op": "add", "path": "/approved_by", "value": "scheduler"}]

{"labels": {"team": "claims"}}
`
	if errGo = ioutil.WriteFile(editsFn, []byte(edits), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", editsFn, "stack", stack.Trace().TrimRuntime()))
	}

	selection := testSelection()
	submission, err := renderSubmission(&Config{editsFn: editsFn}, selection)
	if err != nil {
		t.Fatal(err)
	}

	edited := map[string]interface{}{}
	if errGo = json.Unmarshal([]byte(submission), &edited); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("submission", submission, "stack", stack.Trace().TrimRuntime()))
	}
	if diff := deep.Equal(edited["approved_by"], interface{}("scheduler")); diff != nil {
		t.Fatal(kv.NewError("the patch directive was not applied").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}
	if diff := deep.Equal(edited["queue"].(map[string]interface{})["name"], interface{}("devJobQueue_memory_high")); diff != nil {
		t.Fatal(kv.NewError("the selection was lost during editing").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}
	if diff := deep.Equal(edited["labels"], interface{}(map[string]interface{}{"team": "claims"})); diff != nil {
		t.Fatal(kv.NewError("the merge directive was not applied").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}
}

// TestRenderTemplate exercises the template path end to end, the
// selection is injected, value files are layered, and the rendered
// document is edited before being written out
func TestRenderTemplate(t *testing.T) {

	dir, errGo := ioutil.TempDir("", xid.New().String())
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	defer os.RemoveAll(dir)

	templateFn := filepath.Join(dir, "submission.tmpl")
	template := `{"queue": "{{ .Selection.queue.name }}", "environment": "{{ .Selection.environment }}", "region": "{{ .region }}", "fallback": {{ .Selection.fallback_used }}}`
	if errGo = ioutil.WriteFile(templateFn, []byte(template), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", templateFn, "stack", stack.Trace().TrimRuntime()))
	}

	valuesFn := filepath.Join(dir, "values.yaml")
	if errGo = ioutil.WriteFile(valuesFn, []byte("region: us-west-2\n"), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", valuesFn, "stack", stack.Trace().TrimRuntime()))
	}

	editsFn := filepath.Join(dir, "edits.jsonl")
	if errGo = ioutil.WriteFile(editsFn, []byte(`[{"op": "add", "path": "/retries", "value": 3}]`+"\n"), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", editsFn, "stack", stack.Trace().TrimRuntime()))
	}

	cfg := &Config{
		templateFn: templateFn,
		valueFiles: []string{valuesFn},
		editsFn:    editsFn,
	}

	submission, err := renderSubmission(cfg, testSelection())
	if err != nil {
		t.Fatal(err)
	}

	expected := `{"queue": "devJobQueue_memory_high", "environment": "dev", "region": "us-west-2", "fallback": false, "retries": 3}`
	if !jsonpatch.Equal([]byte(submission), []byte(expected)) {
		t.Fatal(kv.NewError("the rendered submission did not match").With("expected", expected, "actual", submission, "stack", stack.Trace().TrimRuntime()))
	}
}

// TestWriteSubmission checks the naming of rendered submission files, the
// job identifier is defanged with a short hash and a unique suffix keeps
// repeated runs from colliding
func TestWriteSubmission(t *testing.T) {

	dir, errGo := ioutil.TempDir("", xid.New().String())
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	defer os.RemoveAll(dir)

	jobID := "batch eligibility/270@2022-03"
	doc := `{"queue": "devJobQueue_memory_high"}`

	first, err := writeSubmission(dir, jobID, doc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := writeSubmission(dir, jobID, doc)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal(kv.NewError("repeated runs produced the same file name").With("file", first, "stack", stack.Trace().TrimRuntime()))
	}

	prefix := getHash(jobID) + "_"
	for _, fn := range []string{first, second} {
		base := filepath.Base(fn)
		if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, ".json") {
			t.Fatal(kv.NewError("the file name did not carry the defanged job identifier").With("file", base, "stack", stack.Trace().TrimRuntime()))
		}
		if strings.ContainsAny(base, " /@") {
			t.Fatal(kv.NewError("the file name was not defanged").With("file", base, "stack", stack.Trace().TrimRuntime()))
		}
	}

	stored, errGo := ioutil.ReadFile(first)
	if errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", first, "stack", stack.Trace().TrimRuntime()))
	}
	if diff := deep.Equal(doc, string(stored)); diff != nil {
		t.Fatal(kv.NewError("the stored submission did not match").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}
}
