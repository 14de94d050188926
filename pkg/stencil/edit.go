// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package stencil

// This file contains functions for applying edit directives to rendered
// submission documents.  A directive is a JSON document that validates as
// either an RFC 6902 patch, applied as one, or as an RFC 7386 merge
// document, merged over the submission.

import (
	"encoding/json"
	"strings"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License

	jsonpatch "github.com/evanphx/json-patch"
)

// MergeDocs merges the two JSON marshalable values x1 and x2, preferring
// x1 over x2 except where both sides are JSON objects, in which case the
// keys from both objects are included and their values merged
// recursively.
//
// It returns an error if x1 or x2 cannot be JSON marshaled.
func MergeDocs(x1, x2 interface{}) (merged interface{}, err kv.Error) {
	data1, errGo := json.Marshal(x1)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	data2, errGo := json.Marshal(x2)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	var j1 interface{}
	if errGo = json.Unmarshal(data1, &j1); errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	var j2 interface{}
	if errGo = json.Unmarshal(data2, &j2); errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return mergeMaps(j1, j2), nil
}

func mergeMaps(x1, x2 interface{}) interface{} {
	switch x1 := x1.(type) {
	case map[string]interface{}:
		x2, ok := x2.(map[string]interface{})
		if !ok {
			return x1
		}
		for k, v2 := range x2 {
			if v1, ok := x1[k]; ok {
				x1[k] = mergeMaps(v1, v2)
			} else {
				x1[k] = v2
			}
		}
	case nil:
		// merge(nil, map[string]interface{...}) -> map[string]interface{...}
		x2, ok := x2.(map[string]interface{})
		if ok {
			return x2
		}
	}
	return x1
}

// MergedDocument merges x1 over x2 and returns the result marshaled as a
// single line of JSON
func MergedDocument(x1, x2 interface{}) (doc string, err kv.Error) {
	x3, err := MergeDocs(x1, x2)
	if err != nil {
		return "", err
	}

	data, errGo := json.MarshalIndent(x3, "", "\t")
	if errGo != nil {
		return "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	lines := []string{}
	for _, aLine := range strings.Split(string(data), "\n") {
		lines = append(lines, strings.TrimSpace(aLine))
	}

	return strings.Join(lines, " "), nil
}

// EditDocument accepts a source JSON document and an ordered collection
// of edit directives and applies each in turn, as an RFC 6902 patch when
// the directive validates as one and as an RFC 7386 merge document
// otherwise.  An empty source document is treated as the empty object so
// directives can build a submission from nothing.
func EditDocument(srcDoc string, directives []string) (result string, err kv.Error) {

	doc := []byte(srcDoc)

	if len(doc) == 0 {
		doc = []byte(`{}`)
	}

	for _, directive := range directives {
		patch, errGo := jsonpatch.DecodePatch([]byte(directive))
		if errGo == nil {
			if doc, errGo = patch.Apply(doc); errGo != nil {
				return "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
			}
			continue
		}

		var edit interface{}
		if errGo = json.Unmarshal([]byte(directive), &edit); errGo != nil {
			return "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}
		var sourceDoc interface{}
		if errGo = json.Unmarshal(doc, &sourceDoc); errGo != nil {
			return "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}
		merged, err := MergedDocument(&edit, &sourceDoc)
		if err != nil {
			return "", err
		}
		doc = []byte(merged)
	}

	return string(doc), nil
}
