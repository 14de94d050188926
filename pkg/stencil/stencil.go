// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package stencil

// This file implements the rendering of job submission documents from Go
// templates.  The advisors queue selection is handed to the template as a
// JSON document along with any operator supplied value files, override
// values, and the process environment, and the MasterMinds sprig library
// supplies the general purpose template functions.
//
// Portions of the variable handling are derived from an Apache 2.0
// Licensed CLI utility that can be found at https://github.com/subchen/frep,
// reworked here for use as a library.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/sprig/v3"
	"github.com/go-yaml/yaml"

	"github.com/go-stack/stack" // Forked copy of https://github.com/go-stack/stack
	"github.com/jjeffery/kv"    // Forked copy of https://github.com/jjeffery/kv
)

// FuncMap returns the template function table, the sprig collection
// augmented with document conversion functions and any caller supplied
// functions.
//
// For more documentation about templating see http://masterminds.github.io/sprig/
func FuncMap(funcs map[string]interface{}) (f template.FuncMap) {
	f = sprig.TxtFuncMap()

	f["toJson"] = toJson
	f["toYaml"] = toYaml
	f["toToml"] = toToml

	for name, fun := range funcs {
		f[name] = fun
	}
	return f
}

// The conversion functions are called from inside executing templates so
// they never return errors, a value that cannot be marshaled renders as
// an empty string.

func toJson(v interface{}) string {
	data, errGo := json.Marshal(v)
	if errGo != nil {
		return ""
	}
	return string(data)
}

func toYaml(v interface{}) string {
	data, errGo := yaml.Marshal(v)
	if errGo != nil {
		return ""
	}
	return string(data)
}

func toToml(v interface{}) string {
	b := bytes.NewBuffer(nil)
	if errGo := toml.NewEncoder(b).Encode(v); errGo != nil {
		return ""
	}
	return b.String()
}

// newTemplateVariables assembles the variable map handed to the template.
// Values are layered, the process environment under the Env key first,
// then the JSON document, then each value file in order, and finally the
// override values, with later layers replacing keys from earlier ones.
func newTemplateVariables(jsonVals string, loadFiles []string, overrideVals map[string]string) (vars map[string]interface{}, err kv.Error) {

	vars = map[string]interface{}{}

	envs := map[string]interface{}{}
	for _, env := range os.Environ() {
		keyval := strings.SplitN(env, "=", 2)
		envs[keyval[0]] = keyval[1]
	}
	vars["Env"] = envs

	if jsonVals != "" {
		obj := map[string]interface{}{}
		if errGo := json.Unmarshal([]byte(jsonVals), &obj); errGo != nil {
			return nil, kv.Wrap(errGo, "bad json values document").With("stack", stack.Trace().TrimRuntime())
		}
		for k, v := range obj {
			vars[k] = v
		}
	}

	for _, file := range loadFiles {
		byts, errGo := ioutil.ReadFile(file)
		if errGo != nil {
			return nil, kv.Wrap(errGo).With("file", file).With("stack", stack.Trace().TrimRuntime())
		}

		obj := map[string]interface{}{}

		switch filepath.Ext(file) {
		case ".json":
			if errGo := json.Unmarshal(byts, &obj); errGo != nil {
				return nil, kv.Wrap(errGo, "unrecognized json").With("file", file).With("stack", stack.Trace().TrimRuntime())
			}
		case ".yaml", ".yml":
			if errGo := yaml.Unmarshal(byts, &obj); errGo != nil {
				return nil, kv.Wrap(errGo, "unrecognized yaml").With("file", file).With("stack", stack.Trace().TrimRuntime())
			}
		case ".toml":
			if errGo := toml.Unmarshal(byts, &obj); errGo != nil {
				return nil, kv.Wrap(errGo, "unrecognized toml").With("file", file).With("stack", stack.Trace().TrimRuntime())
			}
		default:
			return nil, kv.NewError("unsupported value file type (extension)").With("file", file).With("stack", stack.Trace().TrimRuntime())
		}

		for k, v := range obj {
			vars[k] = v
		}
	}

	for k, v := range overrideVals {
		// remove quotes for key="value" and key='value' styles
		if strings.HasPrefix(v, "\"") && strings.HasSuffix(v, "\"") {
			v = v[1 : len(v)-1]
		} else if strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'") {
			v = v[1 : len(v)-1]
		}
		vars[k] = v
	}

	return vars, nil
}

func templateExecute(t *template.Template, src io.Reader, dest io.Writer, ctx interface{}) (err kv.Error) {

	readBytes, errGo := ioutil.ReadAll(src)
	if errGo != nil {
		return kv.Wrap(errGo, "template could not be read").With("stack", stack.Trace().TrimRuntime())
	}

	tmpl, errGo := t.Parse(string(readBytes))
	if errGo != nil {
		return kv.Wrap(errGo, "template could not be parsed").With("stack", stack.Trace().TrimRuntime())
	}

	if errGo = tmpl.Execute(dest, ctx); errGo != nil {
		return kv.Wrap(errGo, "rendered document could not be produced").With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// TemplateIOFiles pairs a template source with the destination its
// rendered document is written to
type TemplateIOFiles struct {
	In  io.Reader
	Out io.Writer
}

// TemplateOptions carries the streams and the variable sources for a
// rendering run.  JSONValues is a JSON object whose top level keys become
// template variables and is how callers inject structured results, the
// selection for example, into the document.
type TemplateOptions struct {
	IOFiles        []TemplateIOFiles
	Delimiters     []string
	JSONValues     string
	ValueFiles     []string
	OverrideValues map[string]string
}

// Template renders each of the input documents using the assembled
// variables.  Templates can flag their own validation failures using the
// RaiseError function, the first raised error is returned and the full
// set comes back as warnings.
func Template(opts TemplateOptions) (err kv.Error, warnings []kv.Error) {

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, r)
		}
	}()

	tmplErrs := []kv.Error{}
	funcs := template.FuncMap{
		"RaiseError": func(msg string) string {
			tmplErrs = append(tmplErrs, kv.NewError(msg).With("stack", stack.Trace().TrimRuntime()))
			return ""
		},
	}

	t := template.New("submission").Funcs(FuncMap(funcs))

	if len(opts.Delimiters) != 0 {
		if len(opts.Delimiters) != 2 {
			return kv.NewError("unexpected number of delimiters, two are expected [\"left\",\"right\"]").With("stack", stack.Trace().TrimRuntime()), warnings
		}
		t = t.Delims(opts.Delimiters[0], opts.Delimiters[1])
	}

	vars, err := newTemplateVariables(opts.JSONValues, opts.ValueFiles, opts.OverrideValues)
	if err != nil {
		return err, warnings
	}

	for _, files := range opts.IOFiles {
		if err = templateExecute(t, files.In, files.Out, vars); err != nil {
			return err, warnings
		}
	}
	if len(tmplErrs) != 0 {
		return tmplErrs[0], tmplErrs
	}

	return nil, warnings
}
