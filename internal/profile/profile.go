// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package profile

// This file contains the implementation of a parser for the resource profile
// section of job submission documents formatted using JSON.
//
// To parse and unparse this JSON data use the following ...
//
//    p, err := UnmarshalProfile(bytes)
//    bytes, err = p.Marshal()
//
// Submitters are inconsistent about the types they use for the resource
// fields so the decoder accepts numbers, quoted numbers, and humanized
// size strings and falls back to documented defaults rather than
// rejecting the job.

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
	"github.com/rs/xid"
)

const (
	// DefaultCPUCount is assumed when a submission does not state a usable cpu count
	DefaultCPUCount = uint(1)
	// DefaultMemoryGB is assumed when a submission does not state a usable memory quantity
	DefaultMemoryGB = float64(0)
)

// Profile describes the resources a single job declares for itself inside
// its submission document
//
type Profile struct {
	JobID      string  `json:"job_id"`
	CPUCount   uint    `json:"cpu_count"`
	MemoryGB   float64 `json:"memory_gb"`
	Serverless bool    `json:"uses_serverless_execution"`
}

// wireProfile defers the numeric fields so that submissions carrying the
// wrong types can be recovered field by field
type wireProfile struct {
	JobID      string          `json:"job_id"`
	CPUCount   json.RawMessage `json:"cpu_count"`
	MemoryGB   json.RawMessage `json:"memory_gb"`
	Serverless bool            `json:"uses_serverless_execution"`
}

func (p Profile) String() (serialized string) {
	serialize, _ := json.Marshal(p)

	return string(serialize)
}

// New returns a profile populated with the platform defaults and a freshly
// generated job identifier
//
func New() (p *Profile) {
	return &Profile{
		JobID:    xid.New().String(),
		CPUCount: DefaultCPUCount,
		MemoryGB: DefaultMemoryGB,
	}
}

// UnmarshalProfile parses a profile document.  Field level problems such as
// absent values or values of the wrong type are recovered using the
// documented defaults.  Only a document that is not JSON at all is
// reported as an error.
//
func UnmarshalProfile(data []byte) (p *Profile, err kv.Error) {
	wire := &wireProfile{}
	if errGo := json.Unmarshal(data, wire); errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	p = &Profile{
		JobID:      wire.JobID,
		CPUCount:   decodeCPUCount(wire.CPUCount),
		MemoryGB:   decodeMemoryGB(wire.MemoryGB),
		Serverless: wire.Serverless,
	}

	// Jobs are tracked by an identifier carried with the job rather than
	// anything reverse engineered from queue or job names later on
	if len(p.JobID) == 0 {
		p.JobID = xid.New().String()
	}
	return p, nil
}

// Marshal serializes the profile as json to a byte array
//
func (p *Profile) Marshal() (buffer []byte, err kv.Error) {
	buffer, errGo := json.Marshal(p)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return buffer, nil
}

// decodeCPUCount recovers a usable whole cpu count from whatever the
// submitter sent, 1 being the documented default for anything unusable
//
func decodeCPUCount(raw json.RawMessage) (cpus uint) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return DefaultCPUCount
	}

	asFloat := float64(0)
	if errGo := json.Unmarshal(raw, &asFloat); errGo == nil {
		if asFloat < 1 {
			return DefaultCPUCount
		}
		return uint(asFloat)
	}

	asString := ""
	if errGo := json.Unmarshal(raw, &asString); errGo == nil {
		if parsed, errGo := strconv.ParseFloat(strings.TrimSpace(asString), 64); errGo == nil && parsed >= 1 {
			return uint(parsed)
		}
	}
	return DefaultCPUCount
}

// decodeMemoryGB recovers a memory quantity in GB.  Plain numbers are taken
// as GB, strings are tried first as numbers then as humanized sizes such
// as "32gb", anything else decodes to the 0 default
//
func decodeMemoryGB(raw json.RawMessage) (memoryGB float64) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return DefaultMemoryGB
	}

	asFloat := float64(0)
	if errGo := json.Unmarshal(raw, &asFloat); errGo == nil {
		if asFloat < 0 {
			return DefaultMemoryGB
		}
		return asFloat
	}

	asString := ""
	if errGo := json.Unmarshal(raw, &asString); errGo != nil {
		return DefaultMemoryGB
	}
	asString = strings.TrimSpace(asString)
	if len(asString) == 0 {
		return DefaultMemoryGB
	}

	if parsed, errGo := strconv.ParseFloat(asString, 64); errGo == nil {
		if parsed < 0 {
			return DefaultMemoryGB
		}
		return parsed
	}

	if parsed, errGo := humanize.ParseBytes(asString); errGo == nil {
		return float64(parsed) / float64(humanize.GByte)
	}
	return DefaultMemoryGB
}

// Clone will deep copy a profile and return the copy
//
func (p *Profile) Clone() (cpy *Profile) {

	mod := bytes.Buffer{}
	enc := gob.NewEncoder(&mod)
	dec := gob.NewDecoder(&mod)

	if err := enc.Encode(p); err != nil {
		return nil
	}

	cpy = &Profile{}
	if err := dec.Decode(cpy); err != nil {
		return nil
	}
	return cpy
}

// Logable returns the profile in a form suitable for the structured logger
// in use across this server
//
func (p *Profile) Logable() (logable []interface{}) {
	return []interface{}{"job_id", p.JobID, "cpu_count", p.CPUCount,
		"memory_gb", p.MemoryGB, "serverless", p.Serverless}
}
