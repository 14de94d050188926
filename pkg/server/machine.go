// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package server

// This file contains the implementation of a machine level resource probe
// used by daemons to report the state of the host they are running on

import (
	"encoding/json"
	"math"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/shirou/gopsutil/cpu"
	memory "github.com/shirou/gopsutil/mem"
)

// Resources is a receiver for resource related methods used to describe
// machine level capabilities
//
type Resources struct{}

// Resource describes the observed state of the host in a data structure
// that can be marshalled as json
//
type Resource struct {
	Cpus    uint    `json:"cpus"`
	Busy    float64 `json:"busy_percent"`
	FreeRam uint64  `json:"free_ram_bytes"`
}

// String produces the display form of the host state.  The busy figure is
// rounded into coarse steps so that repeated dumps do not differ on every
// sample, observers deduplicate on the string value.
//
func (rsc Resource) String() (serialized string) {
	display := struct {
		Cpus    uint   `json:"cpus"`
		Busy    uint   `json:"busy_percent"`
		FreeRam string `json:"free_ram"`
	}{
		Cpus:    rsc.Cpus,
		Busy:    uint(math.Round(rsc.Busy/5) * 5),
		FreeRam: humanize.Bytes(rsc.FreeRam),
	}

	serialize, _ := json.Marshal(display)

	return string(serialize)
}

// FetchMachineResources extracts the current system state in terms of
// cpu and memory and converts this into the resource specification used
// to pass machine characteristics around.
//
// Probe failures leave the affected fields at their zero values, the
// host being observed is the one running this process so partial
// information remains better than none.
//
func (*Resources) FetchMachineResources() (rsc *Resource) {

	rsc = &Resource{
		Cpus: uint(runtime.NumCPU()),
	}

	// An interval of zero compares against the previous call, the first
	// sample of a process reads low and corrects on the next
	if percents, errGo := cpu.Percent(0, false); errGo == nil && len(percents) != 0 {
		rsc.Busy = percents[0]
	}

	if vm, errGo := memory.VirtualMemory(); errGo == nil {
		rsc.FreeRam = vm.Available
	}

	return rsc
}

// Dump is used by monitoring components to obtain a debugging style dump
// of the state of the host this process is running on
//
func (res *Resources) Dump() (dump string) {
	return res.FetchMachineResources().String()
}
