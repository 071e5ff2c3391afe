// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amc

// Layout names the registers of the BSA buffer-control block.
type Layout struct {
	TimeStamp   string
	StartAddr   string
	EndAddr     string
	WrAddr      string
	TriggerAddr string

	Enabled string
	Mode    string
	Init    string

	Status string
	Empty  string
	Full   string
	Done   string
	Error  string

	Clear string // new-acquisition latch
	DRAM  string
}

// CarrierLayout returns the register names of a carrier built from its
// IP address, with a known register map.
func CarrierLayout() Layout {
	const ctl = "mmio/control/"
	return Layout{
		TimeStamp:   ctl + "TimeStamp",
		StartAddr:   ctl + "StartAddr",
		EndAddr:     ctl + "EndAddr",
		WrAddr:      ctl + "WrAddr",
		TriggerAddr: ctl + "TriggerAddr",
		Enabled:     ctl + "Enabled",
		Mode:        ctl + "Mode",
		Init:        ctl + "Init",
		Status:      ctl + "Status",
		Empty:       ctl + "Empty",
		Full:        ctl + "Full",
		Done:        ctl + "Done",
		Error:       ctl + "Error",
		Clear:       ctl + "Clear",
		DRAM:        "strm/dram",
	}
}

// YamlLayout returns the register names of a carrier whose register
// tree was built from its YAML description, rooted at mmio.
func YamlLayout(mmio, dram string) Layout {
	var (
		ctl  = mmio + "/BsaBufferControl/"
		bufs = ctl + "BsaBuffers/"
	)
	return Layout{
		TimeStamp:   ctl + "Timestamps/MemoryArray",
		StartAddr:   bufs + "StartAddr",
		EndAddr:     bufs + "EndAddr",
		WrAddr:      bufs + "WrAddr",
		TriggerAddr: bufs + "TriggerAddr",
		Enabled:     bufs + "Enabled",
		Mode:        bufs + "Mode",
		Init:        bufs + "Init",
		Status:      bufs + "Status",
		Empty:       bufs + "Empty",
		Full:        bufs + "Full",
		Done:        bufs + "Done",
		Error:       bufs + "Error",
		Clear:       ctl + "BufferInit/MemoryArray",
		DRAM:        dram,
	}
}
