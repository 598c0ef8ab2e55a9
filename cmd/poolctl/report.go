package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	slabpool "github.com/holmberd/go-slabpool"
)

var printer = message.NewPrinter(language.English)

// report renders stats as aligned name/value rows.
type report struct {
	tw *tabwriter.Writer
}

func newReport(w io.Writer, title string) *report {
	fmt.Fprintf(w, "%s\n", title)
	return &report{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

func (r *report) count(name string, v uint64) {
	printer.Fprintf(r.tw, "  %s:\t%d\n", name, v)
}

func (r *report) bytes(name string, v int64) {
	s := humanize.IBytes(uint64(max(v, 0)))
	if v < 0 {
		s = "-" + humanize.IBytes(uint64(-v))
	}
	printer.Fprintf(r.tw, "  %s:\t%s (%d)\n", name, s, v)
}

func (r *report) flush() error {
	return r.tw.Flush()
}

func writePoolStats(w io.Writer, title string, s slabpool.Stats) error {
	r := newReport(w, title)
	r.count("capacity", uint64(s.Capacity))
	r.count("in use", uint64(s.InUse))
	r.count("available", uint64(s.Available))
	r.count("allocs", s.Allocs)
	r.count("frees", s.Frees)
	r.count("failures", s.Failures)
	r.count("guard faults", s.GuardFaults)
	r.bytes("block", int64(s.BlockBytes))
	r.bytes("overhead", int64(s.OverheadBytes))
	return r.flush()
}

func writeAllocatorStats(w io.Writer, s slabpool.AllocatorStats) error {
	r := newReport(w, "allocator")
	r.count("allocs", s.Allocs)
	r.count("frees", s.Frees)
	r.count("moves", s.Moves)
	r.count("in place", s.InPlace)
	r.count("failures", s.Failures)
	r.bytes("usage", s.Usage)
	r.bytes("peak usage", s.PeakUsage)
	return r.flush()
}
