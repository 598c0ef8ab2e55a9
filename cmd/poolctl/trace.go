package main

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type opKind int

const (
	opAlloc opKind = iota
	opRealloc
	opFree
)

func (k opKind) String() string {
	switch k {
	case opAlloc:
		return "alloc"
	case opRealloc:
		return "realloc"
	case opFree:
		return "free"
	default:
		return "op(" + strconv.Itoa(int(k)) + ")"
	}
}

// traceOp is a single host allocation request of a trace.
type traceOp struct {
	line int
	kind opKind
	id   string
	size int
}

// parseTrace reads a trace of one request per line:
//
//	alloc ID SIZE
//	realloc ID SIZE
//	free ID
//
// Blank lines and lines starting with '#' are skipped.
func parseTrace(r io.Reader) ([]traceOp, error) {
	var ops []traceOp
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		op, err := parseOp(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		op.line = line
		ops = append(ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read trace")
	}
	return ops, nil
}

func parseOp(text string) (traceOp, error) {
	fields := strings.Fields(text)
	var op traceOp
	switch fields[0] {
	case "alloc":
		op.kind = opAlloc
	case "realloc":
		op.kind = opRealloc
	case "free":
		op.kind = opFree
	default:
		return op, errors.Errorf("unknown request %q", fields[0])
	}

	want := 3
	if op.kind == opFree {
		want = 2
	}
	if len(fields) != want {
		return op, errors.Errorf("%s takes %d arguments, got %d", op.kind, want-1, len(fields)-1)
	}
	op.id = fields[1]
	if op.kind == opFree {
		return op, nil
	}

	size, err := strconv.Atoi(fields[2])
	if err != nil {
		return op, errors.Wrapf(err, "invalid size %q", fields[2])
	}
	if size < 0 {
		return op, errors.Errorf("negative size %d", size)
	}
	if op.kind == opAlloc && size == 0 {
		return op, errors.New("alloc of zero bytes")
	}
	op.size = size
	return op, nil
}
