package client

import (
	"fmt"
	"io"

	"github.com/sqlwire/sqlwire/internal/protocol"
)

// Result is the outcome of a statement that produced no result set.
type Result struct {
	AffectedRows uint64
	LastInsertID uint64
	Status       uint16
	Warnings     uint16
}

// Resultset is an ordered column list plus a row-major matrix of
// decoded values. Every row has exactly len(Columns) cells. Cells
// whose payload was streamed to a caller sink hold a textual
// placeholder instead of the value.
type Resultset struct {
	Columns []*protocol.Column
	Rows    [][]any
}

// Reply is what a submitted task resolves to: exactly one of Result or
// Resultset is set.
type Reply struct {
	Result    *Result
	Resultset *Resultset
}

// LongDataFunc decides the fate of an oversized variable-length column
// value before its bytes are consumed. Returning a non-nil sink makes
// the engine pump exactly length bytes into it (closing it afterwards)
// and record a placeholder cell; returning nil decodes the value
// inline.
type LongDataFunc func(length uint64, col *protocol.Column, rowIndex int, partial *Resultset) io.WriteCloser

// longDataPlaceholder is the cell recorded for a streamed column
// value.
func longDataPlaceholder(typeCode byte, length uint64) string {
	return fmt.Sprintf("[%s] length:%d", protocol.TypeName(typeCode), length)
}

func resultFromOK(ok *protocol.OK) *Result {
	return &Result{
		AffectedRows: ok.AffectedRows,
		LastInsertID: ok.LastInsertID,
		Status:       ok.Status,
		Warnings:     ok.Warnings,
	}
}
