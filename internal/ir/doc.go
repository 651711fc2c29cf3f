// Package ir holds the value and record types shared by the sync engine,
// the event store and the concepts.
//
// ir imports nothing internal. Values are restricted to the sealed IRValue
// set (no floats) and every id is derived from RFC 8785 canonical JSON, so
// the same inputs hash the same way on every run.
package ir
