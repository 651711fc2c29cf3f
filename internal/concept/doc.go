// Package concept defines what the sync engine needs from a concept: a
// name, a table of actions and a table of queries over ir values.
//
// Concepts never call each other. All coordination happens in sync rules.
package concept
