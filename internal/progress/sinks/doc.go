// Package sinks implements progress consumers: structured logging and an
// in-memory run status served by the ops API.
package sinks
