// Package log defines the v2 logging interface and typed logging fields.
//
// Adapters implement Logger so applications can keep logging calls consistent
// across backends.
package log
