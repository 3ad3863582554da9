// Package postgres provides shared PostgreSQL connection helpers.
//
// It focuses on predictable connection lifecycle and configuration defaults that
// are safe for service startup and shutdown flows.
package postgres
