// Package filesystem provides small filesystem utilities shared by the
// watching subsystem and the rest of fswatch: path normalization, atomic
// file writes (used for configuration files), and the ignore-path prefix
// test.
package filesystem
