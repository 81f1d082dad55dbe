// Package engine turns accumulated plugins into an executable recipe runtime.
// A Handle collects plugins and defaults, Build compiles the plan once, and
// the resulting Runtime runs, pauses and resumes recipe executions. Every
// execution reports through an Outcome; Run and Resume never return a Go
// error.
package engine
