// Package main is the entry point for the Databench server.
//
// Databench executes untrusted, LLM-generated JavaScript transformations
// against tabular datasets inside a capability-restricted runtime. Submitted
// code passes a static policy scan before it runs, executes with hard CPU
// time, memory and output ceilings, and can never reach the filesystem,
// network or process environment.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
