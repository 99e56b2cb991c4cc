// Package workshop provides the preloaded library registry.
//
// The workshop is the fixed set of safe data-manipulation helpers available
// to submitted code: column statistics, text utilities, numeric helpers and
// date parsing. The set is constructed once at process start and is
// immutable afterwards. Resolving libraries per request would itself be an
// attack surface (a malicious plan could ask for a dangerous module under a
// friendly name), so the trusted set is fixed at boot and teardown is
// process exit.
package workshop
