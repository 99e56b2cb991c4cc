// Package httpserver exposes the execution pipeline as a small JSON API.
//
// POST /v1/execute accepts {code, dataset, parameters} and always answers
// a terminal outcome with HTTP 200; the status field inside the body says
// whether the code ran, was rejected by policy, or was stopped by a
// resource ceiling. 4xx codes are reserved for transport-level problems:
// undecodable bodies, oversized payloads and backpressure.
//
// /healthz, /readyz and /metrics follow the usual conventions and are
// never rate limited.
package httpserver
