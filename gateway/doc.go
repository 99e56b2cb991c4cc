// Package gateway provides the execution gateway: the request/response
// boundary in front of the scanner and the workbench.
//
// The gateway owns the per-request pipeline (shape validation, policy gate,
// restricted execution) and the global concurrency cap. A bounded worker
// pool keeps concurrent requests from jointly exceeding the container's
// resource budget; when every slot stays busy for the whole queue window
// the request fails with ErrBusy so the caller gets an explicit
// backpressure signal.
package gateway
