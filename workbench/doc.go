// Package workbench provides the capability-restricted execution
// environment for submitted transformation code.
//
// The workbench is the second of three defensive layers. Submitted code
// runs in a fresh interpreter per request whose namespace is an additive
// allowlist: the dataset (bound as "dataframe"), the request parameters and
// the workshop's preloaded handles, nothing else. The substrate has no
// import mechanism and resolves no host capability that was not explicitly
// bound, so the restriction is structural rather than a denylist over an
// ambient environment. Execution is bounded by a wall-clock timeout, a
// memory ceiling and an output-size ceiling, all enforced by forced
// interruption rather than cooperative checks.
//
// Usage:
//
//	bench := workbench.New(logger, workshop.Default(), limits)
//	result := bench.Execute(ctx, code, ds, params)
//	if result.Status == workbench.StatusSuccess {
//	    fmt.Println(result.Output.Columns)
//	}
package workbench
