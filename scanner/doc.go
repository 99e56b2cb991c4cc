// Package scanner provides static policy scanning of submitted code.
//
// The scanner is the first of three defensive layers: it rejects code that
// lexically contains import statements, dunder-style reflection names, or a
// denylist of identifiers that would grant filesystem, network, process or
// interpreter-escape capability. Denylist scanning is inherently incomplete
// against determined obfuscation, so the scanner gates execution but is
// never the sole safety property — the workbench's closed namespace and the
// container isolation boundary hold even when a payload slips past it.
//
// Usage:
//
//	decision := scanner.New().Scan(code)
//	if !decision.Allowed {
//	    fmt.Println(decision.Reason())
//	}
package scanner
