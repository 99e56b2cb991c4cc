// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// transform_dataset tool. It uses the mark3labs/mcp-go library to handle the
// protocol details; the tool accepts JavaScript transformation code together
// with a dataset in records orient and returns the transformed dataset in the
// same shape.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, gateway)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
