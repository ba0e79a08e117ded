// Package worker derives the identity of a server process among its sibling
// worker processes, either by inspecting the OS process table or from an
// orchestrator-provided environment variable.
package worker
