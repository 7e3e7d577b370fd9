// Package driving provides interfaces for user-facing adapters
// (primary/inbound ports). The MCP tool surface and the CLI both drive
// the system exclusively through these interfaces.
package driving
