// Package domain contains the core business entities for sandbridge:
// documents and chunks in the knowledge index, search results, kernel
// snapshots, sub-agent signatures and trajectories, and the normalized
// error taxonomy shared by every tool.
package domain
