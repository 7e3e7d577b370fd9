// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports): language models, embedding services and
// documentation resolvers.
package driven
