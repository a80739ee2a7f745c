// Package server hosts the Fiber HTTP service, request middleware chain, and
// repo registry glue that wires /repo/{name} path resolution into the proxy
// handler. The package owns request IDs, htpasswd Basic auth and error
// rendering; artifact retrieval itself lives in internal/proxy and
// internal/fetch. Keep exports narrow and accept explicit dependencies so the
// CLI entry point and tests can assemble the same pieces.
package server
