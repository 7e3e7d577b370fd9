// Package kernel manages the isolated Python code kernel: a typed HTTP
// client for the kernel contract, a lifecycle manager that runs the
// kernel as a bare subprocess or a locked-down container, and snapshot
// persistence that carries the namespace across restarts.
//
// The kernel is lazy: nothing starts until the first operation needs
// it. A background health loop restarts a wedged kernel and replays
// the registered restart hooks (helper re-injection, snapshot restore)
// so sessions survive crashes.
package kernel
