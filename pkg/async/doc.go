// Package async provides the bounded worker pool used for fire-and-forget
// side effects (audit trail, notifications). A small core of workers is
// always running; when the backlog fills, extra workers spawn up to a
// maximum and exit when idle. Shutdown drains in-flight work for a
// bounded time before giving up.
//
// Tasks scheduled from a request must be wrapped with tenancy.WrapTask
// so the worker runs under a snapshot of the originating request's
// identity, never under whatever context a previous task left behind.
package async
