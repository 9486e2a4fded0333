// Package daemon hosts the long-running lingest process: the workflow
// workers, the single-instance file lock, and the HTTP API used by the
// annotation front end and export collaborators.
package daemon
