// Package workflow runs the ingestion loop: workers claim pending media
// items, execute the transcribe stage under a heartbeat lease, and record
// classified failures so nothing is silently lost.
package workflow
