// Package speech wraps the external transcription and translation HTTP
// service, including bounded retry with backoff and failure classification.
package speech
