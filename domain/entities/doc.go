// Package entities provides the value types shared by host, guest and tooling:
// conversation transcripts and structured error details.
package entities
