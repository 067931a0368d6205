package entities

import (
	"time"
)

// ResultStatus represents the outcome status of a conversation.
type ResultStatus string

const (
	// ResultStatusSuccess indicates the conversation completed and the reply was read back.
	ResultStatusSuccess ResultStatus = "success"

	// ResultStatusError indicates a boundary call failed.
	ResultStatusError ResultStatus = "error"
)

// Direction says which side initiated a boundary call.
type Direction string

const (
	HostToGuest Direction = "host->guest"
	GuestToHost Direction = "guest->host"
)

// Step is one boundary crossing observed during a conversation.
type Step struct {
	Direction Direction `json:"direction"`
	Call      string    `json:"call"`
	Note      string    `json:"note,omitempty"`
	Params    []uint32  `json:"params,omitempty"`
	Result    uint32    `json:"result"`

	// Elapsed is how long the host handler ran, for guest->host steps
	// served through a timed handler.
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// Transcript is the record of a single conversation against one guest instance.
type Transcript struct {
	// Started is when the host began the conversation.
	Started time.Time `json:"started"`

	// Error contains structured error information if Status is error.
	Error *ErrorDetail `json:"error,omitempty"`

	// Instance names the guest instance the conversation ran against.
	Instance string `json:"instance,omitempty"`

	// Status indicates whether the conversation succeeded.
	Status ResultStatus `json:"status"`

	// Request is the payload the host wrote into the guest.
	Request string `json:"request"`

	// Reply is the payload read back from the guest's final reference.
	Reply string `json:"reply,omitempty"`

	// Steps lists every boundary call in the order it completed.
	Steps []Step `json:"steps,omitempty"`

	// Duration is the wall time of the whole conversation.
	Duration time.Duration `json:"duration"`

	// LiveBlocks is the guest's live allocation count after the host released
	// everything it owned. Zero for a leak-free conversation.
	LiveBlocks uint32 `json:"live_blocks"`
}

// IsSuccess returns true if the conversation completed.
func (t *Transcript) IsSuccess() bool {
	return t.Status == ResultStatusSuccess
}

// Fail marks the transcript as errored with the given detail.
func (t *Transcript) Fail(detail *ErrorDetail) {
	t.Status = ResultStatusError
	t.Error = detail
}
