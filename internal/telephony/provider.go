package telephony

import "context"

// Provider is the provider-agnostic call-control capability this core
// consumes. It is read-mostly: the dashboard never originates calls, it only
// checks provider state defensively before issuing a control action.
//
// No provider SDK calls outside telephony adapters.
type Provider interface {
	Name() string

	// FetchCallStatus returns the provider's current status string for a
	// call, in the provider's own vocabulary.
	FetchCallStatus(ctx context.Context, callID string) (string, error)

	// StopTranscription ends the live transcription on a call.
	StopTranscription(ctx context.Context, callID string) error
}
