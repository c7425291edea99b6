package telephony

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioProvider implements Provider against the Twilio REST API.
type TwilioProvider struct {
	client *twilio.RestClient
}

func NewTwilioProvider(accountSID, authToken string) (*TwilioProvider, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("telephony: twilio credentials are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{client: client}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) FetchCallStatus(ctx context.Context, callID string) (string, error) {
	call, err := p.client.Api.FetchCall(callID, &api.FetchCallParams{})
	if err != nil {
		return "", err
	}
	if call.Status == nil {
		return "", errors.New("telephony: call status missing in provider response")
	}
	return *call.Status, nil
}

// StopTranscription stops the most recent live transcription on the call.
// Twilio accepts "current" in place of a transcription SID.
func (p *TwilioProvider) StopTranscription(ctx context.Context, callID string) error {
	params := &api.UpdateRealtimeTranscriptionParams{}
	params.SetStatus("stopped")
	_, err := p.client.Api.UpdateRealtimeTranscription(callID, "current", params)
	return err
}
