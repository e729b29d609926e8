package twilio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// placeCall dials DialTo with the voice webhook as the call's TwiML URL.
// Failed attempts are retried under the source's retry policy.
func (s *Source) placeCall(ctx context.Context) (string, error) {
	if s.cfg.DialTo == "" || s.cfg.DialFrom == "" {
		return "", errors.New("dial_to and dial_from required")
	}
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return "", errors.New("missing twilio credentials")
	}
	client := s.calls
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: s.cfg.AccountSID,
			Password: s.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(s.cfg.DialTo)
	params.SetFrom(s.cfg.DialFrom)
	params.SetUrl(s.voiceWebhookURL())
	params.SetStatusCallback(s.statusCallbackURL())
	var resp *api.ApiV2010Call
	err := s.retry.Do(ctx, func(attempt int) error {
		var err error
		resp, err = client.CreateCall(params)
		if err != nil {
			s.logger.Warn("outbound_call_failed", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
		}
		return err
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", errors.New("missing call sid")
	}
	return *resp.Sid, nil
}
