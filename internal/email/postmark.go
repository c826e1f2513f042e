package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/unclebandit/newsletter-backend/internal/config"
)

// Postmark API error codes that will not change on retry.
// 300 invalid request, 406 inactive recipient.
var permanentPostmarkCodes = map[int64]bool{300: true, 406: true}

// postmarkAPI is the part of *postmark.Client used by PostmarkSender.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

type PostmarkSender struct {
	client postmarkAPI
	from   string
}

func NewPostmarkSender(cfg config.EmailConfig) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SENDER_EMAIL is required", ErrInvalidConfig)
	}
	if err := validate.Var(cfg.SenderEmail, "email"); err != nil {
		return nil, fmt.Errorf("%w: SENDER_EMAIL must be a valid email address", ErrInvalidConfig)
	}

	return &PostmarkSender{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:   fromAddress(cfg.SenderName, cfg.SenderEmail),
	}, nil
}

func (s *PostmarkSender) Send(ctx context.Context, params SendParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		To:         params.To,
		Subject:    params.Subject,
		Tag:        params.Tag,
		HTMLBody:   params.HTML,
		TextBody:   params.Text,
		TrackOpens: true,
	})
	if err != nil {
		return "", errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		apiErr := fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
		if permanentPostmarkCodes[resp.ErrorCode] {
			return "", &PermanentError{Err: errors.Join(ErrFailedToSend, apiErr)}
		}
		return "", errors.Join(ErrFailedToSend, apiErr)
	}
	return resp.MessageID, nil
}

func fromAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

var _ Sender = (*PostmarkSender)(nil)
