package email

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/config"
)

func validParams() SendParams {
	return SendParams{
		To:      "reader@example.com",
		Subject: "Acme - Industry Newsletter",
		HTML:    "<p>hi</p>",
		Text:    "hi",
		Tag:     "newsletter",
	}
}

func TestSendParams_Validate(t *testing.T) {
	require.NoError(t, validParams().Validate())

	p := validParams()
	p.To = "not-an-email"
	err := p.Validate()
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.True(t, IsPermanent(err))

	p = validParams()
	p.HTML = ""
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
}

func TestNewPostmarkSender_InvalidConfig(t *testing.T) {
	_, err := NewPostmarkSender(config.EmailConfig{SenderEmail: "a@b.com"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPostmarkSender(config.EmailConfig{PostmarkServerToken: "tok", SenderEmail: "nope"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type fakePostmark struct {
	sent postmark.Email
	resp postmark.EmailResponse
	err  error
}

func (f *fakePostmark) SendEmail(ctx context.Context, e postmark.Email) (postmark.EmailResponse, error) {
	f.sent = e
	return f.resp, f.err
}

func TestPostmarkSender_Send(t *testing.T) {
	fake := &fakePostmark{resp: postmark.EmailResponse{MessageID: "msg-1"}}
	s := &PostmarkSender{client: fake, from: fromAddress("News", "news@example.com")}

	id, err := s.Send(context.Background(), validParams())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "News <news@example.com>", fake.sent.From)
	assert.Equal(t, "reader@example.com", fake.sent.To)
	assert.Equal(t, "hi", fake.sent.TextBody)
}

func TestPostmarkSender_SendErrors(t *testing.T) {
	t.Run("transport error is retryable", func(t *testing.T) {
		s := &PostmarkSender{client: &fakePostmark{err: errors.New("timeout")}, from: "a@b.com"}
		_, err := s.Send(context.Background(), validParams())
		assert.ErrorIs(t, err, ErrFailedToSend)
		assert.False(t, IsPermanent(err))
	})

	t.Run("inactive recipient is permanent", func(t *testing.T) {
		s := &PostmarkSender{client: &fakePostmark{resp: postmark.EmailResponse{ErrorCode: 406, Message: "inactive"}}, from: "a@b.com"}
		_, err := s.Send(context.Background(), validParams())
		assert.ErrorIs(t, err, ErrFailedToSend)
		assert.True(t, IsPermanent(err))
	})

	t.Run("rate limited is retryable", func(t *testing.T) {
		s := &PostmarkSender{client: &fakePostmark{resp: postmark.EmailResponse{ErrorCode: 429, Message: "slow down"}}, from: "a@b.com"}
		_, err := s.Send(context.Background(), validParams())
		assert.False(t, IsPermanent(err))
	})
}

func TestDevSender_Send(t *testing.T) {
	dir := t.TempDir()
	s := NewDevSender(dir)

	id, err := s.Send(context.Background(), validParams())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var exts []string
	for _, e := range entries {
		exts = append(exts, filepath.Ext(e.Name()))
	}
	assert.ElementsMatch(t, []string{".html", ".txt", ".json"}, exts)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "reader_at_example.com", sanitizeFilename("Reader@Example.com"))
	assert.Equal(t, "email", sanitizeFilename("!!!"))
}
