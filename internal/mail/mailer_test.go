package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/solarshop/api/internal/services"
)

type recordingSender struct {
	sent []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestMailerRendersAndSends(t *testing.T) {
	sender := &recordingSender{}
	mailer, err := NewMailer(MailerDeps{
		Renderer: newEmbeddedRenderer(t),
		Sender:   sender,
		From:     " orders@example.lk ",
		FromName: "Solar Shop",
	})
	require.NoError(t, err)

	err = mailer.SendOrderEmail(context.Background(), services.OrderEmail{
		Template: services.TemplateOrderConfirmation,
		Subject:  "Your Order Confirmation",
		To:       []string{"nimal@example.lk"},
		Data:     confirmationData(),
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "orders@example.lk", msg.From)
	assert.Equal(t, "Solar Shop", msg.FromName)
	assert.Equal(t, []string{"nimal@example.lk"}, msg.To)
	assert.Equal(t, "Your Order Confirmation", msg.Subject)
	assert.Contains(t, msg.HTML, "ord_1001")
	assert.Contains(t, msg.Text, "ord_1001")
}

func TestMailerPropagatesFailures(t *testing.T) {
	boom := errors.New("relay refused")
	mailer, err := NewMailer(MailerDeps{Renderer: newEmbeddedRenderer(t), Sender: &recordingSender{err: boom}})
	require.NoError(t, err)

	email := services.OrderEmail{Template: services.TemplateOrderCancellation, To: []string{"a@example.lk"}, Data: confirmationData()}
	assert.ErrorIs(t, mailer.SendOrderEmail(context.Background(), email), boom)

	email.Template = "unknown"
	assert.ErrorIs(t, mailer.SendOrderEmail(context.Background(), email), ErrUnknownTemplate)
}

func TestNewMailerValidatesDeps(t *testing.T) {
	_, err := NewMailer(MailerDeps{Sender: &recordingSender{}})
	assert.Error(t, err)
	_, err = NewMailer(MailerDeps{Renderer: newEmbeddedRenderer(t)})
	assert.Error(t, err)
}

type stubSource struct {
	files map[string]string
	err   error
}

func (s stubSource) ReadTemplate(_ context.Context, name string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.files[name]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return []byte(data), nil
}

func TestLayeredSourcePrefersFirstHit(t *testing.T) {
	override := stubSource{files: map[string]string{"ping.txt.tmpl": "override"}}
	fallback := NewFSSource(fstest.MapFS{
		"ping.txt.tmpl": {Data: []byte("embedded")},
		"pong.txt.tmpl": {Data: []byte("embedded pong")},
	})
	layered := LayeredSource{nil, override, fallback}

	data, err := layered.ReadTemplate(context.Background(), "ping.txt.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "override", string(data))

	data, err = layered.ReadTemplate(context.Background(), "pong.txt.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "embedded pong", string(data))

	_, err = layered.ReadTemplate(context.Background(), "missing.txt.tmpl")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestLayeredSourceStopsOnHardErrors(t *testing.T) {
	boom := errors.New("permission denied")
	layered := LayeredSource{stubSource{err: boom}, EmbeddedSource()}
	_, err := layered.ReadTemplate(context.Background(), catalogFile)
	assert.ErrorIs(t, err, boom)
}

func TestBucketTemplateSourceObjectNames(t *testing.T) {
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = NewBucketTemplateSource(nil, "bucket", "")
	assert.Error(t, err)
	_, err = NewBucketTemplateSource(client, " ", "")
	assert.Error(t, err)

	src, err := NewBucketTemplateSource(client, "solar-mail", "/mail/v2/")
	require.NoError(t, err)
	assert.Equal(t, "mail/v2/catalog.yaml", src.objectName(catalogFile))

	src, err = NewBucketTemplateSource(client, "solar-mail", "")
	require.NoError(t, err)
	assert.Equal(t, "catalog.yaml", src.objectName(catalogFile))
}

func TestParseCatalogRejectsInvalidDocuments(t *testing.T) {
	_, err := ParseCatalog([]byte(""))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("templates: {}\n"))
	assert.Error(t, err)
	_, err = ParseCatalog([]byte("templates:\n  a:\n    html: a.html.tmpl\n"))
	assert.Error(t, err, "html body without a layout")
	_, err = ParseCatalog([]byte("templates:\n  a:\n    text: a.txt\n    subject: nope\n"))
	assert.Error(t, err, "unknown keys are rejected")

	catalog, err := ParseCatalog([]byte("templates:\n  a:\n    text: a.txt\n"))
	require.NoError(t, err)
	assert.Equal(t, "en", catalog.Locale)
}

func TestBuildMessage(t *testing.T) {
	_, err := buildMessage(Message{From: "orders@example.lk", Text: "hi"})
	assert.Error(t, err)
	_, err = buildMessage(Message{From: "orders@example.lk", To: []string{"a@example.lk"}})
	assert.Error(t, err)

	msg, err := buildMessage(Message{
		From:     "orders@example.lk",
		FromName: "Solar Shop",
		To:       []string{"nimal@example.lk"},
		Subject:  "Your Order Confirmation",
		Text:     "plain body",
		HTML:     "<p>html body</p>",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: Your Order Confirmation")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "nimal@example.lk")
}

func TestNewSMTPSenderRequiresHost(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{})
	assert.Error(t, err)

	sender, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.lk", Port: 2525, Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.NotNil(t, sender)
}

func TestLogSenderNeverFails(t *testing.T) {
	assert.NoError(t, NewLogSender(nil).Send(context.Background(), Message{To: []string{"a@example.lk"}}))
}
