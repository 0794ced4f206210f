package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type stubPut struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (s *stubPut) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.input = params
	if params.Body != nil {
		s.body, _ = io.ReadAll(params.Body)
	}
	return &s3.PutObjectOutput{}, s.err
}

type stubPresign struct {
	key     string
	expires time.Duration
}

func (s *stubPresign) PresignGetObject(_ context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	s.key = *params.Key
	s.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.example/" + *params.Key + "?X-Amz-Signature=abc"}, nil
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("component", "s3-test")
}

func TestS3Store_PutAndSign(t *testing.T) {
	put := &stubPut{}
	presign := &stubPresign{}
	store := newS3Store(put, presign, "private-invoices", quietLogger())

	key, err := store.Put(context.Background(), "invoices/2026/05/invoice-1.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "invoices/2026/05/invoice-1.html", key)
	require.Equal(t, "private-invoices", *put.input.Bucket)
	require.Equal(t, "text/html", *put.input.ContentType)
	require.Equal(t, []byte("<html></html>"), put.body)

	url, err := store.SignedURL(context.Background(), key, 5*time.Minute)
	require.NoError(t, err)
	require.Contains(t, url, "X-Amz-Signature")
	require.Equal(t, key, presign.key)
	require.Equal(t, 5*time.Minute, presign.expires)
}

func TestS3Store_PutError(t *testing.T) {
	store := newS3Store(&stubPut{err: errors.New("denied")}, &stubPresign{}, "b", quietLogger())
	_, err := store.Put(context.Background(), "k", "text/html", nil)
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()

	_, err := store.SignedURL(ctx, "missing", time.Minute)
	require.Error(t, err)

	_, err = store.Put(ctx, "invoices/a.html", "text/html", []byte("a"))
	require.NoError(t, err)
	url, err := store.SignedURL(ctx, "invoices/a.html", time.Minute)
	require.NoError(t, err)
	require.Contains(t, url, "memory://invoices/invoices%2Fa.html?expires=")

	obj, ok := store.Get("invoices/a.html")
	require.True(t, ok)
	require.Equal(t, "text/html", obj.ContentType)
	require.Equal(t, 1, store.Puts())
}
