package amazon

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOfflineStore(t *testing.T) *ObjectStore {
	t.Helper()
	sess, err := NewSession(Config{
		Region:    "us-east-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Endpoint:  "http://localhost:4566",
	})
	require.NoError(t, err)
	store, err := NewObjectStore(sess, "reports-bucket")
	require.NoError(t, err)
	return store
}

func TestObjectStore_URLs(t *testing.T) {
	store := newOfflineStore(t)

	assert.Equal(t, "https://reports-bucket.s3.amazonaws.com/SplitFiles/report/0", store.URL("SplitFiles/report/0"))
	assert.Equal(t, "s3://reports-bucket/TextFiles/report.txt", store.URI("TextFiles/report.txt"))
}

func TestObjectStore_PresignUpload(t *testing.T) {
	store := newOfflineStore(t)

	url, err := store.PresignUpload("Files/report.pdf", "application/pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:4566/reports-bucket/Files/report.pdf?"), url)
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=60")
}

func TestNewObjectStore_RequiresBucket(t *testing.T) {
	sess, err := NewSession(Config{Region: "us-east-1"})
	require.NoError(t, err)
	_, err = NewObjectStore(sess, "")
	assert.Error(t, err)
}

func TestGetContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", GetContentType("a.pdf"))
	assert.Equal(t, "text/plain", GetContentType("a.txt"))
	assert.Equal(t, "application/octet-stream", GetContentType("a"))
}
