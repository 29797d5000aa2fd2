package amazon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKnowledgeBase(t *testing.T, handler http.HandlerFunc) *KnowledgeBase {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sess, err := NewSession(Config{
		Region:    "us-east-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Endpoint:  server.URL,
	})
	require.NoError(t, err)
	kb, err := NewKnowledgeBase(sess, "kb-1", "ds-1")
	require.NoError(t, err)
	return kb
}

func TestKnowledgeBase_DeleteDocument(t *testing.T) {
	var body struct {
		ClientToken         string `json:"clientToken"`
		DocumentIdentifiers []struct {
			DataSourceType string `json:"dataSourceType"`
			S3             struct {
				URI string `json:"uri"`
			} `json:"s3"`
		} `json:"documentIdentifiers"`
	}
	var method, path string

	kb := newTestKnowledgeBase(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documentDetails":[{"status":"DELETING","knowledgeBaseId":"kb-1","dataSourceId":"ds-1"}]}`))
	})

	err := kb.DeleteDocument(context.Background(), "s3://reports-bucket/TextFiles/report.txt")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/knowledgebases/kb-1/datasources/ds-1/documents/deleteDocuments", path)
	assert.NotEmpty(t, body.ClientToken)
	require.Len(t, body.DocumentIdentifiers, 1)
	assert.Equal(t, "S3", body.DocumentIdentifiers[0].DataSourceType)
	assert.Equal(t, "s3://reports-bucket/TextFiles/report.txt", body.DocumentIdentifiers[0].S3.URI)
}

func TestKnowledgeBase_DeleteDocumentFailedStatus(t *testing.T) {
	kb := newTestKnowledgeBase(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documentDetails":[{"status":"FAILED","statusReason":"document is locked"}]}`))
	})

	err := kb.DeleteDocument(context.Background(), "s3://reports-bucket/TextFiles/report.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document is locked")
}

func TestKnowledgeBase_DeleteDocumentServiceError(t *testing.T) {
	kb := newTestKnowledgeBase(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Amzn-Errortype", "ValidationException")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"unknown data source"}`))
	})

	err := kb.DeleteDocument(context.Background(), "s3://reports-bucket/TextFiles/report.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ValidationException")
}

func TestKnowledgeBase_StartSync(t *testing.T) {
	var method, path string
	kb := newTestKnowledgeBase(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ingestionJob":{"ingestionJobId":"job-1","status":"STARTING"}}`))
	})

	jobID, err := kb.StartSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/knowledgebases/kb-1/datasources/ds-1/ingestionjobs/", path)
}

func TestNewKnowledgeBase_RequiresIDs(t *testing.T) {
	sess, err := NewSession(Config{Region: "us-east-1"})
	require.NoError(t, err)

	_, err = NewKnowledgeBase(sess, "", "ds-1")
	assert.Error(t, err)
}
