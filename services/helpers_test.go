package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/amazon"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/llm"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGORMStore(t *testing.T) *database.GORMStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:svc_"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := database.NewGORMStore(db)
	require.NoError(t, store.Init())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// memoryObjectStore is an in-memory ObjectStore and UploadPresigner
type memoryObjectStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failUpload map[string]error
	failDelete error
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: make(map[string][]byte), failUpload: make(map[string]error)}
}

func (m *memoryObjectStore) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *memoryObjectStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *memoryObjectStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *memoryObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpload[key]; err != nil {
		return "", err
	}
	m.objects[key] = append([]byte(nil), data...)
	return m.URL(key), nil
}

func (m *memoryObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", amazon.ErrObjectNotFound, key)
	}
	return data, nil
}

func (m *memoryObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return m.failDelete
	}
	delete(m.objects, key)
	return nil
}

func (m *memoryObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := m.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for _, k := range m.keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memoryObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.get(key)
	return ok, nil
}

func (m *memoryObjectStore) URL(key string) string {
	return "https://test-bucket.s3.amazonaws.com/" + key
}

func (m *memoryObjectStore) URI(key string) string {
	return "s3://test-bucket/" + key
}

func (m *memoryObjectStore) PresignUpload(key, contentType string, expiration time.Duration) (string, error) {
	return m.URL(key) + "?X-Amz-Expires=" + strconv.Itoa(int(expiration.Seconds())), nil
}

// recordingQueue captures sent messages and reports a configurable depth
type recordingQueue struct {
	mu      sync.Mutex
	sent    [][]byte
	groups  []string
	depth   int
	sendErr error
}

func (q *recordingQueue) Send(ctx context.Context, body []byte, groupID string, attrs map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sent = append(q.sent, append([]byte(nil), body...))
	q.groups = append(q.groups, groupID)
	return nil
}

func (q *recordingQueue) ApproximateDepth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth, nil
}

func (q *recordingQueue) messages() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.sent...)
}

// recordingPublisher counts published sync signals
type recordingPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, message)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// scriptedLLM answers requests by tool name; requests without a schema use
// the "" entry
type scriptedLLM struct {
	mu        sync.Mutex
	responses map[string][]*llm.Response
	errs      map[string]error
	requests  []llm.Request
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{responses: make(map[string][]*llm.Response), errs: make(map[string]error)}
}

func (s *scriptedLLM) on(tool string, responses ...*llm.Response) *scriptedLLM {
	s.responses[tool] = append(s.responses[tool], responses...)
	return s
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	tool := ""
	if req.Schema != nil {
		tool = req.Schema.Name
	}
	if err := s.errs[tool]; err != nil {
		return nil, err
	}
	queue := s.responses[tool]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for %q", tool)
	}
	resp := queue[0]
	if len(queue) > 1 {
		s.responses[tool] = queue[1:]
	}
	return resp, nil
}

func (s *scriptedLLM) calls(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if (r.Schema == nil && tool == "") || (r.Schema != nil && r.Schema.Name == tool) {
			n++
		}
	}
	return n
}

func structured(js string) *llm.Response {
	return &llm.Response{Structured: []byte(js), StopReason: "tool_use"}
}

func textResponse(text string) *llm.Response {
	return &llm.Response{Text: text, StopReason: "end_turn"}
}

// buildTestPDF writes a minimal well-formed PDF with one line of text per page
func buildTestPDF(t *testing.T, pages int) []byte {
	t.Helper()
	require.Positive(t, pages)

	var buf bytes.Buffer
	offsets := []int{}
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	fontObj := 3 + 2*pages
	kids := make([]string, pages)
	for i := 0; i < pages; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i+1)
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, 4+2*i))
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func registerTestFile(t *testing.T, files FileStore, rec model.FileRecord) {
	t.Helper()
	require.NoError(t, files.RegisterFile(context.Background(), &rec))
}
