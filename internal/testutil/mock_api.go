// Package testutil provides a paged mock of the Stack Exchange style API
// for tests.
package testutil

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Encodings understood by MockAPI.SetEncoding.
const (
	EncodingIdentity   = ""
	EncodingGzip       = "gzip"
	EncodingDeflate    = "deflate"     // zlib wrapped
	EncodingRawDeflate = "deflate-raw" // sent as "deflate" without zlib header
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is one request seen by the mock.
type RecordedRequest struct {
	Path     string
	Page     int
	PageSize int
	Tagged   string
	Dataset  string
	Header   http.Header
	At       time.Time
}

// MockAPI serves paged item lists. Search requests are keyed by the tagged
// parameter, answer requests (/questions/{id}/answers) by AnswersDataset.
type MockAPI struct {
	server *httptest.Server

	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	datasets map[string][]json.RawMessage
	failures map[int]MockResponse // by request number (1-based)
	failAll  *MockResponse

	encoding       string
	reportTotal    bool
	reportHasMore  bool
	quotaRemaining int
	backoff        int

	requests []RecordedRequest
}

// NewMockAPI creates and starts a mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		datasets:       make(map[string][]json.RawMessage),
		failures:       make(map[int]MockResponse),
		reportTotal:    true,
		reportHasMore:  true,
		quotaRemaining: 9999,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears the request log and injected failures.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.failures = make(map[int]MockResponse)
	m.failAll = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeMockResponse(w, resp)
	})
}

// SetItems sets the full result set returned for tagged=tag.
func (m *MockAPI) SetItems(tag string, items []json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[tag] = items
}

// SetQuestions fills tag with n generated question records.
func (m *MockAPI) SetQuestions(tag string, n int) {
	m.SetItems(tag, Questions(tag, n))
}

// SetAnswers fills the answers of questionID with n generated records.
func (m *MockAPI) SetAnswers(questionID, n int) {
	m.SetItems(AnswersDataset(questionID), Answers(questionID, n))
}

// AnswersDataset names the dataset served for /questions/{id}/answers.
func AnswersDataset(questionID int) string {
	return "answers/" + strconv.Itoa(questionID)
}

// SetEncoding selects the Content-Encoding of successful responses.
func (m *MockAPI) SetEncoding(encoding string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encoding = encoding
}

// SetReportTotal controls whether envelopes carry "total".
func (m *MockAPI) SetReportTotal(report bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportTotal = report
}

// SetReportHasMore controls whether envelopes carry "has_more".
func (m *MockAPI) SetReportHasMore(report bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportHasMore = report
}

// SetQuota sets the quota_remaining reported in every envelope.
func (m *MockAPI) SetQuota(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaRemaining = remaining
}

// SetBackoff makes every envelope carry backoff seconds.
func (m *MockAPI) SetBackoff(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoff = seconds
}

// FailRequest makes the n-th request (1-based, counted over the server's
// lifetime since the last Reset) answer with resp.
func (m *MockAPI) FailRequest(n int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[n] = resp
}

// FailAll makes every request answer with resp until Reset.
func (m *MockAPI) FailAll(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = &resp
}

// Requests returns a copy of the request log.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// PagesRequested returns the page numbers requested for a dataset (a tag
// or an AnswersDataset), in order.
func (m *MockAPI) PagesRequested(dataset string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pages []int
	for _, r := range m.requests {
		if r.Dataset == dataset {
			pages = append(pages, r.Page)
		}
	}
	return pages
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(q.Get("pagesize"))
	if err != nil || pageSize < 0 {
		pageSize = 30
	}

	dataset := datasetFor(r.URL.Path, q.Get("tagged"))

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Path:     r.URL.Path,
		Page:     page,
		PageSize: pageSize,
		Tagged:   q.Get("tagged"),
		Dataset:  dataset,
		Header:   r.Header.Clone(),
		At:       time.Now(),
	})
	n := len(m.requests)
	failure, failed := m.failures[n]
	if !failed && m.failAll != nil {
		failure, failed = *m.failAll, true
	}
	handler, custom := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if failed {
		writeMockResponse(w, failure)
		return
	}
	if custom {
		handler(w, r)
		return
	}

	m.servePage(w, dataset, page, pageSize)
}

// datasetFor maps /.../questions/{id}/answers to AnswersDataset(id) and
// everything else to the tagged parameter.
func datasetFor(path, tagged string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	n := len(parts)
	if n >= 3 && parts[n-1] == "answers" && parts[n-3] == "questions" {
		if id, err := strconv.Atoi(parts[n-2]); err == nil {
			return AnswersDataset(id)
		}
	}
	return tagged
}

func (m *MockAPI) servePage(w http.ResponseWriter, dataset string, page, pageSize int) {
	m.mu.RLock()
	all := m.datasets[dataset]
	encoding := m.encoding
	reportTotal := m.reportTotal
	reportHasMore := m.reportHasMore
	quota := m.quotaRemaining
	backoff := m.backoff
	m.mu.RUnlock()

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	envelope := map[string]any{
		"items":           all[start:end],
		"page":            page,
		"page_size":       pageSize,
		"quota_remaining": quota,
		"quota_max":       10000,
	}
	if all[start:end] == nil {
		envelope["items"] = []json.RawMessage{}
	}
	if reportTotal {
		envelope["total"] = len(all)
	}
	if reportHasMore {
		envelope["has_more"] = end < len(all)
	}
	if backoff > 0 {
		envelope["backoff"] = backoff
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	encoded, header, err := Encode(encoding, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if header != "" {
		w.Header().Set("Content-Encoding", header)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(encoded)
}

// Encode compresses body and returns the Content-Encoding header value.
func Encode(encoding string, body []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	switch encoding {
	case EncodingIdentity:
		return body, "", nil
	case EncodingGzip:
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, "", err
		}
		if err := zw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "gzip", nil
	case EncodingDeflate:
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, "", err
		}
		if err := zw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "deflate", nil
	case EncodingRawDeflate:
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(body); err != nil {
			return nil, "", err
		}
		if err := fw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "deflate", nil
	default:
		return nil, "", fmt.Errorf("unknown encoding %q", encoding)
	}
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// Questions generates n question records tagged with tag.
func Questions(tag string, n int) []json.RawMessage {
	items := make([]json.RawMessage, n)
	for i := range items {
		id := i + 1
		items[i] = json.RawMessage(fmt.Sprintf(
			`{"question_id":%d,"title":"%s question %d","tags":["%s"],"score":%d,"is_answered":%t,"body":"<p>Body of <b>question %d</b></p>"}`,
			id, tag, id, tag, n-i, id%2 == 0, id))
	}
	return items
}

// NewAPIErrorResponse creates an API error object response.
func NewAPIErrorResponse(status, id int, name, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error_id":%d,"error_name":%q,"error_message":%q}`, id, name, message),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewThrottleViolationResponse creates the API's throttle violation error.
func NewThrottleViolationResponse() MockResponse {
	return NewAPIErrorResponse(http.StatusBadRequest, 502, "throttle_violation", "too many requests from this IP, more requests available in 30 seconds")
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewAPIErrorResponse(http.StatusInternalServerError, 500, "internal_error", "An unexpected error occurred")
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewMalformedResponse creates a 200 response whose body is not an envelope.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `["not", "an", "envelope"]`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// Answers generates n answer records for questionID. The first one is
// accepted.
func Answers(questionID, n int) []json.RawMessage {
	items := make([]json.RawMessage, n)
	for i := range items {
		id := questionID*1000 + i + 1
		items[i] = json.RawMessage(fmt.Sprintf(
			`{"answer_id":%d,"question_id":%d,"score":%d,"is_accepted":%t,"body":"<p>Answer %d to question %d</p>"}`,
			id, questionID, n-i, i == 0, i+1, questionID))
	}
	return items
}
