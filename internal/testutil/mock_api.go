// Package testutil provides an in-process mock of the upstream directory API.
package testutil

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockUser is one account served by the mock API.
type MockUser struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	Followers   int    `json:"followers"`
	PublicRepos int    `json:"public_repos"`
}

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock of the search and user endpoints.
// Every response carries X-RateLimit-* headers. Search requests spend the
// "search" quota, profile requests the "core" quota; 304s are free and an
// exhausted quota answers 403.
type MockAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	users     []MockUser
	handlers  map[string]http.HandlerFunc
	queued    map[string][]MockResponse
	omitTotal bool
	core      *mockQuota
	search    *mockQuota

	// Tracking
	requestCount      int
	conditionalCount  int
	profileRequests   int
	searchRequests    int
	lastRequestHeader http.Header
}

// NewMockAPI creates a mock serving n users with ids 1..n and logins user-1..user-n.
func NewMockAPI(n int) *MockAPI {
	m := &MockAPI{
		handlers:  make(map[string]http.HandlerFunc),
		queued:    make(map[string][]MockResponse),
		core:      &mockQuota{resource: "core", limit: 5000, remaining: 5000, window: time.Hour, resetAt: time.Now().Add(time.Hour)},
		search:    &mockQuota{resource: "search", limit: 30, remaining: 30, window: time.Minute, resetAt: time.Now().Add(time.Minute)},
	}
	for i := 1; i <= n; i++ {
		m.users = append(m.users, MockUser{
			ID:          int64(i),
			Login:       fmt.Sprintf("user-%d", i),
			Name:        fmt.Sprintf("User %d", i),
			Followers:   i,
			PublicRepos: i % 7,
		})
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for a path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// QueueResponses makes the next requests to path answer with resps, in order,
// before normal handling resumes.
func (m *MockAPI) QueueResponses(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[path] = append(m.queued[path], resps...)
}

// mockQuota is one rate-limit window. It reopens with the full limit for
// another window once resetAt has passed.
type mockQuota struct {
	resource  string
	limit     int
	remaining int
	window    time.Duration
	resetAt   time.Time
}

// SetQuota sets the core window spent by profile requests.
func (m *MockAPI) SetQuota(limit, remaining int, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.core.limit, m.core.remaining, m.core.resetAt = limit, remaining, resetAt
}

// SetSearchQuota sets the search window spent by listing requests.
func (m *MockAPI) SetSearchQuota(limit, remaining int, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.search.limit, m.search.remaining, m.search.resetAt = limit, remaining, resetAt
}

// OmitTotalCount drops total_count from search responses so clients have to
// rely on the Link header.
func (m *MockAPI) OmitTotalCount(omit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitTotal = omit
}

// UpdateUser applies fn to the user with id.
func (m *MockAPI) UpdateUser(id int64, fn func(*MockUser)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID == id {
			fn(&m.users[i])
			return
		}
	}
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests.
func (m *MockAPI) ConditionalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditionalCount
}

// ProfileRequests returns the number of profile requests.
func (m *MockAPI) ProfileRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profileRequests
}

// SearchRequests returns the number of search requests.
func (m *MockAPI) SearchRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchRequests
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestHeader
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.lastRequestHeader = r.Header.Clone()
	if r.Header.Get("If-None-Match") != "" {
		m.conditionalCount++
	}

	if q := m.queued[r.URL.Path]; len(q) > 0 {
		resp := q[0]
		m.queued[r.URL.Path] = q[1:]
		m.mu.Unlock()
		writeResponse(w, resp)
		return
	}

	handler, ok := m.handlers[r.URL.Path]
	m.mu.Unlock()
	if ok {
		handler(w, r)
		return
	}

	switch {
	case r.URL.Path == "/search/users":
		m.searchUsers(w, r)
	case strings.HasPrefix(r.URL.Path, "/user/"), strings.HasPrefix(r.URL.Path, "/users/"):
		m.profile(w, r)
	default:
		http.NotFound(w, r)
	}
}

// spend takes one call from q and writes its rate-limit headers.
// It reports false, after writing a 403, when q is exhausted.
func (m *MockAPI) spend(w http.ResponseWriter, q *mockQuota, charge bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !now.Before(q.resetAt) {
		q.remaining = q.limit
		q.resetAt = now.Add(q.window)
	}

	exhausted := charge && q.remaining <= 0
	if charge && !exhausted {
		q.remaining--
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(q.resetAt.Unix(), 10))
	w.Header().Set("X-RateLimit-Resource", q.resource)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if exhausted {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "API rate limit exceeded"}`))
		return false
	}
	return true
}

func (m *MockAPI) searchUsers(w http.ResponseWriter, r *http.Request) {
	if !m.spend(w, m.search, true) {
		return
	}
	m.mu.Lock()
	m.searchRequests++
	users := append([]MockUser(nil), m.users...)
	omitTotal := m.omitTotal
	m.mu.Unlock()

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(users) {
		start = len(users)
	}
	if end > len(users) {
		end = len(users)
	}

	items := make([]map[string]any, 0, end-start)
	for _, u := range users[start:end] {
		items = append(items, map[string]any{
			"id":    u.ID,
			"login": u.Login,
			"url":   fmt.Sprintf("%s/users/%s", m.server.URL, u.Login),
		})
	}

	lastPage := (len(users) + perPage - 1) / perPage
	if lastPage > 0 {
		link := func(p int) string {
			q := r.URL.Query()
			q.Set("page", strconv.Itoa(p))
			return fmt.Sprintf("<%s%s?%s>", m.server.URL, r.URL.Path, q.Encode())
		}
		parts := []string{}
		if page < lastPage {
			parts = append(parts, link(page+1)+`; rel="next"`)
		}
		parts = append(parts, link(lastPage)+`; rel="last"`)
		w.Header().Set("Link", strings.Join(parts, ", "))
	}

	body := map[string]any{
		"incomplete_results": false,
		"items":              items,
	}
	if !omitTotal {
		body["total_count"] = len(users)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (m *MockAPI) profile(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.profileRequests++
	var (
		user  MockUser
		found bool
	)
	for _, u := range m.users {
		if r.URL.Path == fmt.Sprintf("/user/%d", u.ID) || r.URL.Path == "/users/"+u.Login {
			user, found = u, true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		if m.spend(w, m.core, true) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message": "Not Found"}`))
		}
		return
	}

	data, _ := json.Marshal(user)
	sum := sha1.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	// Conditional hits are free upstream.
	if r.Header.Get("If-None-Match") == etag {
		m.spend(w, m.core, false)
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if !m.spend(w, m.core, true) {
		return
	}
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
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

// NewRateLimitResponse creates a 403 with an exhausted quota resetting at resetAt.
func NewRateLimitResponse(resetAt time.Time) MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "API rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Limit":     "60",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(resetAt.Unix(), 10),
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewSecondaryRateLimitResponse creates a 429 carrying only Retry-After.
func NewSecondaryRateLimitResponse(retryAfter time.Duration) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "You have exceeded a secondary rate limit"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(int(retryAfter.Seconds())),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message": "Not Found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
