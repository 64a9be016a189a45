package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	bidding "online-auction/internal/biddingService"
	"online-auction/internal/closer"
	"online-auction/internal/repository"
	"online-auction/internal/server"

	"github.com/gin-gonic/gin"
)

// testClock is shared by the store, the service and the closer so tests can jump past deadlines
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestApp bundles the wired components of one in-memory auction service
type TestApp struct {
	Router *gin.Engine
	Closer *closer.Closer
	Clock  *testClock
}

// SetupTestApp initializes the router with an in-memory repository for integration testing.
func SetupTestApp() *TestApp {
	gin.SetMode(gin.TestMode)
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}

	repo := repository.NewMemoryRepoWithClock(clock.Now)
	service := bidding.NewBiddingService(repo, bidding.WithClock(clock.Now))

	return &TestApp{
		Router: server.SetupRouter(service),
		Closer: closer.NewCloser(repo, closer.WithClock(clock.Now)),
		Clock:  clock,
	}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response envelope
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}

	return resp, w
}

// CreateLot creates a lot through the API and returns its id
func (a *TestApp) CreateLot(t *testing.T, initial, step string, closeIn time.Duration) string {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, a.Router, "POST", "/lots", map[string]any{
		"owner_id":      "owner1",
		"item_name":     "Integration lot",
		"initial_price": initial,
		"min_step":      step,
		"buyout_price":  "10000",
		"close_time":    a.Clock.Now().Add(closeIn).Format(time.RFC3339),
	})
	if w.Code != 201 {
		t.Fatalf("create lot: status %d: %v", w.Code, resp)
	}
	return resp["data"].(map[string]any)["lot_id"].(string)
}
