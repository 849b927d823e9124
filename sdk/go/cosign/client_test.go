package cosign

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestAuthenticateStoresToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if body["username"] != "ops" || body["grant_type"] != "password" {
			t.Fatalf("unexpected credentials: %v", body)
		}
		_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", TokenType: "Bearer"})
	})

	if _, err := client.Authenticate(context.Background(), Credentials{Username: "ops", Password: "pw"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}
}

func TestSubmitTransferSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transfers" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "order-7" {
			t.Fatalf("expected idempotency key, got %q", got)
		}
		var sub TransferSubmission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(sub.Transfers) != 1 || sub.Transfers[0].Amount != 100 {
			t.Fatalf("unexpected submission: %+v", sub)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Job{ID: "order-7", Status: StatusPending})
	})
	client.SetAccessToken("token")

	job, err := client.SubmitTransfer(context.Background(), TransferSubmission{
		Sender:    "0x2",
		Transfers: []Recipient{{Receiver: "0xa1", Amount: 100, Commission: 1}},
	}, "order-7")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "order-7" || job.Done() {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestGetJobError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/jobs/missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(APIError{Code: "JOB_NOT_FOUND", Message: "job not found"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetJob(context.Background(), "missing")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || !IsCode(err, "JOB_NOT_FOUND") {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestListJobsPassesFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "failed" {
			t.Fatalf("unexpected status filter %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []Job{{ID: "a", Status: StatusFailed}}})
	})

	jobs, err := client.ListJobs(context.Background(), map[string][]string{"status": {"failed"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || !jobs[0].Done() {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestWaitJobPollsUntilDone(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		status := StatusRunning
		if calls.Add(1) >= 3 {
			status = StatusSucceeded
		}
		_ = json.NewEncoder(w).Encode(Job{ID: "j", Status: status, Result: &Outcome{Hash: "0xabc", State: "CONFIRMED"}})
	})

	job, err := client.WaitJob(context.Background(), "j", time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != StatusSucceeded || job.Result.Hash != "0xabc" || calls.Load() != 3 {
		t.Fatalf("unexpected job %+v after %d calls", job, calls.Load())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls.Store(-100)
	if _, err := client.WaitJob(ctx, "j", time.Millisecond); err == nil {
		t.Fatalf("expected context error")
	}
}
