package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/unitybridge/internal/dispatch"
	"github.com/seantiz/unitybridge/internal/model"
	"github.com/seantiz/unitybridge/internal/registry"
)

func postOperation(t *testing.T, url, body string) (*http.Response, dispatch.Response) {
	t.Helper()
	resp, err := http.Post(url+"/v1/operations", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/operations: %v", err)
	}
	defer resp.Body.Close()

	var op dispatch.Response
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, op
}

func TestDispatchSucceeds(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, op := postOperation(t, ts.URL, `{"tool":"execute_code","params":{"code":"return 42;","timeout":1000}}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(op.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(op.ID))
	}
	if op.State != model.StateSucceeded || op.Status != "success" {
		t.Errorf("state = %q status = %q, want succeeded/success", op.State, op.Status)
	}
	if !op.IsComplete {
		t.Error("is_complete = false, want true")
	}
	if string(op.Result) != "42" {
		t.Errorf("result = %s, want 42", op.Result)
	}
}

func TestDispatchTimesOut(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, op := postOperation(t, ts.URL, `{"tool":"execute_code","params":{"code":"return 42;"},"timeout_ms":1}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if op.Status != "timeout" {
		t.Errorf("status = %q, want timeout", op.Status)
	}
	if op.IsComplete {
		t.Error("is_complete = true, want false for a timed out operation")
	}
}

func TestDispatchRemoteError(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, op := postOperation(t, ts.URL, `{"tool":"execute_code","params":{"code":"throw new Exception();"}}`)

	if op.Status != "error" {
		t.Errorf("status = %q, want error", op.Status)
	}
	if op.Error != "Exception: boom" {
		t.Errorf("error = %q, want remote message", op.Error)
	}
}

func TestDispatchStillRunning(t *testing.T) {
	srv := newTestServerWith(t, &fakeUnity{latency: 300 * time.Millisecond})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// A client that gives up quickly leaves the operation running.
	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := client.Post(ts.URL+"/v1/operations", "application/json",
		bytes.NewBufferString(`{"tool":"play_start","timeout_ms":5000}`))
	if err == nil {
		t.Fatal("expected client timeout")
	}

	list := getList(t, ts.URL, "")
	if list.Total != 1 {
		t.Fatalf("total = %d, want 1", list.Total)
	}
	if list.Operations[0].IsComplete {
		t.Error("operation should still be running")
	}
}

func TestDispatchBadRequests(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cases := map[string]string{
		"invalid json":   "not json",
		"missing tool":   `{"params":{}}`,
		"unknown tool":   `{"tool":"format_disk"}`,
		"missing code":   `{"tool":"execute_code","params":{}}`,
		"negative delay": `{"tool":"play_stop","timeout_ms":-5}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := postOperation(t, ts.URL, body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetOperation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, created := postOperation(t, ts.URL, `{"tool":"query","params":{"query":"Camera.main"}}`)

	resp, err := http.Get(ts.URL + "/v1/operations/" + created.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got dispatch.Response
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != created.ID || got.Tool != "query" {
		t.Errorf("got %+v", got)
	}
}

func TestGetOperationNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"", "/logs", "/results", "/events"} {
		resp, err := http.Get(ts.URL + "/v1/operations/nonexistent" + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func getList(t *testing.T, url, query string) dispatch.ListResponse {
	t.Helper()
	resp, err := http.Get(url + "/v1/operations" + query)
	if err != nil {
		t.Fatalf("GET /v1/operations: %v", err)
	}
	defer resp.Body.Close()

	var list dispatch.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return list
}

func TestListOperationsPagination(t *testing.T) {
	srv := newTestServerWith(t, &fakeUnity{latency: time.Millisecond})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var ids []string
	for i := 0; i < 5; i++ {
		_, op := postOperation(t, ts.URL, fmt.Sprintf(`{"tool":"execute_code","params":{"code":"return %d;"}}`, i))
		ids = append(ids, op.ID)
	}

	list := getList(t, ts.URL, "?limit=2&offset=1")
	if list.Total != 5 {
		t.Errorf("total = %d, want 5", list.Total)
	}
	if list.Limit != 2 || list.Offset != 1 {
		t.Errorf("limit/offset = %d/%d, want 2/1", list.Limit, list.Offset)
	}
	if len(list.Operations) != 2 {
		t.Fatalf("len = %d, want 2", len(list.Operations))
	}
	if list.Operations[0].ID != ids[3] || list.Operations[1].ID != ids[2] {
		t.Errorf("unexpected order: %s, %s", list.Operations[0].ID, list.Operations[1].ID)
	}

	// Out-of-range values fall back to defaults.
	list = getList(t, ts.URL, "?limit=1000&offset=-3")
	if list.Limit != defaultListLimit || list.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", list.Limit, list.Offset, defaultListLimit)
	}
}

func TestListOperationsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	list := getList(t, ts.URL, "")
	if list.Operations == nil || len(list.Operations) != 0 {
		t.Errorf("operations = %v, want empty array", list.Operations)
	}
}

func cancelOperation(t *testing.T, method, url string) (int, dispatch.CancelResponse) {
	t.Helper()
	req, _ := http.NewRequest(method, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var c dispatch.CancelResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode, c
}

func TestCancelOperation(t *testing.T) {
	srv := newTestServerWith(t, &fakeUnity{latency: 300 * time.Millisecond})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := &http.Client{Timeout: 50 * time.Millisecond}
	client.Post(ts.URL+"/v1/operations", "application/json",
		bytes.NewBufferString(`{"tool":"execute_code","params":{"code":"return 1;"},"timeout_ms":5000}`))
	id := getList(t, ts.URL, "").Operations[0].ID

	status, c := cancelOperation(t, http.MethodPost, ts.URL+"/v1/operations/"+id+"/cancel")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if c.Outcome != registry.CancelAccepted || c.Status != "cancelled" {
		t.Errorf("cancel = %+v, want accepted/cancelled", c)
	}

	status, c = cancelOperation(t, http.MethodDelete, ts.URL+"/v1/operations/"+id)
	if status != http.StatusOK {
		t.Fatalf("second cancel status = %d, want 200", status)
	}
	if c.Outcome != registry.CancelAlreadyTerminal {
		t.Errorf("second cancel outcome = %q, want already_completed", c.Outcome)
	}

	status, _ = cancelOperation(t, http.MethodDelete, ts.URL+"/v1/operations/nonexistent")
	if status != http.StatusNotFound {
		t.Errorf("unknown cancel status = %d, want 404", status)
	}
}
