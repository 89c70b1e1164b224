package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/hypervisor"
)

func newTestServer(t *testing.T, opts Options) (*Server, *fakeHypervisor, *httptest.Server) {
	t.Helper()
	hv := newFakeHypervisor()
	hv.add("win11", hypervisor.StateRunning)
	hv.add("base", hypervisor.StatePoweredOff)
	hv.add("off", hypervisor.StatePoweredOff)

	srv, err := New(hv, opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, hv, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func create(t *testing.T, ts *httptest.Server, body string) createResponse {
	t.Helper()
	resp := postJSON(t, ts.URL+"/", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func callAPI(t *testing.T, endpoint string, data any, callback string) (*http.Response, string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	q := url.Values{"data": {string(raw)}}
	if callback != "" {
		q.Set("callback", callback)
	}
	resp, err := http.Get(endpoint + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	var sb bytes.Buffer
	_, err = sb.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, sb.String()
}

func decodeAPI(t *testing.T, body string) apiResponse {
	t.Helper()
	var out apiResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(newFakeHypervisor(), Options{Layout: "klingon"})
	assert.Error(t, err)

	_, err = New(newFakeHypervisor(), Options{Username: "admin"})
	assert.Error(t, err)

	srv, err := New(newFakeHypervisor(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "us", srv.opts.Layout)
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCreateSession_Attach(t *testing.T) {
	srv, hv, ts := newTestServer(t, Options{})

	out := create(t, ts, `{"connect": "win11"}`)
	require.NotEmpty(t, out.ID)
	assert.Equal(t, ts.URL+"/vm/"+out.ID+"/api/execute", out.Execute)
	assert.Equal(t, ts.URL+"/vm/"+out.ID+"/run", out.Run)
	assert.Equal(t, ts.URL+"/vm/"+out.ID+"/close", out.Close)
	assert.Equal(t, 1, srv.Registry().Len())

	m, _ := hv.machine("win11")
	assert.True(t, m.locked)

	resp, err := http.Get(ts.URL + "/vm")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []v1alpha1.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, out.ID, list[0].UID)
	assert.Equal(t, v1alpha1.SessionModeAttach, list[0].Spec.Mode)
	assert.Equal(t, "us", list[0].Spec.Layout)

	resp = postJSON(t, out.Close, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, srv.Registry().Len())

	m, ok := hv.machine("win11")
	require.True(t, ok, "attached machine must survive close")
	st, _ := m.State(context.Background())
	assert.Equal(t, hypervisor.StateRunning, st)
}

func TestCreateSession_Clone(t *testing.T) {
	_, hv, ts := newTestServer(t, Options{})

	out := create(t, ts, `{"clone": "base", "layout": "fr"}`)

	resp, err := http.Get(ts.URL + "/vm/" + out.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	var res v1alpha1.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.IsClone())
	assert.Equal(t, "fr", res.Spec.Layout)
	assert.True(t, strings.HasPrefix(res.Status.Machine, "base-marionette-"), res.Status.Machine)

	_, ok := hv.machine(res.Status.Machine)
	require.True(t, ok)

	resp = postJSON(t, out.Close, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok = hv.machine(res.Status.Machine)
	assert.False(t, ok, "clone must be deleted on close")

	resp = postJSON(t, out.Close, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSession_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "invalid json", body: `{`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"robot": "x"}`, status: http.StatusBadRequest},
		{name: "no machine", body: `{}`, status: http.StatusBadRequest},
		{name: "both modes", body: `{"connect": "win11", "clone": "base"}`, status: http.StatusBadRequest},
		{name: "snapshot without clone", body: `{"connect": "win11", "snapshot": "s"}`, status: http.StatusBadRequest},
		{name: "unknown layout", body: `{"connect": "win11", "layout": "xx"}`, status: http.StatusBadRequest},
		{name: "unknown machine", body: `{"connect": "nope"}`, status: http.StatusNotFound},
		{name: "not running", body: `{"connect": "off"}`, status: http.StatusConflict},
		{name: "unknown snapshot", body: `{"clone": "base", "snapshot": "gone"}`, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, ts := newTestServer(t, Options{})
			resp := postJSON(t, ts.URL+"/", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var e errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.NotEmpty(t, e.Error)
			assert.Equal(t, 0, srv.Registry().Len())
		})
	}
}

func TestBasicAuth(t *testing.T) {
	_, _, ts := newTestServer(t, Options{Username: "admin", Password: "secret"})

	resp := postJSON(t, ts.URL+"/", `{"connect": "win11"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="protected area"`, resp.Header.Get("WWW-Authenticate"))

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/", strings.NewReader(`{"connect": "win11"}`))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, ts.URL+"/", strings.NewReader(`{"connect": "win11"}`))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Health stays open.
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecute(t *testing.T) {
	_, hv, ts := newTestServer(t, Options{})
	out := create(t, ts, `{"connect": "win11"}`)

	batch := []any{[]any{
		[]any{"mouseMove", 10, 20},
		[]any{"mousePress", 16},
		[]any{"mouseRelease", 16},
		[]any{"type", "Ab"},
	}}
	resp, body := callAPI(t, out.Execute, batch, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
	assert.Equal(t, "Tue, 01 Jan 1970 00:00:00 GMT", resp.Header.Get("Expires"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	res := decodeAPI(t, body)
	assert.True(t, res.Success, body)

	hv.mu.Lock()
	defer hv.mu.Unlock()
	assert.Equal(t, []hypervisor.ButtonMask{0, hypervisor.ButtonLeft, 0}, hv.events)
	require.Len(t, hv.scancode, 1)
	assert.Len(t, hv.scancode[0], 6)
}

func TestExecute_Failure(t *testing.T) {
	_, hv, ts := newTestServer(t, Options{})
	out := create(t, ts, `{"connect": "win11"}`)

	_, body := callAPI(t, out.Execute, []any{[]any{
		[]any{"keyPress", 65},
		[]any{"fly"},
	}}, "")
	res := decodeAPI(t, body)
	assert.False(t, res.Success)
	assert.Contains(t, res.Result, "when executing execute with data")
	assert.Contains(t, res.Result, "unknown action")

	hv.mu.Lock()
	assert.Empty(t, hv.scancode, "a batch with an invalid action must not run")
	hv.mu.Unlock()

	// Arguments are checked for the whole batch before the first action runs.
	_, body = callAPI(t, out.Execute, []any{[]any{
		[]any{"mouseMove", 10, 20},
		[]any{"mouseMove", "bogus", 20},
	}}, "")
	res = decodeAPI(t, body)
	assert.False(t, res.Success)
	assert.Contains(t, res.Result, "mouseMove")

	hv.mu.Lock()
	assert.Empty(t, hv.events, "a batch with invalid arguments must not move the mouse")
	hv.mu.Unlock()

	_, body = callAPI(t, out.Execute, []any{[]any{
		[]any{"keyPress", 65},
		[]any{"keyPress", 9999},
		[]any{"keyPress", 66},
	}}, "")
	res = decodeAPI(t, body)
	assert.False(t, res.Success)

	hv.mu.Lock()
	assert.Len(t, hv.scancode, 1, "strict mode stops at the failing action")
	hv.mu.Unlock()

	_, body = callAPI(t, out.Execute, "not a batch", "")
	assert.False(t, decodeAPI(t, body).Success)
}

func TestExecute_JSONP(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})
	out := create(t, ts, `{"connect": "win11"}`)

	resp, body := callAPI(t, out.Execute, []any{[]any{[]any{"pause", 0}}}, "jQuery_1.cb[0]")
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/javascript")
	assert.Equal(t, `/**/ jQuery_1.cb[0]({"success":true});`, body)

	resp, body = callAPI(t, out.Execute, []any{[]any{[]any{"pause", 0}}}, "alert(1)")
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, `{"success":true}`, body)
}

func TestExecuteIsolated(t *testing.T) {
	_, hv, ts := newTestServer(t, Options{})
	out := create(t, ts, `{"connect": "win11"}`)
	endpoint := strings.TrimSuffix(out.Execute, "execute") + "executeIsolated"

	_, body := callAPI(t, endpoint, []any{[]any{
		[]any{"keyPress", 65},
		[]any{"keyPress", 9999},
		[]any{"fly"},
		[]any{"keyRelease", 65},
	}}, "")

	var res struct {
		Success bool `json:"success"`
		Result  []struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.True(t, res.Success, body)
	require.Len(t, res.Result, 4)
	assert.True(t, res.Result[0].Success)
	assert.False(t, res.Result[1].Success)
	assert.NotEmpty(t, res.Result[1].Error)
	assert.False(t, res.Result[2].Success)
	assert.True(t, res.Result[3].Success)

	hv.mu.Lock()
	assert.Len(t, hv.scancode, 2)
	hv.mu.Unlock()
}

func TestExecuteIsolated_DeviceFailureAborts(t *testing.T) {
	_, hv, ts := newTestServer(t, Options{})
	out := create(t, ts, `{"connect": "win11"}`)
	endpoint := strings.TrimSuffix(out.Execute, "execute") + "executeIsolated"

	hv.mu.Lock()
	hv.mouseErr = errors.New("qmp gone")
	hv.mu.Unlock()

	_, body := callAPI(t, endpoint, []any{[]any{
		[]any{"keyPress", 65},
		[]any{"mouseMove", 1, 1},
		[]any{"keyPress", 66},
	}}, "")
	res := decodeAPI(t, body)
	assert.False(t, res.Success)
	assert.Contains(t, res.Result, "qmp gone")
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Success)
}

func TestRunProcess(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})
	out := create(t, ts, `{"connect": "win11"}`)

	resp := postJSON(t, out.Run, `{"commandLine": ["cmd.exe", "/c", "ver"], "env": ["A=1"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res hypervisor.ProcessResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "cmd.exe", res.Stdout)

	resp = postJSON(t, out.Run, `{"commandLine": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownSession(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/vm/nope/run", `{"commandLine": ["x"]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = callAPI(t, ts.URL+"/vm/nope/api/execute", []any{[]any{}}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListenAndServe_ClosesSessionsOnShutdown(t *testing.T) {
	srv, hv, _ := newTestServer(t, Options{ShutdownTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	out := create(t, ts, `{"clone": "base"}`)
	require.Equal(t, 1, srv.Registry().Len())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
	assert.Equal(t, 0, srv.Registry().Len())

	hv.mu.Lock()
	defer hv.mu.Unlock()
	for name := range hv.machines {
		assert.False(t, strings.HasPrefix(name, "base-marionette-"), "clone %s left behind for %s", name, out.ID)
	}
}
