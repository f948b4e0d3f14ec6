package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/varserver/vard/api"
	"github.com/varserver/vard/internal/registry"
)

func newTestHandler(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()
	reg := registry.New(nil)
	h := New(Config{
		Registry: reg,
		RunID:    "test-run",
		Version:  "v0.0.0-test",
	})
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func post(t *testing.T, srv *httptest.Server, path string, payload, out any) (int, *api.ErrorResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		var envelope api.ErrorResponse
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("POST %s: status %d, unparsable error body %q", path, res.StatusCode, raw)
		}
		return res.StatusCode, &envelope
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("POST %s: decode %q: %v", path, raw, err)
		}
	}
	return res.StatusCode, nil
}

func createVar(t *testing.T, srv *httptest.Server, req api.CreateRequest) api.CreateResponse {
	t.Helper()
	var res api.CreateResponse
	status, envelope := post(t, srv, "/v1/create", req, &res)
	if envelope != nil {
		t.Fatalf("create %s: status %d code %s", req.Name, status, envelope.ErrorCode)
	}
	return res
}

func TestCreateGetSetRoundtrip(t *testing.T) {
	_, srv := newTestHandler(t)
	created := createVar(t, srv, api.CreateRequest{
		Name: "temp.cpu", Type: "float", Value: "48.5", Tags: "sensor", Format: "%.1fC",
	})
	if created.Handle == 0 {
		t.Fatal("create returned handle 0")
	}

	var got api.GetResponse
	post(t, srv, "/v1/get", api.GetRequest{Name: "temp.cpu"}, &got)
	if got.Value != "48.5" || got.Type != "float" || got.Formatted != "48.5C" {
		t.Fatalf("get = %+v", got)
	}
	if got.Tags != "sensor" {
		t.Fatalf("tags = %q", got.Tags)
	}

	var set api.SetResponse
	post(t, srv, "/v1/set", api.SetRequest{Handle: created.Handle, Value: "50.25"}, &set)
	if set.Seq != 1 {
		t.Fatalf("set seq = %d, want 1", set.Seq)
	}

	post(t, srv, "/v1/get", api.GetRequest{Handle: created.Handle}, &got)
	if got.Value != "50.25" || got.Seq != 1 {
		t.Fatalf("get after set = %+v", got)
	}
}

func TestErrorCodes(t *testing.T) {
	_, srv := newTestHandler(t)
	createVar(t, srv, api.CreateRequest{Name: "ro", Type: "str", Value: "x", Flags: "readonly"})

	cases := []struct {
		name       string
		path       string
		payload    any
		wantStatus int
		wantCode   string
	}{
		{"get missing", "/v1/get", api.GetRequest{Name: "missing"}, http.StatusNotFound, api.ErrCodeNotFound},
		{"duplicate create", "/v1/create", api.CreateRequest{Name: "ro", Type: "str"}, http.StatusConflict, api.ErrCodeAlreadyExists},
		{"set readonly", "/v1/set", api.SetRequest{Name: "ro", Value: "y"}, http.StatusForbidden, api.ErrCodeReadonly},
		{"bad type", "/v1/create", api.CreateRequest{Name: "x", Type: "decimal"}, http.StatusBadRequest, api.ErrCodeInvalidArgument},
		{"bad handle", "/v1/get", api.GetRequest{Handle: 999}, http.StatusBadRequest, api.ErrCodeInvalidHandle},
		{"empty selector", "/v1/get", api.GetRequest{}, http.StatusBadRequest, api.ErrCodeInvalidArgument},
	}
	for _, tc := range cases {
		status, envelope := post(t, srv, tc.path, tc.payload, nil)
		if envelope == nil {
			t.Fatalf("%s: expected an error response", tc.name)
		}
		if status != tc.wantStatus || envelope.ErrorCode != tc.wantCode {
			t.Fatalf("%s: got (%d, %s), want (%d, %s)",
				tc.name, status, envelope.ErrorCode, tc.wantStatus, tc.wantCode)
		}
	}
}

func TestQueryCursorProtocol(t *testing.T) {
	_, srv := newTestHandler(t)
	for _, name := range []string{"temp.cpu", "temp.gpu", "humidity"} {
		createVar(t, srv, api.CreateRequest{Name: name, Type: "str"})
	}

	req := api.QueryRequest{Mode: 1, Pattern: "temp."} // MatchName
	var names []string
	for {
		var res api.QueryResponse
		status, envelope := post(t, srv, "/v1/query", req, &res)
		if envelope != nil {
			t.Fatalf("query: status %d code %s", status, envelope.ErrorCode)
		}
		if res.Done {
			break
		}
		names = append(names, res.Name)
		if res.Token == "" {
			t.Fatal("match without resume token")
		}
		req.Token = res.Token
	}
	if len(names) != 2 || names[0] != "temp.cpu" || names[1] != "temp.gpu" {
		t.Fatalf("query matches = %v", names)
	}
}

func TestQueryRejectsConflictingModes(t *testing.T) {
	_, srv := newTestHandler(t)
	status, envelope := post(t, srv, "/v1/query", api.QueryRequest{Mode: 3, Pattern: "x"}, nil)
	if envelope == nil || status != http.StatusBadRequest || envelope.ErrorCode != api.ErrCodeInvalidArgument {
		t.Fatalf("got (%d, %+v), want invalid_argument", status, envelope)
	}
}

func TestRenderEndpoint(t *testing.T) {
	_, srv := newTestHandler(t)
	created := createVar(t, srv, api.CreateRequest{Name: "n", Type: "uint32", Value: "255", Format: "0x%02x"})

	body, _ := json.Marshal(api.RenderRequest{Handle: created.Handle})
	res, err := http.Post(srv.URL+"/v1/render", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(raw) != "0xff" {
		t.Fatalf("render = (%d, %q), want (200, 0xff)", res.StatusCode, raw)
	}
}

func TestFlagsEndpoint(t *testing.T) {
	_, srv := newTestHandler(t)
	createVar(t, srv, api.CreateRequest{Name: "sys.a", Type: "str"})
	createVar(t, srv, api.CreateRequest{Name: "sys.b", Type: "str"})

	var res api.FlagsResponse
	post(t, srv, "/v1/flags", api.FlagsRequest{Match: "sys.", Flags: "readonly", Op: api.FlagOpSet}, &res)
	if res.Affected != 2 {
		t.Fatalf("affected = %d, want 2", res.Affected)
	}

	status, envelope := post(t, srv, "/v1/flags", api.FlagsRequest{Match: "sys.", Flags: "readonly", Op: "toggle"}, nil)
	if envelope == nil || status != http.StatusBadRequest {
		t.Fatalf("bad op accepted: %d", status)
	}
}

func TestAliasEndpoint(t *testing.T) {
	_, srv := newTestHandler(t)
	created := createVar(t, srv, api.CreateRequest{Name: "canonical", Type: "str", Value: "v"})

	var res api.AliasResponse
	post(t, srv, "/v1/alias", api.AliasRequest{Name: "canonical", Alias: "nick"}, &res)
	if res.Handle != created.Handle {
		t.Fatalf("alias handle = %d, want %d", res.Handle, created.Handle)
	}

	var got api.GetResponse
	post(t, srv, "/v1/get", api.GetRequest{Name: "nick"}, &got)
	if got.Value != "v" {
		t.Fatalf("get via alias = %+v", got)
	}
}

func TestWatchEndpointTimesOut(t *testing.T) {
	_, srv := newTestHandler(t)
	createVar(t, srv, api.CreateRequest{Name: "w", Type: "uint32"})

	var res api.WatchResponse
	post(t, srv, "/v1/watch", api.WatchRequest{Name: "w", Seq: 0, TimeoutSeconds: 1}, &res)
	if res.Changed {
		t.Fatal("watch reported a change without a set")
	}
}

func TestStatusAndHealth(t *testing.T) {
	_, srv := newTestHandler(t)
	createVar(t, srv, api.CreateRequest{Name: "a", Type: "str", Tags: "t1"})

	res, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer res.Body.Close()
	var st api.StatusResponse
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.RunID != "test-run" || st.Version != "v0.0.0-test" {
		t.Fatalf("status identity = %+v", st)
	}
	if st.Variables != 1 || st.Tags != 1 {
		t.Fatalf("status counts = %+v", st)
	}
	if st.Requests["create"] != 1 {
		t.Fatalf("request counter = %v", st.Requests)
	}

	for _, probe := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(srv.URL + probe)
		if err != nil {
			t.Fatalf("%s: %v", probe, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", probe, res.StatusCode)
		}
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, srv := newTestHandler(t)
	res, err := http.Post(srv.URL+"/v1/get", "application/json",
		bytes.NewReader([]byte(`{"name":"x","bogus":true}`)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field accepted: %d", res.StatusCode)
	}
}

func TestGetRequiresPost(t *testing.T) {
	_, srv := newTestHandler(t)
	res, err := http.Get(srv.URL + "/v1/get")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET on JSON endpoint = %d, want 405", res.StatusCode)
	}
}

func TestWrapRecoversPanics(t *testing.T) {
	h := New(Config{Registry: registry.New(nil)})
	srv := httptest.NewServer(h.wrap("boom", func(http.ResponseWriter, *http.Request) error {
		panic("handler exploded")
	}))
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("panicking handler = %d, want 500", res.StatusCode)
	}
	var envelope api.ErrorResponse
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.ErrorCode != api.ErrCodeInternal {
		t.Fatalf("error code = %q, want %q", envelope.ErrorCode, api.ErrCodeInternal)
	}
}
