package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"catena/internal/config"
	"catena/internal/db"
	"catena/internal/engine"
	"catena/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("ws-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func authHeaders(t *testing.T, subject string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, subject)}
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := authHeaders(t, "tester")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collections", map[string]any{
		"title": "Field measurements",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create collection: %d %s", res.StatusCode, string(data))
	}
	var collection CollectionResponse
	if err := json.Unmarshal(data, &collection); err != nil {
		t.Fatalf("unmarshal collection: %v", err)
	}
	base := srv.URL + "/v0/collections/" + collection.ID

	resourceIDs := make([]string, 0, 2)
	for _, spec := range []map[string]any{
		{"title": "Raw data", "identifier": "10.5/raw", "identifier_type": "DOI", "resource_type": "Dataset"},
		{"title": "Analysis", "identifier": "10.5/analysis", "identifier_type": "DOI", "resource_type": "Software"},
	} {
		res, data = doJSON(t, client, http.MethodPost, base+"/resources", spec, auth)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create resource: %d %s", res.StatusCode, string(data))
		}
		var r ResourceResponse
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatalf("unmarshal resource: %v", err)
		}
		resourceIDs = append(resourceIDs, r.ID)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/relations/internal", map[string]any{
		"source_id": resourceIDs[1],
		"target_id": resourceIDs[0],
		"type":      "IsDerivedFrom",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create relation: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/draft/validation", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validation: %d %s", res.StatusCode, string(data))
	}
	var validation ValidationResponse
	if err := json.Unmarshal(data, &validation); err != nil {
		t.Fatalf("unmarshal validation: %v", err)
	}
	if !validation.Valid {
		t.Fatalf("draft should be valid: %+v", validation.Errors)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/publish", map[string]any{
		"changelog": "initial release",
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d %s", res.StatusCode, string(data))
	}
	var version VersionResponse
	if err := json.Unmarshal(data, &version); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}
	if !version.Published || version.Name != "2024.1.1" {
		t.Fatalf("unexpected published version: %+v", version)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/draft", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("draft after publish: %d %s", res.StatusCode, string(data))
	}
	var draft DraftResponse
	if err := json.Unmarshal(data, &draft); err != nil {
		t.Fatalf("unmarshal draft: %v", err)
	}
	if len(draft.Resources) != 2 {
		t.Fatalf("expected 2 cloned resources, got %d", len(draft.Resources))
	}
	for _, r := range draft.Resources {
		if r.Action == nil || *r.Action != "clone" {
			t.Fatalf("resource %s not tagged clone", r.Title)
		}
	}
}

func TestPublishWithoutBody(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := authHeaders(t, "tester")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collections", map[string]any{
		"title": "Bare publish",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create collection: %d %s", res.StatusCode, string(data))
	}
	var collection CollectionResponse
	_ = json.Unmarshal(data, &collection)
	base := srv.URL + "/v0/collections/" + collection.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/resources", map[string]any{
		"title": "Only resource", "identifier": "10.5/x", "identifier_type": "DOI", "resource_type": "Dataset",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create resource: %d %s", res.StatusCode, string(data))
	}

	// Changelog and creators are optional; publishing with no body at all
	// must still reach the engine.
	res, data = doJSON(t, client, http.MethodPost, base+"/publish", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bodiless publish: %d %s", res.StatusCode, string(data))
	}
	var version VersionResponse
	if err := json.Unmarshal(data, &version); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}
	if !version.Published || version.Name != "2024.1.1" {
		t.Fatalf("unexpected published version: %+v", version)
	}
}

func TestPublishInvalidDraftReturns422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := authHeaders(t, "tester")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collections", map[string]any{
		"title": "Broken",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create collection: %d %s", res.StatusCode, string(data))
	}
	var collection CollectionResponse
	_ = json.Unmarshal(data, &collection)
	base := srv.URL + "/v0/collections/" + collection.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/resources", map[string]any{
		"title": "No identifier",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create resource: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/publish", nil, auth)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
}

func TestRequestsWithoutCredentialsAreRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/collections", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestRoleEnforcement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	owner := authHeaders(t, "owner-user")
	stranger := authHeaders(t, "stranger")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collections", map[string]any{
		"title": "Private",
	}, owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create collection: %d %s", res.StatusCode, string(data))
	}
	var collection CollectionResponse
	_ = json.Unmarshal(data, &collection)
	base := srv.URL + "/v0/collections/" + collection.ID

	// No grant means no access at all.
	res, data = doJSON(t, client, http.MethodGet, base, nil, stranger)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d %s", res.StatusCode, string(data))
	}

	// A viewer can read but not edit.
	res, data = doJSON(t, client, http.MethodPut, base+"/access/stranger", map[string]any{
		"role": "viewer",
	}, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("grant access: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, base, nil, stranger)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("viewer read should pass, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/resources", map[string]any{
		"title": "nope",
	}, stranger)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer write should 403, got %d %s", res.StatusCode, string(data))
	}
}
