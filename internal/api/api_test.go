package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/fieldstock/internal/db"
	"github.com/erazemk/fieldstock/internal/model"
	"github.com/erazemk/fieldstock/internal/store"
)

const (
	testJWTSecret = "test-secret"
	testPassword  = "password123"
	testWindow    = 15 * time.Minute
)

// testEnv is a running API over a fresh database with one location, an
// admin, a warehouseman and two technicians, all logged in.
type testEnv struct {
	t      *testing.T
	db     *sql.DB
	server *httptest.Server
	skew   atomic.Int64

	loc   int64
	kabel int64
	ids   map[string]int64
	token map[string]string
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{t: t, db: db.NewTestDB(t), ids: map[string]int64{}, token: map[string]string{}}

	router := NewRouter(e.db, testJWTSecret, Options{
		AmendWindow: testWindow,
		Now:         func() time.Time { return time.Now().Add(time.Duration(e.skew.Load())) },
	})
	e.server = httptest.NewServer(LoggingMiddleware(router))
	t.Cleanup(e.server.Close)

	ctx := context.Background()
	loc, err := store.CreateLocation(ctx, e.db, "Ljubljana")
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	e.loc = loc.ID

	def, err := store.CreateMaterialDefinition(ctx, e.db, "Kabel", "cable", "K-100", "m", decimal.RequireFromString("0.45"))
	if err != nil {
		t.Fatalf("CreateMaterialDefinition: %v", err)
	}
	e.kabel = def.ID

	hash, _ := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	for _, u := range []struct{ name, role string }{
		{"admin", model.RoleAdmin},
		{"skladiscnik", model.RoleWarehouseman},
		{"ana", model.RoleTechnician},
		{"bor", model.RoleTechnician},
	} {
		user, err := store.CreateUser(ctx, e.db, u.name, string(hash), u.role)
		if err != nil {
			t.Fatalf("CreateUser %s: %v", u.name, err)
		}
		if u.role != model.RoleAdmin {
			if err := store.SetUserLocations(ctx, e.db, user.ID, []int64{e.loc}); err != nil {
				t.Fatalf("SetUserLocations: %v", err)
			}
		}
		e.ids[u.name] = user.ID
		e.token[u.name] = e.login(u.name, testPassword)
	}
	return e
}

func (e *testEnv) login(username, password string) string {
	e.t.Helper()
	resp := e.do("", "POST", "/api/auth/login", map[string]string{"username": username, "password": password})
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var body loginResponse
	decodeBody(e.t, resp, &body)
	if body.Token == "" {
		e.t.Fatal("empty token from login")
	}
	return body.Token
}

// do sends a request as the named user's token (or raw token when as is not
// a known user) and returns the response.
func (e *testEnv) do(as, method, path string, body any) *http.Response {
	e.t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshaling body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		e.t.Fatalf("building request: %v", err)
	}
	token, ok := e.token[as]
	if !ok {
		token = as
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// expect sends a request, checks the status and decodes the body into out.
func (e *testEnv) expect(as, method, path string, body any, status int, out any) {
	e.t.Helper()
	resp := e.do(as, method, path, body)
	if resp.StatusCode != status {
		msg, _ := io.ReadAll(resp.Body)
		e.t.Fatalf("%s %s as %s: expected %d, got %d: %s", method, path, as, status, resp.StatusCode, msg)
	}
	if out != nil {
		decodeBody(e.t, resp, out)
	}
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func path(format string, id int64) string {
	return strings.Replace(format, "{id}", strconv.FormatInt(id, 10), 1)
}

// issuedDevice receives a device and issues it to the named technician.
func (e *testEnv) issuedDevice(serial, tech string) int64 {
	e.t.Helper()
	var received movementResponse
	e.expect("skladiscnik", "POST", "/api/stock/devices",
		map[string]any{"name": "Router", "category": "router", "serial_number": serial},
		http.StatusCreated, &received)
	e.expect("skladiscnik", "POST", path("/api/items/{id}/issue", received.Item.ID),
		map[string]any{"technician_id": e.ids[tech]}, http.StatusOK, nil)
	return received.Item.ID
}

func TestLoginEndpoint(t *testing.T) {
	e := setupTestServer(t)

	resp := e.do("", "POST", "/api/auth/login", map[string]string{"username": "admin", "password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp = e.do("", "POST", "/api/auth/login", map[string]string{"username": "nobody", "password": "x"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown user, got %d", resp.StatusCode)
	}

	resp = e.do("", "GET", "/api/locations", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	e := setupTestServer(t)
	token := e.login("ana", testPassword)

	e.expect(token, "GET", "/api/locations", nil, http.StatusOK, nil)
	e.expect(token, "POST", "/api/auth/logout", nil, http.StatusNoContent, nil)

	resp := e.do(token, "GET", "/api/locations", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
	// Other sessions of the same user stay valid.
	e.expect("ana", "GET", "/api/locations", nil, http.StatusOK, nil)
}

func TestDeletedUserLosesAccess(t *testing.T) {
	e := setupTestServer(t)

	e.expect("admin", "DELETE", path("/api/users/{id}", e.ids["bor"]), nil, http.StatusNoContent, nil)

	resp := e.do("bor", "GET", "/api/locations", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for deleted user, got %d", resp.StatusCode)
	}
}

func TestRoleGating(t *testing.T) {
	e := setupTestServer(t)

	tests := []struct {
		as, method, path string
		body             any
		want             int
	}{
		{"ana", "GET", "/api/users", nil, http.StatusForbidden},
		{"skladiscnik", "GET", "/api/users", nil, http.StatusForbidden},
		{"admin", "GET", "/api/users", nil, http.StatusOK},
		{"ana", "POST", "/api/stock/devices", map[string]any{"name": "R", "serial_number": "X1"}, http.StatusForbidden},
		{"ana", "POST", "/api/orders", map[string]any{"type": "installation"}, http.StatusForbidden},
		{"skladiscnik", "POST", "/api/transfers", map[string]any{"item_id": 1, "to_user_id": 2}, http.StatusForbidden},
		{"ana", "GET", path("/api/technicians/{id}/stock", e.ids["bor"]), nil, http.StatusForbidden},
		{"ana", "GET", path("/api/technicians/{id}/stock", e.ids["ana"]), nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.as+" "+tt.method+" "+tt.path, func(t *testing.T) {
			resp := e.do(tt.as, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	e := setupTestServer(t)

	tests := []struct {
		name    string
		body    any
		wantErr string
	}{
		{"bad type", map[string]any{"type": "repair"}, "type must be one of: installation service outage"},
		{"missing type", map[string]any{"client": "Novak"}, "type is required"},
		{"unknown field", map[string]any{"type": "service", "priority": 1}, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			e.expect("admin", "POST", "/api/orders", tt.body, http.StatusBadRequest, &body)
			if body["error"] != tt.wantErr {
				t.Errorf("expected %q, got %q", tt.wantErr, body["error"])
			}
		})
	}
}

func TestStoreErrorsMapToStatus(t *testing.T) {
	e := setupTestServer(t)
	dev := e.issuedDevice("SN-1", "ana")

	// Conflict: duplicate serial.
	e.expect("skladiscnik", "POST", "/api/stock/devices",
		map[string]any{"name": "Router", "serial_number": " sn-1 "}, http.StatusConflict, nil)
	// NotFound: unknown order.
	e.expect("ana", "POST", "/api/orders/999/complete",
		map[string]any{"status": "not_completed", "failure_reason": "nobody home"}, http.StatusNotFound, nil)
	// BadRequest: device is no longer available for issue.
	e.expect("skladiscnik", "POST", path("/api/items/{id}/issue", dev),
		map[string]any{"technician_id": e.ids["bor"]}, http.StatusBadRequest, nil)
}

func TestSettlementFlow(t *testing.T) {
	e := setupTestServer(t)
	dev := e.issuedDevice("SN-100", "ana")

	var received movementResponse
	e.expect("skladiscnik", "POST", "/api/stock/materials",
		map[string]any{"definition_id": e.kabel, "quantity": 10}, http.StatusCreated, &received)
	e.expect("skladiscnik", "POST", path("/api/items/{id}/issue", received.Item.ID),
		map[string]any{"technician_id": e.ids["ana"], "quantity": 4}, http.StatusOK, nil)

	var order model.Order
	e.expect("admin", "POST", "/api/orders",
		map[string]any{"type": "installation", "client": "Novak", "assigned_to_id": e.ids["ana"]},
		http.StatusCreated, &order)
	if order.Status != model.OrderAssigned || !strings.HasPrefix(order.Number, "ORD-") {
		t.Fatalf("unexpected order: %+v", order)
	}

	// Someone else's order is invisible.
	e.expect("bor", "GET", path("/api/orders/{id}", order.ID), nil, http.StatusNotFound, nil)

	settlement := map[string]any{
		"status":        "completed",
		"work_codes":    []map[string]any{{"code": "INST-1", "quantity": 1}},
		"materials":     []map[string]any{{"definition_id": e.kabel, "quantity": 6}},
		"equipment_ids": []int64{dev},
	}
	var res store.SettlementResult
	e.expect("ana", "POST", path("/api/orders/{id}/complete", order.ID), settlement, http.StatusOK, &res)
	if res.Order.Status != model.OrderCompleted {
		t.Errorf("expected completed, got %s", res.Order.Status)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected one shortage warning, got %v", res.Warnings)
	}

	var item model.Item
	e.expect("ana", "GET", path("/api/items/{id}", dev), nil, http.StatusOK, &item)
	if item.Status != model.StatusAssignedToOrder {
		t.Errorf("expected device consumed, got %s", item.Status)
	}

	var stock []model.Item
	e.expect("ana", "GET", path("/api/technicians/{id}/stock", e.ids["ana"]), nil, http.StatusOK, &stock)
	if len(stock) != 0 {
		t.Errorf("expected empty technician stock, got %d rows", len(stock))
	}

	// Completing twice is refused.
	e.expect("ana", "POST", path("/api/orders/{id}/complete", order.ID), settlement, http.StatusBadRequest, nil)

	// Past the window only supervisors may amend.
	e.skew.Store(int64(20 * time.Minute))
	delete(settlement, "equipment_ids")
	e.expect("ana", "PUT", path("/api/orders/{id}/settlement", order.ID), settlement, http.StatusBadRequest, nil)
	e.expect("admin", "PUT", path("/api/orders/{id}/settlement", order.ID), settlement, http.StatusOK, &res)

	e.expect("ana", "GET", path("/api/items/{id}", dev), nil, http.StatusOK, &item)
	if item.Status != model.StatusAssigned || item.AssignedToID == nil || *item.AssignedToID != e.ids["ana"] {
		t.Errorf("expected device back with technician, got %s", item.Status)
	}

	var history orderHistoryResponse
	e.expect("ana", "GET", path("/api/orders/{id}/history", order.ID), nil, http.StatusOK, &history)
	if n := len(history.Status); n != 3 {
		t.Errorf("expected created, completed and amended entries, got %d", n)
	}
	if last := history.Status[len(history.Status)-1]; last.Notes != "amended" {
		t.Errorf("expected last entry to be the amendment, got %q", last.Notes)
	}
}

func TestTransferFlow(t *testing.T) {
	e := setupTestServer(t)
	dev := e.issuedDevice("SN-200", "ana")

	var transfer model.PendingTransfer
	e.expect("ana", "POST", "/api/transfers",
		map[string]any{"item_id": dev, "to_user_id": e.ids["bor"]}, http.StatusCreated, &transfer)

	var pending []model.PendingTransfer
	e.expect("bor", "GET", "/api/transfers?status=requested", nil, http.StatusOK, &pending)
	if len(pending) != 1 || pending[0].ID != transfer.ID {
		t.Fatalf("expected the pending transfer, got %+v", pending)
	}

	e.expect("ana", "POST", path("/api/transfers/{id}/confirm", transfer.ID), nil, http.StatusForbidden, nil)

	var confirmed confirmTransferResponse
	e.expect("bor", "POST", path("/api/transfers/{id}/confirm", transfer.ID), nil, http.StatusOK, &confirmed)
	if confirmed.Item.AssignedToID == nil || *confirmed.Item.AssignedToID != e.ids["bor"] {
		t.Errorf("expected device with bor, got %+v", confirmed.Item.AssignedToID)
	}
	if confirmed.History == nil || confirmed.History.Action != model.ActionTransfer {
		t.Errorf("expected a transfer history entry, got %+v", confirmed.History)
	}

	e.expect("bor", "POST", path("/api/transfers/{id}/reject", transfer.ID), nil, http.StatusConflict, nil)
}

func TestDevicePhoto(t *testing.T) {
	e := setupTestServer(t)
	dev := e.issuedDevice("SN-300", "ana")

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatalf("encoding PNG: %v", err)
	}

	upload := func(as string, data []byte) int {
		req, _ := http.NewRequest("PUT", e.server.URL+path("/api/items/{id}/photo", dev), bytes.NewReader(data))
		req.Header.Set("Authorization", "Bearer "+e.token[as])
		req.Header.Set("Content-Type", "image/png")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("uploading photo: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := upload("bor", buf.Bytes()); got != http.StatusForbidden {
		t.Errorf("expected 403 for non-holder, got %d", got)
	}
	if got := upload("ana", []byte("not an image")); got != http.StatusBadRequest {
		t.Errorf("expected 400 for garbage, got %d", got)
	}
	if got := upload("ana", buf.Bytes()); got != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", got)
	}

	resp := e.do("ana", "GET", path("/api/items/{id}/photo", dev), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", ct)
	}
}

func TestRequestID(t *testing.T) {
	e := setupTestServer(t)

	resp := e.do("admin", "GET", "/api/locations", nil)
	if _, err := uuid.Parse(resp.Header.Get("X-Request-ID")); err != nil {
		t.Errorf("expected generated request id, got %q", resp.Header.Get("X-Request-ID"))
	}

	id := uuid.NewString()
	req, _ := http.NewRequest("GET", e.server.URL+"/api/locations", nil)
	req.Header.Set("Authorization", "Bearer "+e.token["admin"])
	req.Header.Set("X-Request-ID", id)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != id {
		t.Errorf("expected request id %s to be kept, got %s", id, got)
	}
}
