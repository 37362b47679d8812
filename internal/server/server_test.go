package server

import (
	"context"
	"encoding/json"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/boardwatch/boardwatch/internal/catalog"
	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
	"github.com/boardwatch/boardwatch/internal/orchestrator"
	"github.com/boardwatch/boardwatch/internal/orchestrator/events"
	"github.com/boardwatch/boardwatch/internal/resilience"
)

// mockBoard for testing.
type mockBoard struct {
	mu        sync.Mutex
	status    orchestrator.Status
	events    []events.Event
	snapshots []catalog.Entry
	snapErr   error
	ref       *frame.Frame
	quits     int
	log       *events.Log
}

func newMockBoard() *mockBoard {
	return &mockBoard{
		status: orchestrator.Status{RunID: "run-1", Camera: "STOP-Camera", Running: true, State: "await_window"},
		events: []events.Event{{Cycle: 1, Outcome: events.Reject, Reason: events.ReasonOccluded}},
		ref:    frame.NewGray(4, 3, 100),
		log:    events.NewLog(10),
	}
}

func (m *mockBoard) Status() orchestrator.Status { return m.status }
func (m *mockBoard) RecentEvents(n int) []events.Event {
	if n < len(m.events) {
		return m.events[len(m.events)-n:]
	}
	return m.events
}
func (m *mockBoard) Subscribe() (<-chan events.Event, func()) { return m.log.Subscribe(4) }
func (m *mockBoard) RecentSnapshots(context.Context, int) ([]catalog.Entry, error) {
	return m.snapshots, m.snapErr
}
func (m *mockBoard) Reference() *frame.Frame { return m.ref }
func (m *mockBoard) Quit() {
	m.mu.Lock()
	m.quits++
	m.mu.Unlock()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	rec := do(t, handler, "OPTIONS", "/test")
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}

	// Test regular request
	rec = do(t, handler, "GET", "/test")
	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleStatus(t *testing.T) {
	h := New(newMockBoard()).Handler()
	rec := do(t, h, "GET", "/api/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("trace header should be set")
	}
	var st orchestrator.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.RunID != "run-1" || st.Camera != "STOP-Camera" || !st.Running {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleEvents(t *testing.T) {
	h := New(newMockBoard()).Handler()
	rec := do(t, h, "GET", "/api/events?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var evs []events.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Reason != events.ReasonOccluded {
		t.Errorf("events = %+v", evs)
	}

	for _, bad := range []string{"abc", "0", "-3"} {
		if rec := do(t, h, "GET", "/api/events?limit="+bad); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", bad, rec.Code)
		}
	}
}

func TestHandleSnapshots(t *testing.T) {
	b := newMockBoard()
	b.snapshots = []catalog.Entry{{RunID: "run-1", SnapshotID: 2, Path: "output/STOP-Camera_2.png"}}
	h := New(b).Handler()

	rec := do(t, h, "GET", "/api/snapshots")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []catalog.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].SnapshotID != 2 {
		t.Errorf("entries = %+v", entries)
	}

	b.snapErr = apperrors.New(apperrors.CodeUnavailable, "catalog disabled")
	rec = do(t, h, "GET", "/api/snapshots")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatal(err)
	}
	if er.Code != "UNAVAILABLE" {
		t.Errorf("code = %q", er.Code)
	}
}

func TestHandleReference(t *testing.T) {
	b := newMockBoard()
	h := New(b).Handler()

	rec := do(t, h, "GET", "/api/reference.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Errorf("bounds = %v", img.Bounds())
	}

	b.ref = nil
	if rec := do(t, h, "GET", "/api/reference.png"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without reference = %d, want 503", rec.Code)
	}
}

func TestHandleQuit(t *testing.T) {
	b := newMockBoard()
	h := New(b).Handler()

	if rec := do(t, h, "GET", "/api/quit"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/quit = %d, want 405", rec.Code)
	}
	rec := do(t, h, "POST", "/api/quit")
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if b.quits != 1 {
		t.Errorf("quits = %d, want 1", b.quits)
	}
}

func TestWebSocketStream(t *testing.T) {
	b := newMockBoard()
	srv := New(b)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var st StatusMessage
	if err := wsjson.Read(ctx, conn, &st); err != nil {
		t.Fatal(err)
	}
	if st.Type != "status" || st.Status.RunID != "run-1" {
		t.Errorf("first message = %+v", st)
	}

	// subscription is registered before the status message is written
	id := uint64(5)
	b.log.Add(events.Event{Cycle: 9, Outcome: events.Commit, SnapshotID: &id})

	var cm CycleMessage
	if err := wsjson.Read(ctx, conn, &cm); err != nil {
		t.Fatal(err)
	}
	if cm.Type != "cycle" || cm.Event.Cycle != 9 || cm.Event.SnapshotID == nil || *cm.Event.SnapshotID != 5 {
		t.Errorf("cycle message = %+v", cm)
	}
	if srv.Connections() != 1 {
		t.Errorf("connections = %d, want 1", srv.Connections())
	}
}

func TestMessageTypes(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{}
		typeVal string
	}{
		{"status", StatusMessage{Type: "status"}, "status"},
		{"cycle", CycleMessage{Type: "cycle", Event: events.Event{Cycle: 1}}, "cycle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("json.Marshal error: %v", err)
			}
			var base Message
			if err := json.Unmarshal(data, &base); err != nil {
				t.Fatalf("json.Unmarshal error: %v", err)
			}
			if base.Type != tt.typeVal {
				t.Errorf("type = %q, want %q", base.Type, tt.typeVal)
			}
		})
	}
}

func dialGRPC(t *testing.T, g *GRPCServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.GracefulStop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func checkHealth(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatal(err)
	}
	return resp.GetStatus()
}

func TestHealthFollowsBreaker(t *testing.T) {
	g := NewGRPCServer()
	b := resilience.New(resilience.Config{Name: "camera", Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	g.WatchBreaker(b)
	client := healthpb.NewHealthClient(dialGRPC(t, g))

	if got := checkHealth(t, client, CameraService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("initial = %v, want SERVING", got)
	}

	b.Failure()
	if got := checkHealth(t, client, CameraService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after open = %v, want NOT_SERVING", got)
	}
	if got := checkHealth(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall after open = %v, want NOT_SERVING", got)
	}

	b.Reset()
	if got := checkHealth(t, client, CameraService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after reset = %v, want SERVING", got)
	}
}

func dialBoard(t *testing.T, b Board) *grpc.ClientConn {
	t.Helper()
	g := NewGRPCServer()
	g.RegisterBoard(b)
	return dialGRPC(t, g)
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req, resp proto.Message) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Invoke(ctx, "/"+BoardService+"/"+method, req, resp)
}

func TestBoardServiceStatus(t *testing.T) {
	conn := dialBoard(t, newMockBoard())

	var resp structpb.Struct
	if err := invoke(t, conn, "Status", &emptypb.Empty{}, &resp); err != nil {
		t.Fatal(err)
	}
	fields := resp.GetFields()
	if fields["run_id"].GetStringValue() != "run-1" || !fields["running"].GetBoolValue() {
		t.Errorf("status = %v", resp.AsMap())
	}
}

func TestBoardServiceEvents(t *testing.T) {
	conn := dialBoard(t, newMockBoard())

	var resp structpb.Struct
	if err := invoke(t, conn, "Events", &structpb.Struct{}, &resp); err != nil {
		t.Fatal(err)
	}
	evs := resp.GetFields()["events"].GetListValue().GetValues()
	if len(evs) != 1 || evs[0].GetStructValue().GetFields()["reason"].GetStringValue() != events.ReasonOccluded {
		t.Errorf("events = %v", resp.AsMap())
	}
}

func TestBoardServiceSnapshotsErrors(t *testing.T) {
	b := newMockBoard()
	b.snapErr = apperrors.New(apperrors.CodeUnavailable, "catalog disabled")
	conn := dialBoard(t, b)

	var resp structpb.Struct
	err := invoke(t, conn, "Snapshots", &structpb.Struct{}, &resp)
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unavailable {
		t.Fatalf("err = %v, want Unavailable", err)
	}
	details := st.Details()
	if len(details) != 1 {
		t.Fatalf("details = %v", details)
	}
	if d, ok := details[0].(*structpb.Struct); !ok || d.GetFields()["code"].GetStringValue() != "UNAVAILABLE" {
		t.Errorf("detail = %v", details[0])
	}

	bad, _ := structpb.NewStruct(map[string]any{"limit": -2})
	err = invoke(t, conn, "Snapshots", bad, &resp)
	if st, _ := status.FromError(err); st.Code() != codes.InvalidArgument {
		t.Errorf("negative limit err = %v, want InvalidArgument", err)
	}
}

func TestBoardServiceSnapshots(t *testing.T) {
	b := newMockBoard()
	b.snapshots = []catalog.Entry{{RunID: "run-1", SnapshotID: 3, Path: "output/STOP-Camera_3.png"}}
	conn := dialBoard(t, b)

	req, _ := structpb.NewStruct(map[string]any{"limit": 5})
	var resp structpb.Struct
	if err := invoke(t, conn, "Snapshots", req, &resp); err != nil {
		t.Fatal(err)
	}
	list := resp.GetFields()["snapshots"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStructValue().GetFields()["snapshot_id"].GetNumberValue() != 3 {
		t.Errorf("snapshots = %v", resp.AsMap())
	}
}

func TestBoardServiceQuit(t *testing.T) {
	b := newMockBoard()
	conn := dialBoard(t, b)

	if err := invoke(t, conn, "Quit", &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		t.Fatal(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quits != 1 {
		t.Errorf("quits = %d, want 1", b.quits)
	}
}
