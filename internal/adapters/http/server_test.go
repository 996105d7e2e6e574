package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/internal/endpoint"
	"github.com/anyportal/tproxyctl/pkg/log"
)

type fakeHandler struct {
	reply endpoint.Reply
	err   error
	calls []string
}

func (h *fakeHandler) Handle(ctx context.Context, name string) (endpoint.Reply, error) {
	h.calls = append(h.calls, name)
	return h.reply, h.err
}

type fixedState domain.TunnelState

func (s fixedState) Snapshot() domain.TunnelState {
	return domain.TunnelState(s)
}

func boolPtr(b bool) *bool { return &b }

func TestServer_Channel(t *testing.T) {
	tests := []struct {
		name       string
		reply      endpoint.Reply
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "ack",
			wantStatus: 200,
			wantBody:   `{"result":null}`,
		},
		{
			name:       "status",
			reply:      endpoint.Reply{Result: boolPtr(true)},
			wantStatus: 200,
			wantBody:   `{"result":true}`,
		},
		{
			name:       "unsupported",
			err:        fmt.Errorf("%w: %q", domain.ErrUnsupportedRequest, "reboot"),
			wantStatus: 501,
			wantBody:   `{"error":"not implemented"}`,
		},
		{
			name:       "reset required",
			err:        domain.ErrResetRequired,
			wantStatus: 409,
		},
		{
			name:       "driver failure",
			err:        &domain.DriverError{Op: "start", Err: errors.New("exit status 1")},
			wantStatus: 502,
		},
		{
			name:       "driver timeout",
			err:        &domain.DriverError{Op: "start", Err: domain.ErrDriverTimeout},
			wantStatus: 502,
		},
		{
			name:       "cancelled",
			err:        context.Canceled,
			wantStatus: 503,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{reply: tt.reply, err: tt.err}
			s := NewServer("127.0.0.1:0", h, fixedState{}, log.NewNoopLogger())

			req := httptest.NewRequest("POST", "/v1/channel/startAll", nil)
			resp, err := s.App().Test(req, -1)
			if err != nil {
				t.Fatalf("Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %s, want %s", body, tt.wantBody)
				}
			}
			if len(h.calls) != 1 || h.calls[0] != "startAll" {
				t.Errorf("handler calls = %v, want [startAll]", h.calls)
			}
		})
	}
}

func TestServer_State(t *testing.T) {
	st := fixedState{
		Phase:      domain.PhaseError,
		LastError:  errors.New("boom"),
		Generation: 4,
		UpdatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	s := NewServer("127.0.0.1:0", &fakeHandler{}, st, log.NewNoopLogger())

	resp, err := s.App().Test(httptest.NewRequest("GET", "/v1/state", nil), -1)
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	defer resp.Body.Close()

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["phase"] != "Error" || got["last_error"] != "boom" || got["generation"] != float64(4) {
		t.Errorf("state = %v", got)
	}
	if got["updated_at"] != "2026-03-01T10:00:00Z" {
		t.Errorf("updated_at = %v", got["updated_at"])
	}
}

func TestServer_RunShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeHandler{}, fixedState{}, log.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
