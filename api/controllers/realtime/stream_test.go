package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evrent-backend/api/middleware"
	internalrealtime "github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func streamServer(hub *internalrealtime.Hub, accountID uuid.UUID, role enums.Role) *httptest.Server {
	handler := Stream(hub, time.Hour, testLogger())
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r.WithContext(middleware.WithAccount(r.Context(), accountID, role)))
	}))
}

func waitForSubscribers(t *testing.T, hub *internalrealtime.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDeliversAccountMessages(t *testing.T) {
	hub := internalrealtime.NewHub(8)
	accountID := uuid.New()
	srv := streamServer(hub, accountID, enums.RoleCustomer)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	waitForSubscribers(t, hub, 1)

	payload, _ := json.Marshal(map[string]string{"balance": "50000"})
	_ = hub.Deliver(ctx, internalrealtime.Message{Event: internalrealtime.EventWalletUpdated, Group: internalrealtime.GroupStaff, Payload: payload})
	_ = hub.Deliver(ctx, internalrealtime.Message{Event: internalrealtime.EventWalletUpdated, Group: internalrealtime.AccountGroup(accountID), Payload: payload})

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != string(internalrealtime.EventWalletUpdated) {
		t.Fatalf("unexpected event %q", event)
	}
	var msg internalrealtime.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if msg.Group != internalrealtime.AccountGroup(accountID) {
		t.Fatalf("customer received message for group %s", msg.Group)
	}
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	hub := internalrealtime.NewHub(8)
	srv := streamServer(hub, uuid.New(), enums.RoleStaff)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForSubscribers(t, hub, 1)

	cancel()
	resp.Body.Close()
	waitForSubscribers(t, hub, 0)
}

func TestStreamRequiresAccount(t *testing.T) {
	hub := internalrealtime.NewHub(8)
	w := httptest.NewRecorder()
	Stream(hub, 0, testLogger())(w, httptest.NewRequest(http.MethodGet, "/realtime/stream", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", w.Code)
	}
	if hub.Count() != 0 {
		t.Fatalf("unauthenticated request must not subscribe")
	}
}
