package event

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/internal/channel"
	"github.com/kazz187/taskwarden/internal/eventbus"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

func TestSubscribeEvents_FiltersByRecipient(t *testing.T) {
	bus := eventbus.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authz.ContextWithClaims(r.Context(), &authz.Claims{Subject: "U1"})
		NewServer(bus).SubscribeEvents(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	bus.PublishNew("task-assignment", "for someone else", "", map[string]string{channel.AttrRecipient: "U2"})
	bus.PublishNew("task-assignment", "for me", "", map[string]string{channel.AttrRecipient: "U1"})

	reader := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = line
		}
	}
	assert.Contains(t, data, "for me")
	assert.NotContains(t, data, "someone else")
}

func TestSubscribeEvents_Unauthenticated(t *testing.T) {
	rec := httptest.NewRecorder()
	h := cerr.NewJSONResponseChiMiddleware()(http.HandlerFunc(NewServer(eventbus.New()).SubscribeEvents))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
