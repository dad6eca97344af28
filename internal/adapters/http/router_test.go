package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceClient/internal/app/layout"
	"github.com/dkeye/VoiceClient/internal/app/orch"
	"github.com/dkeye/VoiceClient/internal/app/session"
	"github.com/dkeye/VoiceClient/internal/domain"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeController struct {
	mu       sync.Mutex
	muted    bool
	prefs    domain.LayoutPreferences
	names    map[domain.UserID]string
	shareErr error
	current  layout.ResolvedLayout
	subs     []func(layout.ResolvedLayout)
}

func newFake() *fakeController {
	return &fakeController{prefs: domain.DefaultPreferences(), names: map[domain.UserID]string{}}
}

func (f *fakeController) Layout() layout.ResolvedLayout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeController) OnLayout(fn func(layout.ResolvedLayout)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeController) publish(l layout.ResolvedLayout) {
	f.mu.Lock()
	f.current = l
	subs := append([]func(layout.ResolvedLayout){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(l)
	}
}

func (f *fakeController) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeController) Snapshot() orch.Snapshot {
	return orch.Snapshot{State: session.StateActive, ConferenceID: "room-1", Preferences: f.Preferences()}
}

func (f *fakeController) Preferences() domain.LayoutPreferences {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs.Clone()
}

func (f *fakeController) ToggleMute() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = !f.muted
	return f.muted
}

func (f *fakeController) ToggleVideo() bool                      { return true }
func (f *fakeController) StartScreenShare(context.Context) error { return f.shareErr }
func (f *fakeController) StopScreenShare(context.Context) error  { return nil }

func (f *fakeController) TogglePin(key domain.StreamKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs.TogglePin(key)
}

func (f *fakeController) ReplacePreferences(next domain.LayoutPreferences) error {
	if err := next.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.prefs = next
	f.mu.Unlock()
	return nil
}

func (f *fakeController) SetName(id domain.UserID, name string) error {
	u := domain.User{ID: id}
	if err := u.SetDisplayName(name); err != nil {
		return err
	}
	f.mu.Lock()
	f.names[id] = u.DisplayName
	f.mu.Unlock()
	return nil
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{"state", http.MethodGet, "/api/state", "", http.StatusOK, `"conference_id":"room-1"`},
		{"layout", http.MethodGet, "/api/layout", "", http.StatusOK, `"effective_mode"`},
		{"mute", http.MethodPost, "/api/mute", "", http.StatusOK, `{"muted":true}`},
		{"video", http.MethodPost, "/api/video", "", http.StatusOK, `{"video_off":true}`},
		{"screen stop", http.MethodPost, "/api/screen/stop", "", http.StatusNoContent, ""},
		{"pin", http.MethodPost, "/api/pins/u1:video", "", http.StatusOK, `"pinned":true`},
		{"prefs get", http.MethodGet, "/api/prefs", "", http.StatusOK, `"mode":"auto"`},
		{"prefs bad json", http.MethodPut, "/api/prefs", `{`, http.StatusBadRequest, "invalid preferences"},
		{"prefs bad mode", http.MethodPut, "/api/prefs", `{"mode":"cinema","tiled_max_tiles":9,"self_view_mode":"in-grid-cropped"}`,
			http.StatusBadRequest, "invalid layout mode"},
		{"prefs ok", http.MethodPut, "/api/prefs", `{"mode":"tiled","tiled_max_tiles":4,"self_view_mode":"floating-uncropped"}`,
			http.StatusOK, `"tiled_max_tiles":4`},
		{"name", http.MethodPut, "/api/names/u2", `{"name":"Bob"}`, http.StatusNoContent, ""},
		{"name empty", http.MethodPut, "/api/names/u2", `{"name":"  "}`, http.StatusBadRequest, "display name empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := SetupRouter(t.Context(), newFake(), "test")
			w := do(t, r, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.want != "" {
				assert.Contains(t, w.Body.String(), tc.want)
			}
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestPinLimitConflict(t *testing.T) {
	t.Parallel()
	r := SetupRouter(t.Context(), newFake(), "test")
	for i := range domain.MaxPins {
		w := do(t, r, http.MethodPost, fmt.Sprintf("/api/pins/u%d:video", i), "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, r, http.MethodPost, "/api/pins/extra:video", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "pin limit")
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrPinLimit, http.StatusConflict},
		{fmt.Errorf("wrap: %w", domain.ErrInvalidTiles), http.StatusBadRequest},
		{session.ErrNotJoined, http.StatusConflict},
		{fmt.Errorf("capture display: %w", session.ErrNoCapture), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}

	f := newFake()
	f.shareErr = session.ErrNotJoined
	w := do(t, SetupRouter(t.Context(), f, "test"), http.MethodPost, "/api/screen/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLayoutWebSocket(t *testing.T) {
	t.Parallel()
	f := newFake()
	f.current = layout.ResolvedLayout{EffectiveMode: domain.ModeTiled}
	srv := httptest.NewServer(SetupRouter(t.Context(), f, "test"))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/layout/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first layout.ResolvedLayout
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, domain.ModeTiled, first.EffectiveMode)

	require.Eventually(t, func() bool { return f.subscribers() == 1 }, time.Second, 5*time.Millisecond)
	f.publish(layout.ResolvedLayout{EffectiveMode: domain.ModeSidebar})

	var next layout.ResolvedLayout
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, domain.ModeSidebar, next.EffectiveMode)
}
