package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookworks/deploygate/internal/config"
	"github.com/hookworks/deploygate/internal/githook"
	"github.com/hookworks/deploygate/internal/history"
	"github.com/hookworks/deploygate/internal/hooks"
	"github.com/hookworks/deploygate/internal/runner"
	"github.com/hookworks/deploygate/internal/runner/mocks"
	"github.com/hookworks/deploygate/internal/signature"
)

const testSecret = "s3cret"

func testSlogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testHook() *config.HookConfig {
	hook := config.Defaults().Hook
	hook.Secret = testSecret
	hook.CommandOrder = []string{"git", "post"}
	hook.Commands = map[string][]string{
		"git":  {"git pull $remote$ $branch$"},
		"post": {"pm2 restart $appName$"},
	}
	return &hook
}

func pushBody() []byte {
	return []byte(`{
		"ref": "refs/heads/main",
		"pusher": {"name": "me!"},
		"head_commit": {"id": "abc123", "message": "fix login flow"}
	}`)
}

func signedRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/hooks/deploy", bytes.NewReader(body))
	req.Header.Set("User-Agent", "GitHub-Hookshot/f05835d")
	req.Header.Set(githook.EventHeader, "push")
	req.Header.Set(githook.SignatureHeader, signature.Compute(body, testSecret))
	req.Header.Set(githook.DeliveryHeader, "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	return req
}

// recorder captures lifecycle notifications for assertions.
type recorder struct {
	mu     sync.Mutex
	before int
	after  int
	errs   []error
}

func (rec *recorder) register(reg *hooks.Registry) {
	reg.OnBefore(func(p *githook.PushPayload) {
		rec.mu.Lock()
		rec.before++
		rec.mu.Unlock()
	})
	reg.OnAfter(func(p *githook.PushPayload, err error) {
		rec.mu.Lock()
		rec.after++
		if err != nil {
			rec.errs = append(rec.errs, err)
		}
		rec.mu.Unlock()
	})
}

func TestEngine_AcceptedPushRunsCommandsInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	spawner := mocks.NewMockSpawner(ctrl)
	gomock.InOrder(
		spawner.EXPECT().Spawn(gomock.Any(), "git pull origin main").Return("", "", nil),
		spawner.EXPECT().Spawn(gomock.Any(), "pm2 restart app").Return("", "", nil),
	)

	reg := hooks.NewRegistry()
	rec := &recorder{}
	rec.register(reg)

	e, err := New(testHook(), spawner, reg, nil, testSlogger())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest(pushBody()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", w.Body.String())

	e.Wait()
	assert.Equal(t, 1, rec.before)
	assert.Equal(t, 1, rec.after)
	assert.Empty(t, rec.errs)
}

func TestEngine_IrrelevantBranchIsIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No EXPECT: nothing may spawn.
	spawner := mocks.NewMockSpawner(ctrl)

	reg := hooks.NewRegistry()
	rec := &recorder{}
	rec.register(reg)

	e, err := New(testHook(), spawner, reg, nil, testSlogger())
	require.NoError(t, err)

	body := []byte(`{"ref": "refs/heads/feature/x", "pusher": {"name": "me!"}}`)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest(body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	e.Wait()
	assert.Zero(t, rec.before)
	assert.Zero(t, rec.after)
}

func TestEngine_BadSignatureIsUnauthorized(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	spawner := mocks.NewMockSpawner(ctrl)

	e, err := New(testHook(), spawner, hooks.NewRegistry(), nil, testSlogger())
	require.NoError(t, err)

	req := signedRequest(pushBody())
	req.Header.Set(githook.SignatureHeader, "sha1=deadbeef")

	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid signature", w.Body.String())
	e.Wait()
}

func TestEngine_FailedRunEmitsErrorAndAfter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	spawnErr := errors.New("exit status 1")
	spawner := mocks.NewMockSpawner(ctrl)
	spawner.EXPECT().Spawn(gomock.Any(), "git pull origin main").Return("", "", spawnErr)

	reg := hooks.NewRegistry()
	rec := &recorder{}
	rec.register(reg)
	var emitted error
	reg.OnError(func(err error) {
		rec.mu.Lock()
		emitted = err
		rec.mu.Unlock()
	})

	e, err := New(testHook(), spawner, reg, nil, testSlogger())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest(pushBody()))

	// The acknowledgment never reflects execution failures.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", w.Body.String())

	e.Wait()
	assert.Equal(t, 1, rec.before)
	assert.Equal(t, 1, rec.after)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], spawnErr)
	assert.ErrorIs(t, emitted, spawnErr)
}

func TestEngine_DryRunCompletesWithoutSpawning(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	spawner := mocks.NewMockSpawner(ctrl)

	hook := testHook()
	hook.DryCommands = true

	reg := hooks.NewRegistry()
	rec := &recorder{}
	rec.register(reg)

	e, err := New(hook, spawner, reg, nil, testSlogger())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest(pushBody()))
	assert.Equal(t, "running", w.Body.String())

	e.Wait()
	assert.Equal(t, 1, rec.after)
	assert.Empty(t, rec.errs)
}

func TestEngine_PreconditionSkipsRunSilently(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	spawner := mocks.NewMockSpawner(ctrl)

	reg := hooks.NewRegistry()
	rec := &recorder{}
	rec.register(reg)

	e, err := New(testHook(), spawner, reg, nil, testSlogger())
	require.NoError(t, err)
	e.Precondition = func(p *githook.PushPayload) bool { return false }

	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest(pushBody()))

	// Acknowledged before the gate runs.
	assert.Equal(t, "running", w.Body.String())

	e.Wait()
	assert.Zero(t, rec.before)
	assert.Zero(t, rec.after)
}

func TestEngine_SerializedRunsDoNotOverlap(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hook := testHook()
	hook.SerializeRuns = true
	hook.CommandOrder = []string{"git"}
	hook.Commands = map[string][]string{"git": {"git pull"}}

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	spawner := mocks.NewMockSpawner(ctrl)
	spawner.EXPECT().Spawn(gomock.Any(), "git pull").Times(2).DoAndReturn(
		func(ctx context.Context, command string) (string, string, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return "", "", nil
		})

	e, err := New(hook, spawner, hooks.NewRegistry(), nil, testSlogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, signedRequest(pushBody()))
		require.Equal(t, "running", w.Body.String())
	}

	e.Wait()
	assert.Equal(t, 1, maxInFlight)
}

func TestEngine_RecordsRunHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	spawner := mocks.NewMockSpawner(ctrl)
	spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Times(2).Return("", "", nil)

	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	e, err := New(testHook(), spawner, hooks.NewRegistry(), store, testSlogger())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest(pushBody()))
	e.Wait()

	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusCompleted, runs[0].Status)
	assert.Equal(t, "main", runs[0].Branch)
	assert.Equal(t, "me!", runs[0].Pusher)
}

func TestEngine_UsesRealShellByDefault(t *testing.T) {
	hook := testHook()
	hook.CommandOrder = []string{"git"}
	hook.Commands = map[string][]string{"git": {"true"}}

	var spawner runner.Spawner // nil falls back to the shell
	e, err := New(hook, spawner, hooks.NewRegistry(), nil, testSlogger())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest(pushBody()))
	assert.Equal(t, "running", w.Body.String())
	e.Wait()
}
