package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookworks/deploygate/internal/runner/mocks"
)

func TestRunAll_CategoriesInConfiguredOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hook := testHook()
	hook.Vars = map[string]string{"remote": "origin", "branch": "main", "appName": "api"}
	hook.CommandOrder = []string{"git", "install", "post"}
	hook.Commands = map[string][]string{
		"git":     {"git fetch $remote$ $branch$", "git pull $remote$ $branch$"},
		"install": {"npm install"},
		"post":    {"pm2 restart $appName$"},
	}

	spawner := mocks.NewMockSpawner(ctrl)
	gomock.InOrder(
		spawner.EXPECT().Spawn(gomock.Any(), "git fetch origin main").Return("", "", nil),
		spawner.EXPECT().Spawn(gomock.Any(), "git pull origin main").Return("", "", nil),
		spawner.EXPECT().Spawn(gomock.Any(), "npm install").Return("", "", nil),
		spawner.EXPECT().Spawn(gomock.Any(), "pm2 restart api").Return("", "", nil),
	)

	slogger, _ := NewTestSlogger()
	o := NewOrchestrator(hook, spawner, slogger)

	assert.NoError(t, o.RunAll(context.Background()))
}

func TestRunAll_UnknownCategoryIsLoggedNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hook := testHook()
	hook.CommandOrder = []string{"missing", "post"}
	hook.Commands = map[string][]string{"post": {"true"}}

	spawner := mocks.NewMockSpawner(ctrl)
	spawner.EXPECT().Spawn(gomock.Any(), "true").Return("", "", nil)

	slogger, logBuf := NewTestSlogger()
	o := NewOrchestrator(hook, spawner, slogger)

	require.NoError(t, o.RunAll(context.Background()))
	assert.Contains(t, logBuf.String(), "no commands configured for category")
	assert.Contains(t, logBuf.String(), "missing")
}

func TestRunAll_FirstFailureAbortsRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hook := testHook()
	hook.CommandOrder = []string{"git", "post"}
	hook.Commands = map[string][]string{
		"git":  {"git fetch", "git pull"},
		"post": {"pm2 restart app"},
	}

	spawnErr := errors.New("exit status 128")
	spawner := mocks.NewMockSpawner(ctrl)
	gomock.InOrder(
		spawner.EXPECT().Spawn(gomock.Any(), "git fetch").Return("", "", nil),
		spawner.EXPECT().Spawn(gomock.Any(), "git pull").Return("", "", spawnErr),
		// Nothing after the failure: "pm2 restart app" must never spawn.
	)

	slogger, _ := NewTestSlogger()
	o := NewOrchestrator(hook, spawner, slogger)

	err := o.RunAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, spawnErr)
	assert.Contains(t, err.Error(), `category "git"`)
	assert.Contains(t, err.Error(), "git pull")
}

func TestRunAll_DelayAppliedBeforeCategory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hook := testHook()
	hook.CommandOrder = []string{"git"}
	hook.Commands = map[string][]string{"git": {"true"}}
	hook.Delays = map[string]time.Duration{"git": 30 * time.Millisecond}

	spawner := mocks.NewMockSpawner(ctrl)
	spawner.EXPECT().Spawn(gomock.Any(), "true").Return("", "", nil)

	slogger, _ := NewTestSlogger()
	o := NewOrchestrator(hook, spawner, slogger)

	start := time.Now()
	require.NoError(t, o.RunAll(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunAll_DelayAbortsOnCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hook := testHook()
	hook.CommandOrder = []string{"git"}
	hook.Commands = map[string][]string{"git": {"true"}}
	hook.Delays = map[string]time.Duration{"git": time.Minute}

	spawner := mocks.NewMockSpawner(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slogger, _ := NewTestSlogger()
	o := NewOrchestrator(hook, spawner, slogger)

	err := o.RunAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
