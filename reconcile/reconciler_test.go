package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/samandartukhtayev/authentik-sync/models"
)

var aliceAndBob = []models.UserRecord{
	{ExternalID: "u1", Username: "alice"},
	{ExternalID: "u2", Username: "bob"},
}

var aliceAndBobRows = []models.UpdateRow{
	{AuthService: "gitlab", ExternalID: "u1", Username: "alice"},
	{AuthService: "gitlab", ExternalID: "u2", Username: "bob"},
}

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestReconciler_Run_AllMatched(t *testing.T) {
	store := new(MockIdentityStore)
	store.On("BindIdentities", mock.Anything, aliceAndBobRows).
		Return(models.BindResult{Submitted: 2, Matched: 2}, nil).Once()

	log, logs := testLogger()
	r := New(store, Options{AuthService: "gitlab", Logger: log})

	result, err := r.Run(context.Background(), aliceAndBob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Matched)

	assert.Contains(t, logs.String(), "submitted=2 matched=2")
	assert.NotContains(t, logs.String(), "level=WARN")
	store.AssertExpectations(t)
}

func TestReconciler_Run_UnmatchedIsWarning(t *testing.T) {
	store := new(MockIdentityStore)
	store.On("BindIdentities", mock.Anything, aliceAndBobRows).
		Return(models.BindResult{Submitted: 2, Matched: 1, Unmatched: []string{"bob"}}, nil).Once()

	log, logs := testLogger()
	r := New(store, Options{AuthService: "gitlab", Logger: log})

	result, err := r.Run(context.Background(), aliceAndBob)
	require.NoError(t, err, "a username without a local account is reported, not fatal")
	assert.Equal(t, []string{"bob"}, result.Unmatched)

	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "unmatched=1")
	assert.Contains(t, logs.String(), "bob")
}

func TestReconciler_Run_UnmatchedListIsBounded(t *testing.T) {
	var unmatched []string
	for i := 0; i < 50; i++ {
		unmatched = append(unmatched, "ghost")
	}
	unmatched[49] = "last-ghost"

	store := new(MockIdentityStore)
	store.On("BindIdentities", mock.Anything, mock.Anything).
		Return(models.BindResult{Submitted: 50, Unmatched: unmatched}, nil)

	log, logs := testLogger()
	_, err := New(store, Options{AuthService: "gitlab", Logger: log}).Run(context.Background(), aliceAndBob)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "unmatched=50")
	assert.NotContains(t, logs.String(), "last-ghost")
}

func TestReconciler_Run_UpdateFailed(t *testing.T) {
	store := new(MockIdentityStore)
	store.On("BindIdentities", mock.Anything, mock.Anything).
		Return(models.BindResult{}, models.ErrUpdateFailed)

	_, err := New(store, Options{AuthService: "gitlab"}).Run(context.Background(), aliceAndBob)
	assert.ErrorIs(t, err, models.ErrUpdateFailed)
}

func TestReconciler_Run_StepOrder(t *testing.T) {
	var steps []string

	gate := new(MockGate)
	gate.On("ConfirmIntent", 2).Return(true, nil).Run(func(mock.Arguments) { steps = append(steps, "intent") })
	gate.On("ConfirmBackup").Return(true, nil).Run(func(mock.Arguments) { steps = append(steps, "backup-ack") })

	dumper := new(MockDumper)
	dumper.On("Dump", mock.Anything).Return("/tmp/database_dump.sql", nil).Run(func(mock.Arguments) { steps = append(steps, "dump") })

	store := new(MockIdentityStore)
	store.On("BindIdentities", mock.Anything, aliceAndBobRows).
		Return(models.BindResult{Submitted: 2, Matched: 2}, nil).
		Run(func(mock.Arguments) { steps = append(steps, "bind") })

	r := New(store, Options{AuthService: "gitlab", Gate: gate, Dumper: dumper})

	_, err := r.Run(context.Background(), aliceAndBob)
	require.NoError(t, err)
	assert.Equal(t, []string{"intent", "backup-ack", "dump", "bind"}, steps)
}

func TestReconciler_Run_GateDeclined(t *testing.T) {
	tests := []struct {
		name   string
		intent bool
		backup bool
	}{
		{"intent declined", false, true},
		{"backup declined", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := new(MockGate)
			gate.On("ConfirmIntent", 2).Return(tt.intent, nil)
			gate.On("ConfirmBackup").Return(tt.backup, nil).Maybe()

			dumper := new(MockDumper)
			store := new(MockIdentityStore)

			r := New(store, Options{AuthService: "gitlab", Gate: gate, Dumper: dumper})

			_, err := r.Run(context.Background(), aliceAndBob)
			assert.ErrorIs(t, err, models.ErrCancelled)

			dumper.AssertNotCalled(t, "Dump", mock.Anything)
			store.AssertNotCalled(t, "BindIdentities", mock.Anything, mock.Anything)
			if !tt.intent {
				gate.AssertNotCalled(t, "ConfirmBackup")
			}
		})
	}
}

func TestReconciler_Run_GateError(t *testing.T) {
	gate := new(MockGate)
	gate.On("ConfirmIntent", 2).Return(false, errors.New("stdin closed"))

	store := new(MockIdentityStore)
	_, err := New(store, Options{AuthService: "gitlab", Gate: gate}).Run(context.Background(), aliceAndBob)

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrCancelled)
	assert.Contains(t, err.Error(), "stdin closed")
	store.AssertNotCalled(t, "BindIdentities", mock.Anything, mock.Anything)
}

func TestReconciler_Run_DumpFailureIsFatalByDefault(t *testing.T) {
	dumper := new(MockDumper)
	dumper.On("Dump", mock.Anything).Return("", models.ErrBackupFailed)

	store := new(MockIdentityStore)
	_, err := New(store, Options{AuthService: "gitlab", Dumper: dumper}).Run(context.Background(), aliceAndBob)

	assert.ErrorIs(t, err, models.ErrBackupFailed)
	store.AssertNotCalled(t, "BindIdentities", mock.Anything, mock.Anything)
}

func TestReconciler_Run_DumpFailureAllowed(t *testing.T) {
	dumper := new(MockDumper)
	dumper.On("Dump", mock.Anything).Return("", models.ErrBackupFailed)

	store := new(MockIdentityStore)
	store.On("BindIdentities", mock.Anything, aliceAndBobRows).
		Return(models.BindResult{Submitted: 2, Matched: 2}, nil).Once()

	log, logs := testLogger()
	r := New(store, Options{AuthService: "gitlab", Dumper: dumper, AllowDumpFailure: true, Logger: log})

	_, err := r.Run(context.Background(), aliceAndBob)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Database dump failed, continuing without a backup")
	store.AssertExpectations(t)
}

func TestReconciler_Run_DryRun(t *testing.T) {
	gate := new(MockGate)
	dumper := new(MockDumper)
	store := new(MockIdentityStore)
	store.On("CountExisting", mock.Anything, []string{"alice", "bob"}).Return(int64(1), nil).Once()

	r := New(store, Options{AuthService: "gitlab", Gate: gate, Dumper: dumper, DryRun: true})

	result, err := r.Run(context.Background(), aliceAndBob)
	require.NoError(t, err)
	assert.Equal(t, models.BindResult{Submitted: 2, Matched: 1}, result)

	store.AssertNotCalled(t, "BindIdentities", mock.Anything, mock.Anything)
	gate.AssertNotCalled(t, "ConfirmIntent", mock.Anything)
	dumper.AssertNotCalled(t, "Dump", mock.Anything)
}

func TestReconciler_Run_EmptyLabel(t *testing.T) {
	store := new(MockIdentityStore)
	_, err := New(store, Options{}).Run(context.Background(), aliceAndBob)
	assert.ErrorIs(t, err, models.ErrConfigMissing)
}
