package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcpanel/internal/db"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"* * * * *", false},
		{"*/15 * * * *", false},
		{"0 4 * * 1-5", false},
		{"0,30 8-18/2 1 1,6,12 0", false},
		{"0 0 * * 7", false},
		{"5/10 * * * *", false},
		{"* * * *", true},
		{"* * * * * *", true},
		{"60 * * * *", true},
		{"* 24 * * *", true},
		{"* * 0 * *", true},
		{"* * * 13 *", true},
		{"* * * * 8", true},
		{"10-5 * * * *", true},
		{"0-70 * * * *", true},
		{"*/0 * * * *", true},
		{"a * * * *", true},
		{"1-b * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCronMatches(t *testing.T) {
	// 2024-01-01 is a Monday.
	at := func(day, hour, minute int) time.Time {
		return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
	}
	tests := []struct {
		expr string
		t    time.Time
		want bool
	}{
		{"* * * * *", at(1, 0, 0), true},
		{"*/15 * * * *", at(1, 3, 45), true},
		{"*/15 * * * *", at(1, 3, 44), false},
		{"0 4 * * 1-5", at(1, 4, 0), true},
		{"0 4 * * 1-5", at(6, 4, 0), false},
		{"0 0 * * 7", at(7, 0, 0), true},
		{"0 0 * * 0", at(7, 0, 0), true},
		{"5/20 * * * *", at(1, 0, 45), true},
		{"5/20 * * * *", at(1, 0, 40), false},
		// Both day fields restricted: either may match.
		{"0 0 15 * 1", at(1, 0, 0), true},
		{"0 0 15 * 1", at(15, 0, 0), true},
		{"0 0 15 * 1", at(16, 0, 0), false},
		{"0 0 15 * *", at(1, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.expr+" "+tt.t.Format(time.RFC3339), func(t *testing.T) {
			expr, err := ParseCron(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Matches(tt.t))
		})
	}
}

func TestCronNext(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 30, 15, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2024, 1, 1, 10, 31, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"0 4 * * *", time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC)},
		{"0 0 1 3 *", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, err := ParseCron(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Next(from))
		})
	}

	never, err := ParseCron("0 0 31 2 *")
	require.NoError(t, err)
	assert.True(t, never.Next(from).IsZero())
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	reply map[string]string
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, serverID, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serverID+":"+command)
	if f.err != nil {
		return "", f.err
	}
	return f.reply[command], nil
}

func newTestStore(t *testing.T, serverIDs ...string) (*Store, *sql.DB) {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(conn))
	for _, id := range serverIDs {
		_, err := conn.Exec(`INSERT INTO servers (id, name, host, rcon_port, rcon_password) VALUES (?, ?, '127.0.0.1', 25575, 'pw')`, id, id)
		require.NoError(t, err)
	}
	return NewStore(conn), conn
}

func TestStoreCRUD(t *testing.T) {
	store, _ := newTestStore(t, "s1")
	store.now = func() time.Time { return time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	created, err := store.Create(ctx, Schedule{ServerID: "s1", Name: " Nightly save ", Cron: "0 4 * * *", Command: "save-all"})
	require.NoError(t, err)
	assert.Len(t, created.ID, 8)
	assert.Equal(t, "Nightly save", created.Name)
	assert.True(t, created.Enabled)
	assert.Equal(t, "2024-01-02T04:00:00Z", created.NextRun)
	assert.NotEmpty(t, created.CreatedAt)

	list, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	disabled := false
	cmd := "say restarting soon"
	updated, err := store.Update(ctx, "s1", created.ID, Patch{Enabled: &disabled, Command: &cmd})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "say restarting soon", updated.Command)
	assert.Empty(t, updated.NextRun)

	bad := "61 * * * *"
	_, err = store.Update(ctx, "s1", created.ID, Patch{Cron: &bad})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = store.Get(ctx, "other", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "s1", created.ID))
	assert.ErrorIs(t, store.Delete(ctx, "s1", created.ID), ErrNotFound)
}

func TestStoreCreateValidation(t *testing.T) {
	store, _ := newTestStore(t, "s1")
	ctx := context.Background()

	for _, sc := range []Schedule{
		{ServerID: "s1", Name: "", Cron: "* * * * *", Command: "list"},
		{ServerID: "s1", Name: "x", Cron: "", Command: "list"},
		{ServerID: "s1", Name: "x", Cron: "* * * * *", Command: "  "},
		{ServerID: "s1", Name: "x", Cron: "* * * * *", Command: "say a\nop Steve"},
		{ServerID: "s1", Name: "x", Cron: "every minute", Command: "list"},
	} {
		_, err := store.Create(ctx, sc)
		assert.ErrorIs(t, err, ErrInvalid, "%+v", sc)
	}

	// Unknown server violates the foreign key.
	_, err := store.Create(ctx, Schedule{ServerID: "missing", Name: "x", Cron: "* * * * *", Command: "list"})
	assert.Error(t, err)
}

func TestRunDue(t *testing.T) {
	store, _ := newTestStore(t, "s1", "s2")
	ctx := context.Background()

	hourly, err := store.Create(ctx, Schedule{ServerID: "s1", Name: "hourly", Cron: "0 * * * *", Command: "save-all"})
	require.NoError(t, err)
	_, err = store.Create(ctx, Schedule{ServerID: "s2", Name: "daily", Cron: "0 4 * * *", Command: "say hi"})
	require.NoError(t, err)
	off, err := store.Create(ctx, Schedule{ServerID: "s2", Name: "off", Cron: "* * * * *", Command: "stop"})
	require.NoError(t, err)
	disabled := false
	_, err = store.Update(ctx, "s2", off.ID, Patch{Enabled: &disabled})
	require.NoError(t, err)

	exec := &fakeExecutor{reply: map[string]string{"save-all": "Saved the game"}}
	s := New(store, exec)

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, s.RunDue(ctx, now))
	assert.Equal(t, []string{"s1:save-all"}, exec.calls)

	got, err := store.Get(ctx, "s1", hourly.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T10:00:00Z", got.LastRun)
	assert.Equal(t, "Saved the game", got.LastResult)

	assert.Equal(t, 0, s.RunDue(ctx, now.Add(time.Minute)))
}

func TestRunDueRecordsFailure(t *testing.T) {
	store, _ := newTestStore(t, "s1")
	ctx := context.Background()

	sc, err := store.Create(ctx, Schedule{ServerID: "s1", Name: "list", Cron: "* * * * *", Command: "list"})
	require.NoError(t, err)

	exec := &fakeExecutor{err: errors.New("server unreachable")}
	s := New(store, exec)
	assert.Equal(t, 1, s.RunDue(ctx, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	got, err := store.Get(ctx, "s1", sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "error: server unreachable", got.LastResult)
}

func TestRunDueTruncatesResult(t *testing.T) {
	store, _ := newTestStore(t, "s1")
	ctx := context.Background()

	sc, err := store.Create(ctx, Schedule{ServerID: "s1", Name: "list", Cron: "* * * * *", Command: "list"})
	require.NoError(t, err)

	exec := &fakeExecutor{reply: map[string]string{"list": strings.Repeat("x", 2000)}}
	New(store, exec).RunDue(ctx, time.Now())

	got, err := store.Get(ctx, "s1", sc.ID)
	require.NoError(t, err)
	assert.Len(t, got.LastResult, maxResultLen)
}

func TestStartStop(t *testing.T) {
	store, _ := newTestStore(t)
	s := New(store, &fakeExecutor{})
	s.Start()
	s.Stop()
	// Stop without Start is a no-op.
	New(store, &fakeExecutor{}).Stop()
}
