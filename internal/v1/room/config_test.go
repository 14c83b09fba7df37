package room

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialoguehq/dialogue/internal/v1/event"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

func TestSyncHistory_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		raw     string
		want    SyncHistory
		wantErr bool
	}{
		{`"none"`, SyncNone, false},
		{`"all"`, SyncAll, false},
		{`25`, SyncHistory(25), false},
		{`"bogus"`, 0, true},
		{`0`, 0, true},
		{`-3`, 0, true},
		{`2.5`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		var s SyncHistory
		err := json.Unmarshal([]byte(tt.raw), &s)
		if tt.wantErr {
			assert.Error(t, err, "input %s", tt.raw)
			continue
		}
		require.NoError(t, err, "input %s", tt.raw)
		assert.Equal(t, tt.want, s, "input %s", tt.raw)
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Name: "r", MaxSize: -1}.Validate())
	assert.NoError(t, Config{Name: "r"}.Validate())

	dup := Config{Name: "r", Events: []event.Definition{
		event.Define("chat:message"),
		event.Define("chat:message"),
	}}
	assert.Error(t, dup.Validate())

	bad := Config{Name: "r", Events: []event.Definition{
		event.Define("chat:message", event.WithHistory(0)),
	}}
	assert.Error(t, bad.Validate())
}

func writeRoomsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeRoomsFile(t, `[
		{
			"id": "lobby",
			"name": "Lobby",
			"maxSize": 100,
			"events": [
				{"name": "chat:message", "history": {"enabled": true, "limit": 50}},
				{"name": "cursor:move"}
			],
			"defaultSubscriptions": ["chat:message"],
			"syncHistoryOnJoin": "all"
		},
		{"id": "scratch"}
	]`)

	rooms, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	lobby := rooms[0]
	assert.Equal(t, protocol.RoomID("lobby"), lobby.ID)
	assert.Equal(t, "Lobby", lobby.Config.Name)
	assert.Equal(t, 100, lobby.Config.MaxSize)
	assert.Equal(t, SyncAll, lobby.Config.SyncHistoryOnJoin)
	assert.Equal(t, []string{"chat:message"}, lobby.Config.DefaultSubscriptions)

	require.Len(t, lobby.Config.Events, 2)
	policy, ok := lobby.Config.Events[0].History()
	require.True(t, ok)
	assert.Equal(t, 50, policy.Limit)
	_, ok = lobby.Config.Events[1].History()
	assert.False(t, ok)

	// Name falls back to the ID.
	assert.Equal(t, "scratch", rooms[1].Config.Name)
	assert.Equal(t, SyncNone, rooms[1].Config.SyncHistoryOnJoin)
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadConfigFile(writeRoomsFile(t, `{not json`))
	assert.Error(t, err)

	_, err = LoadConfigFile(writeRoomsFile(t, `[{"name": "no-id"}]`))
	assert.Error(t, err)

	_, err = LoadConfigFile(writeRoomsFile(t, `[{"id": "r", "maxSize": -2}]`))
	assert.Error(t, err)
}
