package room

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dialoguehq/dialogue/internal/v1/event"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// SyncHistory controls the history snapshot sent on join: none, everything,
// or the newest N entries.
type SyncHistory int

const (
	// SyncNone sends no history on join.
	SyncNone SyncHistory = 0
	// SyncAll sends the full in-memory history on join.
	SyncAll SyncHistory = -1
)

// UnmarshalJSON accepts "none", "all", or a positive limit.
func (s *SyncHistory) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		switch v {
		case "none", "":
			*s = SyncNone
		case "all":
			*s = SyncAll
		default:
			return fmt.Errorf("syncHistoryOnJoin must be 'none', 'all', or a positive number (got %q)", v)
		}
	case float64:
		if v < 1 || v != float64(int(v)) {
			return fmt.Errorf("syncHistoryOnJoin limit must be a positive integer (got %v)", v)
		}
		*s = SyncHistory(int(v))
	default:
		return fmt.Errorf("syncHistoryOnJoin must be 'none', 'all', or a positive number")
	}
	return nil
}

// Config describes one room. An empty Events list means every event is
// allowed (wildcard semantics).
type Config struct {
	Name                 string
	Description          string
	MaxSize              int // 0 = unbounded
	Events               []event.Definition
	DefaultSubscriptions []string
	CreatedByID          protocol.UserID // empty for static rooms; only the creator may delete
	SyncHistoryOnJoin    SyncHistory
}

// Validate checks the config for startup-fatal errors.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("room name cannot be empty")
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("room '%s': maxSize must be positive (got %d)", c.Name, c.MaxSize)
	}
	seen := make(map[string]struct{}, len(c.Events))
	for _, def := range c.Events {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("room '%s': %w", c.Name, err)
		}
		if _, dup := seen[def.Name()]; dup {
			return fmt.Errorf("room '%s': duplicate event '%s'", c.Name, def.Name())
		}
		seen[def.Name()] = struct{}{}
	}
	return nil
}

// StaticRoom pairs a room ID with its config, as loaded from ROOMS_FILE.
type StaticRoom struct {
	ID     protocol.RoomID
	Config Config
}

type fileEvent struct {
	Name    string               `json:"name"`
	History *event.HistoryPolicy `json:"history,omitempty"`
}

type fileRoom struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Description          string      `json:"description,omitempty"`
	MaxSize              int         `json:"maxSize,omitempty"`
	Events               []fileEvent `json:"events,omitempty"`
	DefaultSubscriptions []string    `json:"defaultSubscriptions,omitempty"`
	SyncHistoryOnJoin    SyncHistory `json:"syncHistoryOnJoin,omitempty"`
}

// LoadConfigFile parses a JSON array of room definitions. Validators cannot
// be expressed in JSON; attach them in code after loading if needed.
func LoadConfigFile(path string) ([]StaticRoom, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rooms file: %w", err)
	}

	var fileRooms []fileRoom
	if err := json.Unmarshal(raw, &fileRooms); err != nil {
		return nil, fmt.Errorf("failed to parse rooms file: %w", err)
	}

	out := make([]StaticRoom, 0, len(fileRooms))
	for _, fr := range fileRooms {
		if fr.ID == "" {
			return nil, fmt.Errorf("rooms file: room with empty id")
		}
		name := fr.Name
		if name == "" {
			name = fr.ID
		}

		defs := make([]event.Definition, 0, len(fr.Events))
		for _, fe := range fr.Events {
			opts := []event.Option{}
			if fe.History != nil && fe.History.Enabled {
				opts = append(opts, event.WithHistory(fe.History.Limit))
			}
			defs = append(defs, event.Define(fe.Name, opts...))
		}

		cfg := Config{
			Name:                 name,
			Description:          fr.Description,
			MaxSize:              fr.MaxSize,
			Events:               defs,
			DefaultSubscriptions: fr.DefaultSubscriptions,
			SyncHistoryOnJoin:    fr.SyncHistoryOnJoin,
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		out = append(out, StaticRoom{ID: protocol.RoomID(fr.ID), Config: cfg})
	}
	return out, nil
}
