package replay

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/tablesync/internal/core/protocol"
)

const (
	SchemaVersion = "1.0.0"
	GameVersion   = "1.0.0"
)

var ErrInvalidReplay = errors.New("invalid replay data")

type Metadata struct {
	SchemaVersion string    `yaml:"schemaVersion"`
	GameVersion   string    `yaml:"gameVersion"`
	BuildHash     string    `yaml:"buildHash"`
	CreatedAt     time.Time `yaml:"createdAt"`
}

func (m Metadata) Validate() error {
	var missing []string
	if m.SchemaVersion == "" {
		missing = append(missing, "schemaVersion")
	}
	if m.GameVersion == "" {
		missing = append(missing, "gameVersion")
	}
	if m.BuildHash == "" {
		missing = append(missing, "buildHash")
	}
	if m.CreatedAt.IsZero() {
		missing = append(missing, "createdAt")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidReplay, strings.Join(missing, ", "))
	}
	return nil
}

// Entry is one recorded event. Envelope holds the event in its wire form so
// replays stay readable and decode through the same codec as live traffic.
type Entry struct {
	Offset   time.Duration `yaml:"offset"`
	Type     string        `yaml:"type"`
	Envelope string        `yaml:"envelope"`
}

func newEntry(offset time.Duration, event protocol.Event) (Entry, error) {
	data, err := protocol.Encode(protocol.NewEventEnvelope(event, 0, 0))
	if err != nil {
		return Entry{}, err
	}
	return Entry{Offset: offset, Type: string(event.EventType()), Envelope: string(data)}, nil
}

func (e Entry) Event() (protocol.Event, error) {
	env, err := protocol.Decode([]byte(e.Envelope))
	if err != nil {
		return nil, err
	}
	if !protocol.IsEvent(env) {
		return nil, fmt.Errorf("%w: entry holds a %s envelope", ErrInvalidReplay, env.Kind)
	}
	return env.Event, nil
}

type InitialState struct {
	Seq   protocol.Seq `yaml:"seq"`
	State string       `yaml:"state"`
}

func (s InitialState) Snapshot() protocol.Snapshot {
	snap := protocol.Snapshot{Seq: s.Seq}
	if s.State != "" {
		snap.State = []byte(s.State)
	}
	return snap
}

type Data struct {
	Metadata     `yaml:"metadata"`
	RoomID       string        `yaml:"roomId"`
	InitialState *InitialState `yaml:"initialState,omitempty"`
	Events       []Entry       `yaml:"events"`
}

// Validate checks metadata and that offsets never go backwards.
func (d Data) Validate() error {
	if err := d.Metadata.Validate(); err != nil {
		return err
	}
	var last time.Duration
	for i, e := range d.Events {
		if e.Offset < last {
			return fmt.Errorf("%w: event %d offset %s before %s", ErrInvalidReplay, i, e.Offset, last)
		}
		last = e.Offset
	}
	return nil
}

func Export(w io.Writer, d Data) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

func Import(r io.Reader) (Data, error) {
	var d Data
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return Data{}, fmt.Errorf("%w: %w", ErrInvalidReplay, err)
	}
	return d, nil
}

// BuildHash fingerprints the running binary from its build info.
func BuildHash() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev-build"
	}
	var b strings.Builder
	b.WriteString(info.Main.Path)
	b.WriteString(info.Main.Version)
	b.WriteString(info.GoVersion)
	for _, s := range info.Settings {
		b.WriteString(s.Key)
		b.WriteString(s.Value)
	}
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}
