package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a game event.
type Type string

const (
	TypeMatchStart    Type = "MATCH_START"
	TypeMinionKill    Type = "MINION_KILL"
	TypePlayerKill    Type = "PLAYER_KILL"
	TypeDragonKill    Type = "DRAGON_KILL"
	TypeTurretDestroy Type = "TURRET_DESTROY"
	TypeMatchEnd      Type = "MATCH_END"
	TypeUnknown       Type = "UNKNOWN"
)

// namespace for deriving deterministic event ids from raw bodies.
// Inbound events carry no id of their own, so a redelivered body maps to
// the same id at every layer.
var idNamespace = uuid.MustParse("9a1b4dfc-62a5-4f83-9f6e-0d6f2f1c7b10")

// ID derives the stable identity of a raw event body.
func ID(raw []byte) uuid.UUID {
	return uuid.NewSHA1(idNamespace, raw)
}

// ParseError marks an event that failed boundary validation. Such events are
// persisted for audit but never applied.
type ParseError struct {
	Type   Type
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s event: %s", e.Type, e.Reason)
}

// Envelope is the wire shape of an inbound event.
type Envelope struct {
	MatchID   string          `json:"matchID"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// Event is the validated, closed-variant form of a game event. Exactly one
// payload pointer is non-nil, matching Type.
type Event struct {
	ID        uuid.UUID
	MatchID   string
	Type      Type
	Timestamp time.Time

	MatchStart    *MatchStartPayload
	MinionKill    *MinionKillPayload
	PlayerKill    *PlayerKillPayload
	DragonKill    *DragonKillPayload
	TurretDestroy *TurretDestroyPayload
	MatchEnd      *MatchEndPayload
}

// MatchStartPayload carries the full initial roster for a match.
type MatchStartPayload struct {
	Fixture Fixture     `json:"fixture"`
	Teams   []MatchTeam `json:"teams"`
}

// Fixture is the match metadata block of a MATCH_START event.
type Fixture struct {
	StartTime     string `json:"startTime"`
	Title         string `json:"title"`
	SeriesCurrent int    `json:"seriesCurrent"`
	SeriesMax     int    `json:"seriesMax"`
	SeriesType    string `json:"seriesType"`
}

// MatchTeam is one team of a MATCH_START roster.
type MatchTeam struct {
	TeamID  string        `json:"teamID"`
	Players []MatchPlayer `json:"players"`
}

// MatchPlayer is one player of a MATCH_START roster.
type MatchPlayer struct {
	PlayerID string `json:"playerID"`
	Gold     int64  `json:"gold"`
	Alive    bool   `json:"alive"`
	Name     string `json:"name"`
}

type MinionKillPayload struct {
	PlayerID    string `json:"playerID"`
	GoldGranted int64  `json:"goldGranted"`
}

type PlayerKillPayload struct {
	KillerID    string   `json:"killerID"`
	VictimID    string   `json:"victimID"`
	GoldGranted int64    `json:"goldGranted"`
	Assistants  []string `json:"assistants"`
	AssistGold  int64    `json:"assistGold"`
}

type DragonKillPayload struct {
	KillerID    string `json:"killerID"`
	DragonType  string `json:"dragonType"`
	GoldGranted int64  `json:"goldGranted"`
}

type TurretDestroyPayload struct {
	KillerID          string `json:"killerID"`
	KillerTeamID      string `json:"killerTeamID"`
	TurretTier        int    `json:"turretTier"`
	TurretLane        string `json:"turretLane"`
	PlayerGoldGranted int64  `json:"playerGoldGranted"`
	TeamGoldGranted   int64  `json:"teamGoldGranted"`
}

type MatchEndPayload struct {
	WinningTeamID string `json:"winningTeamID"`
}

// Decode parses and validates a raw event body into its typed form.
// A *ParseError return means the body is not applicable: it should still be
// persisted as-is for audit, but must produce no state change.
func Decode(id uuid.UUID, raw []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Type: TypeUnknown, Reason: fmt.Sprintf("body is not valid JSON: %v", err)}
	}
	return DecodeEnvelope(id, &env)
}

// DecodeEnvelope validates an already-unmarshaled envelope.
func DecodeEnvelope(id uuid.UUID, env *Envelope) (*Event, error) {
	typ := parseType(env.Type)
	if typ == TypeUnknown {
		return nil, &ParseError{Type: TypeUnknown, Reason: fmt.Sprintf("unknown event type %q", env.Type)}
	}
	if env.MatchID == "" {
		return nil, &ParseError{Type: typ, Reason: "missing matchID"}
	}

	ev := &Event{ID: id, MatchID: env.MatchID, Type: typ}

	if env.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, env.Timestamp)
		if err != nil {
			return nil, &ParseError{Type: typ, Reason: fmt.Sprintf("bad timestamp %q", env.Timestamp)}
		}
		ev.Timestamp = ts
	}

	var err error
	switch typ {
	case TypeMatchStart:
		err = decodeMatchStart(ev, env.Payload)
	case TypeMinionKill:
		err = decodeMinionKill(ev, env.Payload)
	case TypePlayerKill:
		err = decodePlayerKill(ev, env.Payload)
	case TypeDragonKill:
		err = decodeDragonKill(ev, env.Payload)
	case TypeTurretDestroy:
		err = decodeTurretDestroy(ev, env.Payload)
	case TypeMatchEnd:
		err = decodeMatchEnd(ev, env.Payload)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func parseType(s string) Type {
	switch Type(s) {
	case TypeMatchStart, TypeMinionKill, TypePlayerKill, TypeDragonKill, TypeTurretDestroy, TypeMatchEnd:
		return Type(s)
	}
	return TypeUnknown
}

func unmarshalPayload(typ Type, raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return &ParseError{Type: typ, Reason: "missing payload"}
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &ParseError{Type: typ, Reason: fmt.Sprintf("bad payload: %v", err)}
	}
	return nil
}

func decodeMatchStart(ev *Event, raw json.RawMessage) error {
	var p MatchStartPayload
	if err := unmarshalPayload(TypeMatchStart, raw, &p); err != nil {
		return err
	}
	if p.Fixture.StartTime == "" || p.Fixture.Title == "" {
		return &ParseError{Type: TypeMatchStart, Reason: "incomplete fixture"}
	}
	if len(p.Teams) == 0 {
		return &ParseError{Type: TypeMatchStart, Reason: "no teams"}
	}
	for _, team := range p.Teams {
		if team.TeamID == "" {
			return &ParseError{Type: TypeMatchStart, Reason: "team missing teamID"}
		}
		for _, player := range team.Players {
			if player.PlayerID == "" || player.Name == "" {
				return &ParseError{Type: TypeMatchStart, Reason: "player missing playerID or name"}
			}
		}
	}
	ev.MatchStart = &p
	return nil
}

func decodeMinionKill(ev *Event, raw json.RawMessage) error {
	var p MinionKillPayload
	if err := unmarshalPayload(TypeMinionKill, raw, &p); err != nil {
		return err
	}
	if p.PlayerID == "" {
		return &ParseError{Type: TypeMinionKill, Reason: "missing playerID"}
	}
	ev.MinionKill = &p
	return nil
}

func decodePlayerKill(ev *Event, raw json.RawMessage) error {
	var p PlayerKillPayload
	if err := unmarshalPayload(TypePlayerKill, raw, &p); err != nil {
		return err
	}
	if p.KillerID == "" {
		return &ParseError{Type: TypePlayerKill, Reason: "missing killerID"}
	}
	if p.VictimID == "" {
		return &ParseError{Type: TypePlayerKill, Reason: "missing victimID"}
	}
	if ev.Timestamp.IsZero() {
		return &ParseError{Type: TypePlayerKill, Reason: "missing timestamp"}
	}
	ev.PlayerKill = &p
	return nil
}

func decodeDragonKill(ev *Event, raw json.RawMessage) error {
	var p DragonKillPayload
	if err := unmarshalPayload(TypeDragonKill, raw, &p); err != nil {
		return err
	}
	if p.KillerID == "" {
		return &ParseError{Type: TypeDragonKill, Reason: "missing killerID"}
	}
	ev.DragonKill = &p
	return nil
}

func decodeTurretDestroy(ev *Event, raw json.RawMessage) error {
	var p TurretDestroyPayload
	if err := unmarshalPayload(TypeTurretDestroy, raw, &p); err != nil {
		return err
	}
	if p.KillerTeamID == "" {
		return &ParseError{Type: TypeTurretDestroy, Reason: "missing killerTeamID"}
	}
	ev.TurretDestroy = &p
	return nil
}

func decodeMatchEnd(ev *Event, raw json.RawMessage) error {
	var p MatchEndPayload
	if err := unmarshalPayload(TypeMatchEnd, raw, &p); err != nil {
		return err
	}
	if p.WinningTeamID == "" {
		return &ParseError{Type: TypeMatchEnd, Reason: "missing winningTeamID"}
	}
	ev.MatchEnd = &p
	return nil
}
