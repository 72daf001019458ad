package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zeusync/tablesync/pkg/generic"
)

var buffers = generic.NewResetPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

type wireEnvelope struct {
	Type     Kind      `json:"type"`
	Seq      *Seq      `json:"seq,omitempty"`
	Ack      *Seq      `json:"ack,omitempty"`
	Intent   *wireBody `json:"intent,omitempty"`
	Event    *wireBody `json:"event,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

type wireBody struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serialises an envelope as a JSON text frame.
func Encode(e Envelope) ([]byte, error) {
	w := wireEnvelope{Type: e.Kind}
	if e.Kind != KindAck {
		seq := e.Seq
		w.Seq = &seq
	}
	ack := e.Ack
	w.Ack = &ack

	switch e.Kind {
	case KindIntent:
		if e.Intent == nil {
			return nil, &EncodeError{Kind: e.Kind, Err: ErrMissingBody}
		}
		if err := e.Intent.Validate(); err != nil {
			return nil, &EncodeError{Kind: e.Kind, Err: err}
		}
		body, err := encodeBody(string(e.Intent.IntentType()), e.Intent)
		if err != nil {
			return nil, &EncodeError{Kind: e.Kind, Err: err}
		}
		w.Intent = body
	case KindEvent:
		if e.Event == nil {
			return nil, &EncodeError{Kind: e.Kind, Err: ErrMissingBody}
		}
		var payload any = e.Event
		if unknown, ok := e.Event.(UnknownEvent); ok {
			payload = unknown.Payload
		}
		body, err := encodeBody(string(e.Event.EventType()), payload)
		if err != nil {
			return nil, &EncodeError{Kind: e.Kind, Err: err}
		}
		w.Event = body
	case KindSnapshot:
		if e.Snapshot == nil {
			return nil, &EncodeError{Kind: e.Kind, Err: ErrMissingBody}
		}
		w.Snapshot = e.Snapshot
	case KindHeartbeat, KindAck:
	default:
		return nil, &EncodeError{Kind: e.Kind, Err: ErrUnknownKind}
	}

	buf := buffers.Get()
	defer buffers.Put(buf)
	if err := json.NewEncoder(buf).Encode(w); err != nil {
		return nil, &EncodeError{Kind: e.Kind, Err: err}
	}
	return bytes.Clone(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func encodeBody(typ string, payload any) (*wireBody, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) > 0 && !json.Valid(raw) {
			return nil, fmt.Errorf("payload for %s is not valid JSON", typ)
		}
		return &wireBody{Type: typ, Payload: raw}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &wireBody{Type: typ, Payload: raw}, nil
}

// Decode parses a frame produced by Encode (or by the server). Any failure is
// reported as a *DecodeError.
func Decode(data []byte) (Envelope, error) {
	fail := func(err error) (Envelope, error) {
		return Envelope{}, &DecodeError{Size: len(data), Err: err}
	}

	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fail(err)
	}
	if !w.Type.Valid() {
		return fail(fmt.Errorf("%w: %q", ErrUnknownKind, w.Type))
	}

	e := Envelope{Kind: w.Type}
	if w.Seq != nil {
		e.Seq = *w.Seq
	}
	if w.Ack != nil {
		e.Ack = *w.Ack
	}

	switch w.Type {
	case KindIntent:
		if w.Intent == nil {
			return fail(ErrMissingBody)
		}
		if w.Event != nil || w.Snapshot != nil {
			return fail(ErrKindMismatch)
		}
		intent, err := decodeIntent(w.Intent)
		if err != nil {
			return fail(err)
		}
		e.Intent = intent
	case KindEvent:
		if w.Event == nil {
			return fail(ErrMissingBody)
		}
		if w.Intent != nil || w.Snapshot != nil {
			return fail(ErrKindMismatch)
		}
		event, err := decodeEvent(w.Event)
		if err != nil {
			return fail(err)
		}
		e.Event = event
	case KindSnapshot:
		if w.Snapshot == nil {
			return fail(ErrMissingBody)
		}
		if w.Intent != nil || w.Event != nil {
			return fail(ErrKindMismatch)
		}
		if bytes.Equal(bytes.TrimSpace(w.Snapshot.State), []byte("null")) {
			w.Snapshot.State = nil
		}
		e.Snapshot = w.Snapshot
	case KindHeartbeat:
		if w.Intent != nil || w.Event != nil || w.Snapshot != nil {
			return fail(ErrKindMismatch)
		}
	case KindAck:
		if w.Ack == nil {
			return fail(ErrMissingAck)
		}
		if w.Intent != nil || w.Event != nil || w.Snapshot != nil {
			return fail(ErrKindMismatch)
		}
	}
	return e, nil
}

func decodeIntent(body *wireBody) (Intent, error) {
	var intent Intent
	switch IntentType(body.Type) {
	case IntentPlayTile:
		var p PlayTile
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		intent = p
	case IntentEnterRoom:
		var p EnterRoom
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		intent = p
	case IntentCreateRoom:
		var p CreateRoom
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		intent = p
	case IntentFetchRoomList:
		var p FetchRoomList
		if err := unmarshalPayload(body, &p, false); err != nil {
			return nil, err
		}
		intent = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, body.Type)
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

func decodeEvent(body *wireBody) (Event, error) {
	switch EventType(body.Type) {
	case EventTilePlayed:
		var p TilePlayed
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		return p, nil
	case EventTurnChanged:
		var p TurnChanged
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		return p, nil
	case EventGameStarted:
		var p GameStarted
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		return p, nil
	case EventGameEnded:
		var p GameEnded
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		return p, nil
	case EventRoomListUpdated:
		var p RoomListUpdated
		if err := unmarshalPayload(body, &p, true); err != nil {
			return nil, err
		}
		return p, nil
	default:
		if body.Type == "" {
			return nil, fmt.Errorf("%w: event without type", ErrMissingBody)
		}
		return UnknownEvent{Type: EventType(body.Type), Payload: body.Payload}, nil
	}
}

func unmarshalPayload(body *wireBody, target any, required bool) error {
	raw := bytes.TrimSpace(body.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if required {
			return fmt.Errorf("%w: %s payload", ErrMissingBody, body.Type)
		}
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%s payload: %w", body.Type, err)
	}
	return nil
}
