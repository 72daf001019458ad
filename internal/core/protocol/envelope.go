package protocol

// Seq is a position in the seq/ack handshake. Zero means "nothing yet".
type Seq uint64

// Kind is the envelope discriminant.
type Kind string

const (
	KindIntent    Kind = "intent"
	KindEvent     Kind = "event"
	KindSnapshot  Kind = "snapshot"
	KindHeartbeat Kind = "heartbeat"
	KindAck       Kind = "ack"
)

func (k Kind) Valid() bool {
	switch k {
	case KindIntent, KindEvent, KindSnapshot, KindHeartbeat, KindAck:
		return true
	default:
		return false
	}
}

// Envelope is one wire message. Exactly one of Intent, Event and Snapshot is
// set for the matching kinds; heartbeat and ack carry no body, and ack
// envelopes carry no Seq.
type Envelope struct {
	Kind     Kind
	Seq      Seq
	Ack      Seq
	Intent   Intent
	Event    Event
	Snapshot *Snapshot
}

func NewIntentEnvelope(intent Intent, seq, ack Seq) Envelope {
	return Envelope{Kind: KindIntent, Seq: seq, Ack: ack, Intent: intent}
}

func NewEventEnvelope(event Event, seq, ack Seq) Envelope {
	return Envelope{Kind: KindEvent, Seq: seq, Ack: ack, Event: event}
}

func NewSnapshotEnvelope(snapshot Snapshot, seq, ack Seq) Envelope {
	return Envelope{Kind: KindSnapshot, Seq: seq, Ack: ack, Snapshot: &snapshot}
}

func NewHeartbeatEnvelope(seq, ack Seq) Envelope {
	return Envelope{Kind: KindHeartbeat, Seq: seq, Ack: ack}
}

func NewAckEnvelope(ack Seq) Envelope {
	return Envelope{Kind: KindAck, Ack: ack}
}

func IsIntent(e Envelope) bool    { return e.Kind == KindIntent }
func IsEvent(e Envelope) bool     { return e.Kind == KindEvent }
func IsSnapshot(e Envelope) bool  { return e.Kind == KindSnapshot }
func IsHeartbeat(e Envelope) bool { return e.Kind == KindHeartbeat }
func IsAck(e Envelope) bool       { return e.Kind == KindAck }

// TypeName is the variant discriminant for logs: the intent or event type
// for those kinds, the envelope kind otherwise.
func (e Envelope) TypeName() string {
	switch {
	case e.Kind == KindIntent && e.Intent != nil:
		return string(e.Intent.IntentType())
	case e.Kind == KindEvent && e.Event != nil:
		return string(e.Event.EventType())
	default:
		return string(e.Kind)
	}
}
