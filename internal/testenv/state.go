package testenv

// State is a lifecycle position of an Env or a Session.
type State int

const (
	Uninitialized State = iota
	SchemaReady
	SessionOpen
	SessionClosing
	SessionClosed
	SchemaDropped
	SchemaPreserved
)

var stateNames = map[State]string{
	Uninitialized:   "UNINITIALIZED",
	SchemaReady:     "SCHEMA_READY",
	SessionOpen:     "SESSION_OPEN",
	SessionClosing:  "SESSION_CLOSING",
	SessionClosed:   "SESSION_CLOSED",
	SchemaDropped:   "SCHEMA_DROPPED",
	SchemaPreserved: "SCHEMA_PRESERVED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}
