package roundtrip

// ModalState is the observable visibility of the messaging modal
type ModalState int

const (
	Hidden ModalState = iota
	Visible
)

func (s ModalState) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Visible:
		return "visible"
	default:
		return "unknown"
	}
}

// Lifecycle tracks modal transitions and rejects two opens or two closes in
// a row. The zero value starts hidden.
type Lifecycle struct {
	state       ModalState
	transitions int
}

// State returns the current state
func (l *Lifecycle) State() ModalState { return l.state }

// Transitions counts confirmed open and close transitions
func (l *Lifecycle) Transitions() int { return l.transitions }

func (l *Lifecycle) require(step string, want ModalState) error {
	if l.state != want {
		return &StateError{Step: step, Want: want, Got: l.state}
	}
	return nil
}

func (l *Lifecycle) opened() error {
	if err := l.require("open", Hidden); err != nil {
		return err
	}
	l.state = Visible
	l.transitions++
	return nil
}

func (l *Lifecycle) closed() error {
	if err := l.require("close", Visible); err != nil {
		return err
	}
	l.state = Hidden
	l.transitions++
	return nil
}

// reset follows a full reload, after which no modal is open
func (l *Lifecycle) reset() {
	l.state = Hidden
}
