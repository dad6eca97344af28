package app

type ReconnectAction int

const (
	// Rejoin leaves locally and joins the same conference again.
	Rejoin ReconnectAction = iota
	// Stay leaves locally and waits for the user.
	Stay
)

func (a ReconnectAction) String() string {
	if a == Stay {
		return "stay"
	}
	return "rejoin"
}

// Policy decides what happens to the media session after the signaling
// channel reconnected. Server-side state never survives a reconnect.
type Policy interface {
	OnReconnect(conferenceID string) ReconnectAction
}

type SimplePolicy struct {
	// NoRejoin turns every reconnect into Stay.
	NoRejoin bool
}

func (p SimplePolicy) OnReconnect(conferenceID string) ReconnectAction {
	if p.NoRejoin || conferenceID == "" {
		return Stay
	}
	return Rejoin
}
