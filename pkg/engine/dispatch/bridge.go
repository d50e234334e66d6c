package dispatch

import "fmt"

// BridgeVerb is one `code_bridge` control-channel action.
type BridgeVerb string

const (
	BridgeSubscribe       BridgeVerb = "subscribe"
	BridgeScreenshot      BridgeVerb = "screenshot"
	BridgeScript          BridgeVerb = "script"
	BridgeUnsubscribe     BridgeVerb = "unsubscribe"
	bridgeDeprecatedPush  BridgeVerb = "push"  // removed: one-shot requests replaced server push
	bridgeDeprecatedPoll  BridgeVerb = "poll"  // removed: superseded by subscribe
)

var deprecatedVerbs = map[BridgeVerb]string{
	bridgeDeprecatedPush: "code_bridge: \"push\" was removed; use \"subscribe\" and read events from the returned channel",
	bridgeDeprecatedPoll: "code_bridge: \"poll\" was removed; use \"subscribe\" instead of polling",
}

// Subscription is a remote bridge subscription handle.
type Subscription struct {
	ID     string
	Topics []string
}

// BridgeHandler implements the control channel: subscribe for ongoing
// events, and one-shot screenshot requests against the active browser
// page. The script verb is accepted but always returns an error; it does
// not run anything.
type BridgeHandler struct {
	Page interface {
		Screenshot() (string, error)
	}
	Subscriptions map[string]*Subscription
}

// NewBridgeHandler creates an empty handler.
func NewBridgeHandler() *BridgeHandler {
	return &BridgeHandler{Subscriptions: make(map[string]*Subscription)}
}

// Dispatch routes a bridge verb; deprecated verbs fail explicitly rather
// than silently degrading to a no-op.
func (h *BridgeHandler) Dispatch(verb BridgeVerb, id string, topics []string) (any, error) {
	if msg, deprecated := deprecatedVerbs[verb]; deprecated {
		return nil, fmt.Errorf("%s", msg)
	}

	switch verb {
	case BridgeSubscribe:
		sub := &Subscription{ID: id, Topics: topics}
		h.Subscriptions[id] = sub
		return sub, nil
	case BridgeUnsubscribe:
		if _, ok := h.Subscriptions[id]; !ok {
			return nil, fmt.Errorf("code_bridge: no subscription %q", id)
		}
		delete(h.Subscriptions, id)
		return nil, nil
	case BridgeScreenshot:
		if h.Page == nil {
			return nil, fmt.Errorf("code_bridge: no active page session")
		}
		data, err := h.Page.Screenshot()
		if err != nil {
			return nil, err
		}
		return map[string]string{"data": data}, nil
	case BridgeScript:
		return nil, fmt.Errorf("code_bridge: one-shot script requests are not yet wired to a page session")
	default:
		return nil, fmt.Errorf("code_bridge: unknown verb %q", verb)
	}
}
