package bridge

import (
	"encoding/json"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/page"
	apperrors "popup-runtime/pkg/errors"
)

// MessageType names a bridge message
type MessageType string

// Client to server
const (
	MsgHello        MessageType = "hello"
	MsgScroll       MessageType = "scroll"
	MsgPointerLeave MessageType = "pointer_leave"
	MsgActivity     MessageType = "activity"
	MsgTrack        MessageType = "track"
	MsgNavigate     MessageType = "navigate"
	MsgResize       MessageType = "resize"
	MsgClose        MessageType = "close"
	MsgClick        MessageType = "click"
	MsgInspect      MessageType = "inspect"
)

// Server to client
const (
	MsgIdentity      MessageType = "identity"
	MsgMount         MessageType = "mount"
	MsgUnmount       MessageType = "unmount"
	MsgDataLayer     MessageType = "datalayer"
	MsgInspectResult MessageType = "inspect_result"
	MsgError         MessageType = "error"
)

// Envelope frames every message in both directions
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hello opens a page session. It must be the first message.
type Hello struct {
	SiteID         string         `json:"siteId"`
	Token          string         `json:"token,omitempty"`
	URL            string         `json:"url"`
	Referrer       string         `json:"referrer,omitempty"`
	Lang           string         `json:"lang,omitempty"`         // document language
	LangOverride   string         `json:"langOverride,omitempty"` // init option
	Timezone       string         `json:"timezone,omitempty"`
	ViewportWidth  int            `json:"viewportWidth"`
	ViewportHeight int            `json:"viewportHeight"`
	ScrollY        float64        `json:"scrollY,omitempty"`
	ScrollHeight   float64        `json:"scrollHeight,omitempty"`
	UserContext    map[string]any `json:"userContext,omitempty"`
	Debug          bool           `json:"debug,omitempty"`
}

// State converts the hello into the page's initial state
func (h Hello) State() page.State {
	return page.State{
		URL:            h.URL,
		Referrer:       h.Referrer,
		ViewportWidth:  h.ViewportWidth,
		ViewportHeight: h.ViewportHeight,
		ScrollY:        h.ScrollY,
		ScrollHeight:   h.ScrollHeight,
		Lang:           h.Lang,
		Timezone:       h.Timezone,
	}
}

type ScrollSignal struct {
	ScrollY        float64 `json:"scrollY"`
	ScrollHeight   float64 `json:"scrollHeight,omitempty"`
	ViewportHeight int     `json:"viewportHeight,omitempty"`
}

type PointerLeaveSignal struct {
	ClientY float64 `json:"clientY"`
}

type TrackSignal struct {
	Name string `json:"name"`
}

type NavigateSignal struct {
	URL string `json:"url"`
}

type ResizeSignal struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type CloseSignal struct {
	PopupID string             `json:"popupId"`
	Method  domain.CloseMethod `json:"method"`
}

type ClickSignal struct {
	PopupID string `json:"popupId"`
	BlockID string `json:"blockId"`
}

// IdentityMessage hands the refreshed identity token back to the page
type IdentityMessage struct {
	VisitorID  string `json:"visitorId"`
	SessionID  string `json:"sessionId"`
	Token      string `json:"token"`
	NewVisitor bool   `json:"newVisitor"`
	NewSession bool   `json:"newSession"`
}

type UnmountMessage struct {
	ContainerID string `json:"containerId"`
	PopupID     string `json:"popupId"`
}

type ErrorMessage struct {
	Type    apperrors.ErrorType `json:"type"`
	Message string              `json:"message"`
}

func envelope(t MessageType, v any) (Envelope, error) {
	if v == nil {
		return Envelope{Type: t}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: data}, nil
}

// decode unmarshals an envelope body; an absent body leaves v untouched
func decode(e Envelope, v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
