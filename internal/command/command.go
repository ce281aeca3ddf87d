// Package command defines the request/response contract shared by every
// surface, its JSON wire form, and a Mux that routes requests to handlers.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/lotas/tabgrouper/internal/types"
)

// Action names a command on the wire.
type Action string

const (
	ActionGetGroups          Action = "getGroups"
	ActionCreateGroup        Action = "createGroup"
	ActionAddTabToGroup      Action = "addTabToGroup"
	ActionOpenAllTabs        Action = "openAllTabs"
	ActionUpdateContextMenus Action = "updateContextMenus"
	ActionPromptGroupName    Action = "promptGroupName"
	ActionShowNotification   Action = "showNotification"
)

// UnknownAction is the error message for an unrecognized action.
const UnknownAction = "Unknown action"

// Request is one of the request types below.
type Request interface {
	Action() Action
}

type (
	GetGroups          struct{}
	UpdateContextMenus struct{}
	PromptGroupName    struct{}

	CreateGroup struct {
		GroupName string
	}

	AddTabToGroup struct {
		GroupName string
		Tab       types.TabRef
	}

	OpenAllTabs struct {
		GroupName string
	}

	ShowNotification struct {
		Text string
		Type types.Severity
	}

	// Unknown carries an action name nothing handles.
	Unknown struct {
		Name string
	}
)

func (GetGroups) Action() Action          { return ActionGetGroups }
func (CreateGroup) Action() Action        { return ActionCreateGroup }
func (AddTabToGroup) Action() Action      { return ActionAddTabToGroup }
func (OpenAllTabs) Action() Action        { return ActionOpenAllTabs }
func (UpdateContextMenus) Action() Action { return ActionUpdateContextMenus }
func (PromptGroupName) Action() Action    { return ActionPromptGroupName }
func (ShowNotification) Action() Action   { return ActionShowNotification }
func (u Unknown) Action() Action          { return Action(u.Name) }

// Response is one of the response types below.
type Response interface {
	response()
}

type (
	// Success acknowledges a command. Reason explains a declined one.
	Success struct {
		Applied bool
		Reason  string
	}

	GroupsResult struct {
		Groups *types.Mapping
	}

	// GroupNameResult answers PromptGroupName; Cancelled means the user
	// dismissed the prompt.
	GroupNameResult struct {
		GroupName string
		Cancelled bool
	}

	ErrorResult struct {
		Message string
	}
)

func (Success) response()         {}
func (GroupsResult) response()    {}
func (GroupNameResult) response() {}
func (ErrorResult) response()     {}

// OK is the plain successful acknowledgement.
var OK = Success{Applied: true}

// Declined builds a Success that was not applied.
func Declined(reason string) Success {
	return Success{Reason: reason}
}

// wireRequest is the flat JSON shape of every request.
type wireRequest struct {
	Action    Action         `json:"action"`
	GroupName string         `json:"groupName,omitempty"`
	TabData   *types.TabRef  `json:"tabData,omitempty"`
	Text      string         `json:"text,omitempty"`
	Type      types.Severity `json:"type,omitempty"`
}

// DecodeRequest parses a wire request. A missing or unrecognized action
// yields Unknown, not an error; only malformed JSON is an error.
func DecodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch w.Action {
	case ActionGetGroups:
		return GetGroups{}, nil
	case ActionCreateGroup:
		return CreateGroup{GroupName: w.GroupName}, nil
	case ActionAddTabToGroup:
		var tab types.TabRef
		if w.TabData != nil {
			tab = *w.TabData
		}
		return AddTabToGroup{GroupName: w.GroupName, Tab: tab}, nil
	case ActionOpenAllTabs:
		return OpenAllTabs{GroupName: w.GroupName}, nil
	case ActionUpdateContextMenus:
		return UpdateContextMenus{}, nil
	case ActionPromptGroupName:
		return PromptGroupName{}, nil
	case ActionShowNotification:
		sev := w.Type
		if !sev.Valid() {
			sev = types.SeverityInfo
		}
		return ShowNotification{Text: w.Text, Type: sev}, nil
	}
	return Unknown{Name: string(w.Action)}, nil
}

// EncodeRequest renders req in wire form.
func EncodeRequest(req Request) ([]byte, error) {
	w := wireRequest{Action: req.Action()}
	switch r := req.(type) {
	case CreateGroup:
		w.GroupName = r.GroupName
	case AddTabToGroup:
		w.GroupName = r.GroupName
		tab := r.Tab
		w.TabData = &tab
	case OpenAllTabs:
		w.GroupName = r.GroupName
	case ShowNotification:
		w.Text = r.Text
		w.Type = r.Type
	}
	return json.Marshal(w)
}

// EncodeResponse renders resp in wire form.
func EncodeResponse(resp Response) ([]byte, error) {
	switch r := resp.(type) {
	case Success:
		if r.Applied {
			return []byte(`{"success":true}`), nil
		}
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Reason  string `json:"reason,omitempty"`
		}{false, r.Reason})
	case GroupsResult:
		groups := r.Groups
		if groups == nil {
			groups = types.NewMapping()
		}
		return json.Marshal(struct {
			Groups *types.Mapping `json:"groups"`
		}{groups})
	case GroupNameResult:
		var name *string
		if !r.Cancelled {
			name = &r.GroupName
		}
		return json.Marshal(struct {
			GroupName *string `json:"groupName"`
		}{name})
	case ErrorResult:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Message})
	case nil:
		return nil, fmt.Errorf("encode response: nil")
	}
	return nil, fmt.Errorf("encode response: unsupported type %T", resp)
}

// DecodeResponse parses a wire response by the keys it carries.
func DecodeResponse(data []byte) (Response, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if raw, ok := keys["error"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode response error: %w", err)
		}
		return ErrorResult{Message: msg}, nil
	}
	if raw, ok := keys["groups"]; ok {
		m := types.NewMapping()
		if err := json.Unmarshal(raw, m); err != nil {
			return nil, fmt.Errorf("decode response groups: %w", err)
		}
		return GroupsResult{Groups: m}, nil
	}
	if raw, ok := keys["groupName"]; ok {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return GroupNameResult{Cancelled: true}, nil
		}
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, fmt.Errorf("decode response groupName: %w", err)
		}
		return GroupNameResult{GroupName: name}, nil
	}
	if raw, ok := keys["success"]; ok {
		var s Success
		if err := json.Unmarshal(raw, &s.Applied); err != nil {
			return nil, fmt.Errorf("decode response success: %w", err)
		}
		if reason, ok := keys["reason"]; ok {
			if err := json.Unmarshal(reason, &s.Reason); err != nil {
				return nil, fmt.Errorf("decode response reason: %w", err)
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("decode response: unrecognized shape %s", data)
}

// Handler answers requests. Every surface that accepts commands implements it.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}
