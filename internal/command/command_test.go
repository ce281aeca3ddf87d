package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotas/tabgrouper/internal/types"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		in   string
		want Request
	}{
		{`{"action":"getGroups"}`, GetGroups{}},
		{`{"action":"createGroup","groupName":"Work"}`, CreateGroup{GroupName: "Work"}},
		{`{"action":"openAllTabs","groupName":"Work"}`, OpenAllTabs{GroupName: "Work"}},
		{`{"action":"updateContextMenus"}`, UpdateContextMenus{}},
		{`{"action":"promptGroupName"}`, PromptGroupName{}},
		{`{"action":"showNotification","text":"hi","type":"warning"}`, ShowNotification{Text: "hi", Type: types.SeverityWarning}},
		{`{"action":"showNotification","text":"hi","type":"loud"}`, ShowNotification{Text: "hi", Type: types.SeverityInfo}},
		{`{"action":"selfDestruct"}`, Unknown{Name: "selfDestruct"}},
		{`{}`, Unknown{}},
	}
	for _, tt := range tests {
		got, err := DecodeRequest([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDecodeAddTabRequest(t *testing.T) {
	in := `{"action":"addTabToGroup","groupName":"Work","tabData":{"id":9,"title":"Go","url":"https://go.dev","favIconUrl":"https://go.dev/f.ico","added":1700000000000}}`
	got, err := DecodeRequest([]byte(in))
	require.NoError(t, err)

	add, ok := got.(AddTabToGroup)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, "Work", add.GroupName)
	assert.Equal(t, 9, add.Tab.ID)
	assert.Equal(t, "https://go.dev", add.Tab.URL)
	assert.Equal(t, "https://go.dev/f.ico", add.Tab.Favicon)
	assert.True(t, add.Tab.AddedAt.Equal(time.UnixMilli(1700000000000)))
}

func TestDecodeRequestMalformed(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"action":`))
	assert.Error(t, err)
}

func TestRequestRoundTrip(t *testing.T) {
	reqs := []Request{
		GetGroups{},
		CreateGroup{GroupName: "Work"},
		AddTabToGroup{GroupName: "Work", Tab: types.TabRef{ID: 1, Title: "A", URL: "https://a.com", AddedAt: time.UnixMilli(1700000000000)}},
		OpenAllTabs{GroupName: "Work"},
		ShowNotification{Text: "done", Type: types.SeveritySuccess},
	}
	for _, req := range reqs {
		data, err := EncodeRequest(req)
		require.NoError(t, err)
		got, err := DecodeRequest(data)
		require.NoError(t, err)
		assert.Equal(t, req, got, string(data))
	}
}

func TestEncodeResponse(t *testing.T) {
	m := types.NewMapping()
	m.Put(&types.Group{Name: "Work", Color: "#6366f1", CreatedAt: time.UnixMilli(1700000000000)})

	tests := []struct {
		resp Response
		want string
	}{
		{OK, `{"success":true}`},
		{Declined("Group already exists"), `{"success":false,"reason":"Group already exists"}`},
		{GroupNameResult{GroupName: "Work"}, `{"groupName":"Work"}`},
		{GroupNameResult{Cancelled: true}, `{"groupName":null}`},
		{ErrorResult{Message: UnknownAction}, `{"error":"Unknown action"}`},
		{GroupsResult{}, `{"groups":{}}`},
		{GroupsResult{Groups: m}, `{"groups":{"Work":{"name":"Work","tabs":[],"created":1700000000000,"color":"#6366f1"}}}`},
	}
	for _, tt := range tests {
		got, err := EncodeResponse(tt.resp)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(got))
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		in   string
		want Response
	}{
		{`{"success":true}`, OK},
		{`{"success":false,"reason":"Group not found"}`, Success{Reason: "Group not found"}},
		{`{"groupName":"Home"}`, GroupNameResult{GroupName: "Home"}},
		{`{"groupName":null}`, GroupNameResult{Cancelled: true}},
		{`{"error":"Unknown action"}`, ErrorResult{Message: UnknownAction}},
	}
	for _, tt := range tests {
		got, err := DecodeResponse([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	got, err := DecodeResponse([]byte(`{"groups":{"B":{"name":"B","tabs":[]},"A":{"name":"A","tabs":[]}}}`))
	require.NoError(t, err)
	gr, ok := got.(GroupsResult)
	require.True(t, ok)
	assert.Equal(t, []string{"B", "A"}, gr.Groups.Names())

	_, err = DecodeResponse([]byte(`{"weird":1}`))
	assert.Error(t, err)
}

func TestMuxRoutes(t *testing.T) {
	mux := NewMux()
	var got Request
	mux.RegisterFunc(ActionCreateGroup, func(_ context.Context, req Request) Response {
		got = req
		return OK
	})

	resp := mux.Handle(context.Background(), CreateGroup{GroupName: "Work"})
	assert.Equal(t, OK, resp)
	assert.Equal(t, CreateGroup{GroupName: "Work"}, got)
}

func TestMuxUnknownAction(t *testing.T) {
	mux := NewMux()
	mux.RegisterFunc(ActionGetGroups, func(context.Context, Request) Response { return GroupsResult{} })

	assert.Equal(t, ErrorResult{Message: UnknownAction}, mux.Handle(context.Background(), Unknown{Name: "nope"}))
	// Known action with no handler registered on this surface.
	assert.Equal(t, ErrorResult{Message: UnknownAction}, mux.Handle(context.Background(), PromptGroupName{}))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(OK))
	assert.Equal(t, "declined", Outcome(Declined("x")))
	assert.Equal(t, "cancelled", Outcome(GroupNameResult{Cancelled: true}))
	assert.Equal(t, "error", Outcome(ErrorResult{}))
}
