package cdp

import (
	"testing"

	"cdpintercept/internal/interception"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPausedRequest(t *testing.T) {
	netID := network.RequestID("L-42")
	pd := `{"a":1}`
	ev := &fetch.RequestPausedReply{
		RequestID:    fetch.RequestID("interception-job-7.0"),
		ResourceType: network.ResourceType("Document"),
		Request: network.Request{
			URL:      "https://example.com/login?next=%2Fhome",
			Method:   "POST",
			Headers:  network.Headers(`{"Content-Type":"application/json","Cookie":"sid=abc; theme=dark"}`),
			PostData: &pd,
		},
		NetworkID: &netID,
	}

	p := ToPausedRequest(ev, "L-42")
	assert.Equal(t, "interception-job-7.0", p.InterceptionID)
	assert.Equal(t, "L-42", p.RequestID)
	assert.True(t, p.IsNavigation())
	assert.Equal(t, "application/json", p.Headers["content-type"])
	require.NotNil(t, p.PostData)
	assert.Equal(t, pd, *p.PostData)

	p2 := ToPausedRequest(ev, "")
	assert.False(t, p2.IsNavigation())
}

func TestToNeutralRequest(t *testing.T) {
	pd := "q=1"
	r := interception.New(nil, interception.PausedRequest{
		InterceptionID: "i-1",
		URL:            "https://example.com/search?Q=go&page=2",
		Method:         "GET",
		ResourceType:   "XHR",
		Headers:        map[string]string{"Cookie": "SID=abc; theme=dark"},
		PostData:       &pd,
	}, true)

	req := ToNeutralRequest(r)
	assert.Equal(t, "i-1", req.ID)
	assert.Equal(t, "go", req.Query["q"])
	assert.Equal(t, "2", req.Query["page"])
	assert.Equal(t, "abc", req.Cookies["sid"])
	assert.Equal(t, "dark", req.Cookies["theme"])
	assert.Equal(t, []byte("q=1"), req.Body)
	assert.False(t, req.IsNavigation)
}

func TestRedirectedFrom(t *testing.T) {
	_, ok := RedirectedFrom(&fetch.RequestPausedReply{})
	assert.False(t, ok)

	prev := fetch.RequestID("interception-job-1.0")
	id, ok := RedirectedFrom(&fetch.RequestPausedReply{RedirectedRequestID: &prev})
	assert.True(t, ok)
	assert.Equal(t, "interception-job-1.0", id)
}
