package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"assist-chat/search"
	"assist-chat/widget"
)

type testConversationSuite struct {
	BaseChatSuite
}

func TestConversationSuite(t *testing.T) {
	suite.Run(t, &testConversationSuite{})
}

func (s *testConversationSuite) TestVisitorConversationLifecycle() {
	identityDir := s.T().TempDir()

	s.Step("Open the widget and reach the active state")
	w := s.NewWidget(identityDir)
	s.Require().NoError(w.Open())
	s.WaitFor(w, func(snap widget.Snapshot) bool { return snap.State == widget.StateActive })
	conversationID := w.Snapshot().ConversationID
	s.Require().NotEmpty(conversationID)

	s.Step("Send a message and receive the confirmed echo")
	s.Require().NoError(w.Send("my laptop will not boot"))
	s.WaitFor(w, func(snap widget.Snapshot) bool {
		return len(snap.Messages) == 1 && !snap.Messages[0].Pending
	})
	echoed := w.Snapshot().Messages[0]
	s.Require().Equal("my laptop will not boot", echoed.Text)
	s.Require().Equal("visitor", echoed.Sender)

	s.Step("Restart the widget and resume the same conversation with history")
	w.Shutdown()
	resumed := s.NewWidget(identityDir)
	defer resumed.Shutdown()
	s.Require().NoError(resumed.Open())
	s.WaitFor(resumed, func(snap widget.Snapshot) bool {
		return snap.State == widget.StateActive && len(snap.Messages) == 1
	})
	s.Require().Equal(conversationID, resumed.Snapshot().ConversationID)
	s.Require().Equal(echoed.ID, resumed.Snapshot().Messages[0].ID)
}

func (s *testConversationSuite) TestModerationAppliesOnTheWire() {
	w := s.NewWidget(s.T().TempDir())
	defer w.Shutdown()
	s.Require().NoError(w.Open())
	s.WaitFor(w, func(snap widget.Snapshot) bool { return snap.State == widget.StateActive })

	s.Require().NoError(w.Send("this damn phone again"))
	s.WaitFor(w, func(snap widget.Snapshot) bool {
		return len(snap.Messages) == 1 && !snap.Messages[0].Pending
	})
	s.Require().Equal("this **** phone again", w.Snapshot().Messages[0].Text)
}

func (s *testConversationSuite) TestAdminSearchOverRest() {
	s.Step("A visitor leaves a searchable message")
	w := s.NewWidget(s.T().TempDir())
	defer w.Shutdown()
	s.Require().NoError(w.Open())
	s.WaitFor(w, func(snap widget.Snapshot) bool { return snap.State == widget.StateActive })
	s.Require().NoError(w.Send("the espresso machine leaks everywhere"))
	s.WaitFor(w, func(snap widget.Snapshot) bool {
		return len(snap.Messages) == 1 && !snap.Messages[0].Pending
	})

	s.Step("The agent logs in")
	body, err := json.Marshal(map[string]string{
		"email":    s.Config.AdminEmail,
		"password": s.Config.AdminSecret,
	})
	s.Require().NoError(err)
	resp, err := http.Post(s.server.URL+"/admin/login", "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var login map[string]string
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&login))
	token := login["token"]
	s.Require().NotEmpty(token)

	s.Step("The agent finds the message through the search index")
	s.Require().Eventually(func() bool {
		endpoint := fmt.Sprintf("%s/admin/search?q=%s", s.server.URL, url.QueryEscape("espresso"))
		req, err := http.NewRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return false
		}
		req.Header.Set("Authorization", "Bearer "+token)
		searchResp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer searchResp.Body.Close()
		if searchResp.StatusCode != http.StatusOK {
			return false
		}
		var hits []search.Hit
		if err := json.NewDecoder(searchResp.Body).Decode(&hits); err != nil {
			return false
		}
		return len(hits) == 1 && hits[0].Text == "the espresso machine leaks everywhere"
	}, 5*time.Second, 50*time.Millisecond)
}
