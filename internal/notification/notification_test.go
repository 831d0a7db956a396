package notification

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSlackMessage(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	msg := buildSlackMessage(errors.New("store unreachable"), map[string]string{
		"kind":     "payments",
		"batch_id": "imp_1",
	}, at)

	require.Len(t, msg.Blocks, 5)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Equal(t, "*Error:*\nstore unreachable", msg.Blocks[1].Fields[0].Text)
	assert.Equal(t, "*batch_id:*\nimp_1", msg.Blocks[2].Fields[0].Text)
	assert.Equal(t, "*kind:*\npayments", msg.Blocks[3].Fields[0].Text)
	assert.Contains(t, msg.Blocks[4].Fields[0].Text, "15 Mar 24")
}

func TestSlackNotification(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var received slackMessage
	httpmock.RegisterResponder("POST", "https://hooks.slack.test/T000",
		func(req *http.Request) (*http.Response, error) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(body, &received); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	err := SlackNotification("https://hooks.slack.test/T000", errors.New("boom"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	require.Len(t, received.Blocks, 3)
	assert.Equal(t, "*Error:*\nboom", received.Blocks[1].Fields[0].Text)
}

func TestSlackNotification_ServerError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.slack.test/T000",
		httpmock.NewStringResponder(500, "invalid_token"))

	err := SlackNotification("https://hooks.slack.test/T000", errors.New("boom"), nil)
	assert.EqualError(t, err, "request failed with status 500: invalid_token")
}
