package github

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSignature(t *testing.T) {
	payload := []byte(`{"zen":"Keep it logically awesome."}`)
	secret := "It's a Secret to Everybody"

	good := Sign(payload, secret)
	assert.True(t, ValidateSignature(payload, good, secret))
	assert.False(t, ValidateSignature(payload, good, "other"))
	assert.False(t, ValidateSignature([]byte(`{}`), good, secret))
	assert.False(t, ValidateSignature(payload, "", secret))
	assert.False(t, ValidateSignature(payload, good, ""))
	assert.False(t, ValidateSignature(payload, "md5=abc", secret))
	assert.False(t, ValidateSignature(payload, "sha1=0000", secret))
}

func TestParseWebhookEvent_Push(t *testing.T) {
	payload := []byte(`{
		"ref": "refs/heads/main",
		"after": "deadbeef",
		"repository": {"name": "site", "full_name": "acme/site", "default_branch": "main", "owner": {"name": "acme"}},
		"commits": [{"id": "a"}, {"id": "b"}],
		"head_commit": {"id": "b"},
		"pusher": {"name": "dev"}
	}`)

	ev, err := ParseWebhookEvent(EventPush, payload)
	require.NoError(t, err)
	assert.Equal(t, "acme", ev.Owner)
	assert.Equal(t, "site", ev.Repo)
	assert.Equal(t, 2, ev.Commits)
	assert.Equal(t, "b", ev.HeadSHA)

	n := ev.PushNotice()
	assert.Equal(t, "refs/heads/main", n.Ref)
	assert.Equal(t, "main", n.DefaultBranch)
}

func TestParseWebhookEvent_RepositoryRenamed(t *testing.T) {
	payload := []byte(`{
		"action": "renamed",
		"repository": {"name": "new-site", "full_name": "acme/new-site", "owner": {"login": "acme"}},
		"changes": {"repository": {"name": {"from": "site"}}}
	}`)

	ev, err := ParseWebhookEvent(EventRepository, payload)
	require.NoError(t, err)
	n := ev.RepositoryNotice()
	assert.Equal(t, "renamed", n.Action)
	assert.Equal(t, "site", n.PrevName)
	assert.Equal(t, "new-site", n.Repo)
}

func TestParseWebhookEvent_Errors(t *testing.T) {
	_, err := ParseWebhookEvent(EventPush, []byte(`{not json`))
	var pe *PayloadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, EventPush, pe.Event)

	_, err = ParseWebhookEvent(EventRepository, []byte(`{"action":"deleted"}`))
	require.ErrorAs(t, err, &pe)

	_, err = ParseWebhookEvent("issues", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnsupportedEvent))

	ev, err := ParseWebhookEvent(EventPing, []byte(`{"zen":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, EventPing, ev.Type)
}
