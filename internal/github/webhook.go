package github

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // legacy X-Hub-Signature header
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"

	"git.home.luguber.info/inful/protohost/internal/prototype"
)

// Webhook event names as sent in X-GitHub-Event.
const (
	EventPush       = "push"
	EventRepository = "repository"
	EventPing       = "ping"
)

// ErrUnsupportedEvent is returned for event types the service does not handle.
var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// PayloadError reports a webhook body that could not be decoded.
type PayloadError struct {
	Event string
	Err   error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Event, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// WebhookEvent is a parsed delivery.
type WebhookEvent struct {
	Type          string
	Owner         string
	Repo          string
	FullName      string
	Ref           string
	DefaultBranch string
	HeadSHA       string
	Commits       int
	Pusher        string
	Action        string
	PrevName      string
}

// PushNotice converts a push event for the prototype service.
func (e *WebhookEvent) PushNotice() prototype.PushNotice {
	return prototype.PushNotice{
		Owner:         e.Owner,
		Repo:          e.Repo,
		Ref:           e.Ref,
		DefaultBranch: e.DefaultBranch,
		HeadSHA:       e.HeadSHA,
		Commits:       e.Commits,
	}
}

// RepositoryNotice converts a repository event for the prototype service.
func (e *WebhookEvent) RepositoryNotice() prototype.RepositoryNotice {
	return prototype.RepositoryNotice{Action: e.Action, Owner: e.Owner, Repo: e.Repo, PrevName: e.PrevName}
}

// ValidateSignature checks an X-Hub-Signature-256 (sha256=) or legacy
// X-Hub-Signature (sha1=) header against payload.
func ValidateSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	var (
		newHash  func() hash.Hash
		expected string
	)
	switch {
	case strings.HasPrefix(signature, "sha256="):
		newHash, expected = sha256.New, strings.TrimPrefix(signature, "sha256=")
	case strings.HasPrefix(signature, "sha1="):
		newHash, expected = sha1.New, strings.TrimPrefix(signature, "sha1=")
	default:
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	calc := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(calc))
}

// Sign returns the sha256= signature GitHub would send for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type wireRepository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Owner         struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	} `json:"owner"`
}

func (r *wireRepository) ownerLogin() string {
	if r.Owner.Login != "" {
		return r.Owner.Login
	}
	if r.Owner.Name != "" {
		return r.Owner.Name
	}
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

type pushPayload struct {
	Ref        string          `json:"ref"`
	After      string          `json:"after"`
	Repository *wireRepository `json:"repository"`
	Commits    []struct {
		ID string `json:"id"`
	} `json:"commits"`
	HeadCommit *struct {
		ID string `json:"id"`
	} `json:"head_commit"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

type repositoryPayload struct {
	Action     string          `json:"action"`
	Repository *wireRepository `json:"repository"`
	Changes    struct {
		Repository struct {
			Name struct {
				From string `json:"from"`
			} `json:"name"`
		} `json:"repository"`
	} `json:"changes"`
}

// ParseWebhookEvent decodes a delivery by its X-GitHub-Event type.
func ParseWebhookEvent(eventType string, payload []byte) (*WebhookEvent, error) {
	switch eventType {
	case EventPush:
		return parsePush(payload)
	case EventRepository:
		return parseRepository(payload)
	case EventPing:
		return &WebhookEvent{Type: EventPing}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
}

func parsePush(payload []byte) (*WebhookEvent, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &PayloadError{Event: EventPush, Err: err}
	}
	if p.Repository == nil {
		return nil, &PayloadError{Event: EventPush, Err: errors.New("missing repository")}
	}
	head := p.After
	if p.HeadCommit != nil && p.HeadCommit.ID != "" {
		head = p.HeadCommit.ID
	}
	return &WebhookEvent{
		Type:          EventPush,
		Owner:         p.Repository.ownerLogin(),
		Repo:          p.Repository.Name,
		FullName:      p.Repository.FullName,
		Ref:           p.Ref,
		DefaultBranch: p.Repository.DefaultBranch,
		HeadSHA:       head,
		Commits:       len(p.Commits),
		Pusher:        p.Pusher.Name,
	}, nil
}

func parseRepository(payload []byte) (*WebhookEvent, error) {
	var p repositoryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &PayloadError{Event: EventRepository, Err: err}
	}
	if p.Repository == nil {
		return nil, &PayloadError{Event: EventRepository, Err: errors.New("missing repository")}
	}
	return &WebhookEvent{
		Type:          EventRepository,
		Owner:         p.Repository.ownerLogin(),
		Repo:          p.Repository.Name,
		FullName:      p.Repository.FullName,
		DefaultBranch: p.Repository.DefaultBranch,
		Action:        p.Action,
		PrevName:      p.Changes.Repository.Name.From,
	}, nil
}
