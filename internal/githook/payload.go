// Package githook provides a read-only view of the GitHub push webhook
// payload and the request headers that accompany it. The engine never
// mutates a payload; one is constructed per inbound request and discarded
// after handling.
package githook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Header names and shapes used by GitHub webhook deliveries.
const (
	EventHeader     = "X-GitHub-Event"
	SignatureHeader = "X-Hub-Signature"
	DeliveryHeader  = "X-GitHub-Delivery"

	// UserAgentPrefix is the fixed prefix of GitHub's hook delivery agent.
	UserAgentPrefix = "GitHub-Hookshot/"

	branchRefPrefix = "refs/heads/"
	tagRefPrefix    = "refs/tags/"
)

// Author identifies the author of a commit.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit is a single commit carried in a push payload.
type Commit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Author  Author `json:"author"`
}

// Pusher identifies who performed the push.
type Pusher struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PushPayload is the subset of GitHub's push event payload the engine
// inspects.
type PushPayload struct {
	Ref        string   `json:"ref"`
	BaseRef    string   `json:"base_ref"`
	Created    bool     `json:"created"`
	Deleted    bool     `json:"deleted"`
	Pusher     Pusher   `json:"pusher"`
	Commits    []Commit `json:"commits"`
	HeadCommit *Commit  `json:"head_commit"`
}

// Parse decodes a push payload from a raw request body.
func Parse(body []byte) (*PushPayload, error) {
	var p PushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse push payload: %w", err)
	}
	return &p, nil
}

// Branch resolves the branch name this push targets. base_ref is preferred
// over ref (a tag push carries the source branch there). The refs/heads/
// prefix is stripped and the result trimmed. Returns false when neither
// field is present.
func (p *PushPayload) Branch() (string, bool) {
	ref := p.BaseRef
	if ref == "" {
		ref = p.Ref
	}
	if ref == "" {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(ref, branchRefPrefix)), true
}

// IsTag reports whether the pushed ref points at a tag.
func (p *PushPayload) IsTag() bool {
	return strings.HasPrefix(p.Ref, tagRefPrefix)
}

// InspectCommit returns the commit whose message relevance filters should
// inspect: head_commit when present, otherwise the first listed commit.
// Returns nil when the payload carries no commits at all.
func (p *PushPayload) InspectCommit() *Commit {
	if p.HeadCommit != nil {
		return p.HeadCommit
	}
	if len(p.Commits) > 0 {
		return &p.Commits[0]
	}
	return nil
}
