// Package validate implements the ordered request validation pipeline.
//
// Check ordering is user-visible behavior and deliberate: cheap structural
// checks reject malformed traffic first, relevance filters answer before
// any authentication work so that irrelevant-but-unauthenticated traffic is
// answered identically (200) to irrelevant-authenticated traffic, and hard
// authentication (token, signature) runs only for relevant deliveries.
package validate

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/hookworks/deploygate/internal/config"
	"github.com/hookworks/deploygate/internal/githook"
	"github.com/hookworks/deploygate/internal/signature"
)

// Request is the validator's view of one inbound delivery.
type Request struct {
	Method    string
	UserAgent string
	Event     string
	Signature string
	Token     string
	Body      []byte
	Payload   *githook.PushPayload
}

// Result is the outcome of validation. Accepted means commands may run.
// A non-accepted Result carries the HTTP status to answer with; Reason is
// the response body for structural (400) and authentication (401)
// rejections and empty for soft ignores, which answer 200 with no body.
// Detail explains soft ignores for logging only.
type Result struct {
	Accepted bool
	Status   int
	Reason   string
	Detail   string
}

// Soft reports whether the result is a relevance-filter ignore rather than
// an error: answered 200, nothing runs, no lifecycle notification fires.
func (r Result) Soft() bool {
	return !r.Accepted && r.Status == http.StatusOK
}

// Validator applies the validation pipeline against one immutable
// HookConfig.
type Validator struct {
	hook         *config.HookConfig
	pusherIgnore *regexp.Regexp
	commitIgnore *regexp.Regexp
}

// New compiles the configured ignore patterns and returns a Validator.
func New(hook *config.HookConfig) (*Validator, error) {
	v := &Validator{hook: hook}

	var err error
	if v.pusherIgnore, err = compileIgnore(hook.PusherIgnore); err != nil {
		return nil, fmt.Errorf("pusher_ignore: %w", err)
	}
	if v.commitIgnore, err = compileIgnore(hook.CommitIgnore); err != nil {
		return nil, fmt.Errorf("commit_ignore: %w", err)
	}
	return v, nil
}

func compileIgnore(pattern *string) (*regexp.Regexp, error) {
	if pattern == nil || *pattern == "" {
		return nil, nil
	}
	return regexp.Compile(*pattern)
}

// Validate runs the ordered checks, short-circuiting on the first failure.
func (v *Validator) Validate(req *Request) Result {
	// Structural checks (cheap, answer 400).
	if req.Method != http.MethodPost {
		return reject(http.StatusBadRequest, "invalid request method")
	}
	if req.UserAgent == "" {
		return reject(http.StatusBadRequest, "missing user agent header")
	}
	if !strings.HasPrefix(req.UserAgent, githook.UserAgentPrefix) {
		return reject(http.StatusBadRequest, "invalid user agent")
	}
	if req.Signature == "" {
		return reject(http.StatusBadRequest, "missing request signature")
	}
	if req.Event == "" {
		return reject(http.StatusBadRequest, "missing event")
	}
	if len(req.Body) == 0 {
		return reject(http.StatusBadRequest, "missing body")
	}

	// Relevance filters (soft, answer 200, nothing runs).
	payload := req.Payload
	if payload == nil {
		payload = &githook.PushPayload{}
	}

	if !v.eventAccepted(req.Event) {
		return ignore(fmt.Sprintf("event %q not configured", req.Event))
	}
	if ok, detail := v.refAccepted(payload); !ok {
		return ignore(detail)
	}
	if v.pusherIgnore != nil && payload.Pusher.Name != "" && v.pusherIgnore.MatchString(payload.Pusher.Name) {
		return ignore(fmt.Sprintf("pusher %q matches ignore pattern", payload.Pusher.Name))
	}
	if v.commitIgnore != nil {
		if c := payload.InspectCommit(); c != nil && v.commitIgnore.MatchString(c.Message) {
			return ignore(fmt.Sprintf("commit %s matches ignore pattern", c.ID))
		}
	}

	// Hard authentication (answer 401), evaluated only for relevant
	// deliveries.
	if v.hook.Token != "" && !constantTimeEqual(req.Token, v.hook.Token) {
		return reject(http.StatusUnauthorized, "invalid token")
	}
	if v.hook.Secret != "" && !signature.Verify(req.Body, v.hook.Secret, req.Signature) {
		return reject(http.StatusUnauthorized, "invalid signature")
	}

	return Result{Accepted: true, Status: http.StatusOK}
}

func (v *Validator) eventAccepted(event string) bool {
	events := v.hook.Events
	if len(events) == 0 {
		return false
	}
	if events[0] == "*" {
		return true
	}
	return slices.Contains(events, event)
}

func (v *Validator) refAccepted(p *githook.PushPayload) (bool, string) {
	branches := v.hook.Branches
	if len(branches) > 0 && branches[0] == "*" {
		return true, ""
	}
	if v.hook.OnlyTags && !p.IsTag() {
		return false, fmt.Sprintf("ref %q is not a tag", p.Ref)
	}

	branch, ok := p.Branch()
	if !ok {
		return false, "payload carries no ref"
	}
	if !slices.Contains(branches, branch) {
		return false, fmt.Sprintf("branch %q not configured", branch)
	}
	return true, ""
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func reject(status int, reason string) Result {
	return Result{Status: status, Reason: reason, Detail: reason}
}

func ignore(detail string) Result {
	return Result{Status: http.StatusOK, Detail: detail}
}
