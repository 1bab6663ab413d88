package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-router/internal/common/logging"
	"mail-router/internal/notifier"
	"mail-router/internal/routing"
)

type fakeProvider struct {
	ruleSet *routing.RuleSet
	err     error
	flushes atomic.Int32
}

func (p *fakeProvider) Load(ctx context.Context, orgID, domainID string, dir routing.Direction) (*routing.RuleSet, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.ruleSet, nil
}

func (p *fakeProvider) Invalidate(ctx context.Context, orgID, domainID string) {}

func (p *fakeProvider) Flush(ctx context.Context) { p.flushes.Add(1) }

func rejectSpamRule() *routing.Rule {
	return &routing.Rule{
		ID:             "r-spam",
		Name:           "reject spam folder bait",
		Scope:          routing.ScopeDomain,
		DomainID:       "dom-1",
		Priority:       10,
		IsActive:       true,
		ApplyToInbound: true,
		MatchMode:      routing.MatchAny,
		Conditions: []routing.Condition{{
			Field:           routing.FieldSubject,
			Operator:        routing.OpContains,
			Value:           "free gift",
			CaseInsensitive: true,
		}},
		Action:        routing.ActionReject,
		ActionDetails: routing.ActionDetails{RejectMessage: "rejected by policy"},
	}
}

func newTestHandlers(t *testing.T, provider routing.RuleSetProvider, checks map[string]HealthChecker) *Handlers {
	t.Helper()
	logger := logging.NewNop()
	engine := routing.NewEngine(provider, nil, logger, routing.DefaultEngineConfig())
	n := notifier.New(notifier.Config{Timeout: time.Second, MaxAttempts: 1}, logger)
	return New(engine, provider, n, logger, checks)
}

func providerWith(rules ...*routing.Rule) *fakeProvider {
	rs := &routing.RuleSet{}
	for _, r := range rules {
		rs.Domain = append(rs.Domain, routing.CompileRule(r, logging.NewNop()))
	}
	return &fakeProvider{ruleSet: rs}
}

func inboundContext() *routing.MessageContext {
	return &routing.MessageContext{
		MessageID:      "<msg-1@example.com>",
		OrganizationID: "org-1",
		DomainID:       "dom-1",
		Direction:      routing.DirectionInbound,
		Sender:         "spammer@junk.test",
		Recipients:     []string{"bob@corp.test"},
		Subject:        "Get your FREE GIFT now",
	}
}

func TestEvaluate(t *testing.T) {
	h := newTestHandlers(t, providerWith(rejectSpamRule()), nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	body, err := json.Marshal(inboundContext())
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/evaluate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision routing.RoutingDecision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, routing.DispositionReject, decision.Disposition)
	assert.Equal(t, "rejected by policy", decision.RejectMessage)
	assert.Len(t, decision.AppliedActions, 1)
}

func TestEvaluateBadRequests(t *testing.T) {
	h := newTestHandlers(t, providerWith(), nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing scope", `{"direction":"inbound","sender":"a@b.c"}`},
		{"bad direction", `{"organizationId":"org-1","domainId":"dom-1","direction":"sideways"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/evaluate", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestEvaluateRaw(t *testing.T) {
	h := newTestHandlers(t, providerWith(rejectSpamRule()), nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	raw := strings.Join([]string{
		"From: spammer@junk.test",
		"To: bob@corp.test",
		"Subject: FREE GIFT inside",
		"Content-Type: text/plain",
		"",
		"Click here.",
		"",
	}, "\r\n")

	url := srv.URL + "/api/evaluate/raw?organizationId=org-1&domainId=dom-1&direction=inbound"
	resp, err := http.Post(url, "message/rfc822", strings.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision routing.RoutingDecision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, routing.DispositionReject, decision.Disposition)
}

func TestEvaluateRawBadRequests(t *testing.T) {
	h := newTestHandlers(t, providerWith(), nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	t.Run("missing scope", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/evaluate/raw?direction=inbound", "message/rfc822", strings.NewReader("From: a@b.c\r\n\r\n"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unparseable body", func(t *testing.T) {
		url := srv.URL + "/api/evaluate/raw?organizationId=org-1&domainId=dom-1&direction=inbound"
		resp, err := http.Post(url, "message/rfc822", strings.NewReader("not a message"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestEvaluateDispatchesWebhooks(t *testing.T) {
	received := make(chan struct{}, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer hookSrv.Close()

	rule := rejectSpamRule()
	rule.Action = routing.ActionNotify
	rule.ActionDetails = routing.ActionDetails{WebhookURL: hookSrv.URL}

	h := newTestHandlers(t, providerWith(rule), nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	body, err := json.Marshal(inboundContext())
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/evaluate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not dispatched")
	}
}

func TestGetRules(t *testing.T) {
	h := newTestHandlers(t, providerWith(rejectSpamRule()), nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/rules?organizationId=org-1&domainId=dom-1&direction=inbound")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rules []*routing.Rule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "r-spam", rules[0].ID)
}

func TestGetRulesUnavailable(t *testing.T) {
	provider := &fakeProvider{err: routing.ErrRuleSetUnavailable}
	h := newTestHandlers(t, provider, nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/rules?organizationId=org-1&domainId=dom-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFlushCache(t *testing.T) {
	provider := providerWith()
	h := newTestHandlers(t, provider, nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/cache/flush", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), provider.flushes.Load())
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		checks := map[string]HealthChecker{
			"postgres": func() error { return nil },
		}
		h := newTestHandlers(t, providerWith(), checks)
		srv := httptest.NewServer(h.Router())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("dependency down", func(t *testing.T) {
		checks := map[string]HealthChecker{
			"redis": func() error { return errors.New("connection refused") },
		}
		h := newTestHandlers(t, providerWith(), checks)
		srv := httptest.NewServer(h.Router())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}
