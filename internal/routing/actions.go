package routing

import (
	"sort"
)

// decisionState accumulates the effects of matched rules during one
// evaluation run. Mutations are collected rather than applied, so every
// condition in the run sees the original, unmutated message.
type decisionState struct {
	decision *RoutingDecision
	// halted is set by stopProcessing rules and by the implicit halt of
	// reject/quarantine.
	halted bool
}

func newDecisionState(msg *MessageContext) *decisionState {
	return &decisionState{
		decision: &RoutingDecision{
			MessageID:      msg.MessageID,
			Direction:      msg.Direction,
			Disposition:    DispositionDeliver,
			AppliedActions: make([]AppliedAction, 0, 4),
		},
	}
}

// apply folds one matched rule into the decision. Each action type has a
// fixed effect; terminal actions set the disposition with last-wins
// semantics, reject and quarantine additionally halt the run even when
// stopProcessing is false (a message cannot be both rejected and delivered).
func (s *decisionState) apply(rule *Rule) {
	d := s.decision
	details := rule.ActionDetails

	applied := AppliedAction{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Action:   rule.Action,
	}

	switch rule.Action {
	case ActionContinue:
		// Informational only; later rules still run.

	case ActionDeliver:
		d.Disposition = DispositionDeliver
		d.Folder = ""

	case ActionDeliverFolder:
		d.Disposition = DispositionDeliver
		d.Folder = details.Folder

	case ActionForward:
		d.ForwardTo = append(d.ForwardTo, details.ForwardAddresses...)

	case ActionAddBCC:
		d.BCC = append(d.BCC, details.BCCAddresses...)

	case ActionRedirect:
		if details.RedirectAddress != "" {
			d.RedirectTo = append(d.RedirectTo, details.RedirectAddress)
		}

	case ActionReject:
		d.Disposition = DispositionReject
		d.RejectMessage = details.RejectMessage
		s.halted = true

	case ActionQuarantine:
		d.Disposition = DispositionQuarantine
		d.QuarantineReason = details.QuarantineReason
		s.halted = true

	case ActionDelay:
		// Non-halting disposition marker: headers and labels from later
		// rules can still be added before the caller re-submits.
		d.Disposition = DispositionDelay
		d.DelaySeconds = details.DelaySeconds

	case ActionAddHeader:
		applied.Mutated = true
		// Header maps are unordered; sort keys so identical inputs always
		// yield identical mutation lists.
		names := make([]string, 0, len(details.Headers))
		for name := range details.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d.Mutations = append(d.Mutations, Mutation{
				Kind:        MutationAddHeader,
				RuleID:      rule.ID,
				HeaderName:  name,
				HeaderValue: details.Headers[name],
			})
		}

	case ActionRemoveHeader:
		applied.Mutated = true
		for _, name := range details.HeaderNames {
			d.Mutations = append(d.Mutations, Mutation{
				Kind:       MutationRemoveHeader,
				RuleID:     rule.ID,
				HeaderName: name,
			})
		}

	case ActionModifySubject:
		applied.Mutated = true
		d.Mutations = append(d.Mutations, Mutation{
			Kind:          MutationModifySubject,
			RuleID:        rule.ID,
			SubjectPrefix: details.SubjectPrefix,
			SubjectSuffix: details.SubjectSuffix,
		})

	case ActionAddLabel:
		applied.Mutated = true
		d.Mutations = append(d.Mutations, Mutation{
			Kind:    MutationAddLabel,
			RuleID:  rule.ID,
			LabelID: details.LabelID,
		})

	case ActionAddDisclaimer:
		applied.Mutated = true
		d.Mutations = append(d.Mutations, Mutation{
			Kind:       MutationAddDisclaimer,
			RuleID:     rule.ID,
			FooterText: details.FooterText,
			FooterHTML: details.FooterHTML,
		})

	case ActionNotify:
		applied.SideEffect = true
		d.Webhooks = append(d.Webhooks, WebhookRequest{
			RuleID:          rule.ID,
			URL:             details.WebhookURL,
			PayloadTemplate: details.WebhookPayload,
		})
	}

	d.AppliedActions = append(d.AppliedActions, applied)

	if rule.StopProcessing {
		s.halted = true
	}
}
