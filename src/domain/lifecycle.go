package domain

import (
	"time"
)

type Event string

const (
	EventCreate                 Event = "create"
	EventProviderRequiresMethod Event = "providerRequiresMethod"
	EventProviderProcessing     Event = "providerProcessing"
	EventProviderSucceeded      Event = "providerSucceeded"
	EventProviderFailed         Event = "providerFailed"
	EventDemoAuthorizeApprove   Event = "demoAuthorizeApprove"
	EventDemoAuthorizeDecline   Event = "demoAuthorizeDecline"
	EventDemoCancel             Event = "demoCancel"
	EventRefund                 Event = "refund"

	// EventReroute never changes an intent; it only names the rejected action.
	EventReroute Event = "reroute"
)

func ParseEvent(s string) (Event, bool) {
	switch e := Event(s); e {
	case EventProviderRequiresMethod, EventProviderProcessing, EventProviderSucceeded,
		EventProviderFailed, EventRefund:
		return e, true
	}
	return "", false
}

// strict events fail instead of no-op when the target status is already reached.
func (e Event) strict() bool {
	switch e {
	case EventDemoAuthorizeApprove, EventDemoAuthorizeDecline, EventDemoCancel:
		return true
	}
	return false
}

var open = []Status{StatusCreated, StatusRequiresPaymentMethod, StatusProcessing}

type rule struct {
	from []Status
	to   Status
}

var transitions = map[Event][]rule{
	EventCreate:                 {{from: []Status{""}, to: StatusCreated}},
	EventProviderRequiresMethod: {{from: []Status{StatusCreated}, to: StatusRequiresPaymentMethod}},
	EventProviderProcessing:     {{from: []Status{StatusCreated, StatusRequiresPaymentMethod}, to: StatusProcessing}},
	EventProviderSucceeded:      {{from: open, to: StatusSucceeded}},
	EventProviderFailed:         {{from: open, to: StatusFailed}},
	EventDemoAuthorizeApprove:   {{from: open, to: StatusSucceeded}},
	EventDemoAuthorizeDecline:   {{from: open, to: StatusFailed}},
	EventDemoCancel: {
		{from: open, to: StatusFailed},
		{from: []Status{StatusSucceeded}, to: StatusRefunded},
	},
	EventRefund: {{from: []Status{StatusSucceeded}, to: StatusRefunded}},
}

// Transition applies event to intent. changed is false when the event was a
// tolerated redelivery that leaves the intent untouched.
func Transition(intent PaymentIntent, event Event, now time.Time) (next PaymentIntent, changed bool, err error) {
	rules, ok := transitions[event]
	if !ok {
		return intent, false, &IllegalTransitionError{From: intent.Status, Event: event}
	}

	for _, r := range rules {
		if contains(r.from, intent.Status) {
			next = intent
			next.Status = r.to
			next.UpdatedAt = now
			next.Version++
			return next, true, nil
		}
	}

	if !event.strict() {
		for _, r := range rules {
			if r.to == intent.Status {
				return intent, false, nil
			}
		}
	}

	return intent, false, &IllegalTransitionError{From: intent.Status, Event: event}
}

func contains(statuses []Status, s Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
