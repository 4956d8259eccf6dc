package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"disputeflow/coordinator"
	"disputeflow/dispute"
)

type inspectView struct {
	CaseID         string            `json:"case_id"`
	DisputeID      string            `json:"dispute_id"`
	Phase          string            `json:"phase"`
	Version        int64             `json:"version"`
	DisputedAmount string            `json:"disputed_amount"`
	ContestReason  string            `json:"contest_reason"`
	CanEscalate    bool              `json:"can_escalate"`
	Outcome        string            `json:"outcome,omitempty"`
	AsOf           time.Time         `json:"as_of"`
	AllowedNext    []string          `json:"allowed_next"`
	Deadline       *deadlineView     `json:"deadline,omitempty"`
	Arbitrations   []arbitrationView `json:"arbitrations"`
	Appealable     bool              `json:"appealable"`
	Allocation     *allocationView   `json:"allocation,omitempty"`
	Events         []eventView       `json:"events"`
}

type deadlineView struct {
	Phase              string    `json:"phase"`
	Status             string    `json:"status"`
	DueAt              time.Time `json:"due_at"`
	RemainingDays      int       `json:"remaining_days"`
	RemainingHours     int       `json:"remaining_hours"`
	Overdue            bool      `json:"overdue"`
	ElapsedPercentage  float64   `json:"elapsed_percentage"`
	Urgency            string    `json:"urgency"`
	NeedsAttention     bool      `json:"needs_attention"`
	ExtensionDaysTotal int       `json:"extension_days_total"`
}

type arbitrationView struct {
	ID             string     `json:"id"`
	RequestedBy    string     `json:"requested_by"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	Decision       string     `json:"decision,omitempty"`
	FeeRule        string     `json:"fee_rule,omitempty"`
	Cost           string     `json:"cost"`
	RequestedAt    time.Time  `json:"requested_at"`
	AppealDeadline *time.Time `json:"appeal_deadline,omitempty"`
}

type allocationView struct {
	Payer    string `json:"payer"`
	Issuer   string `json:"issuer"`
	Acquirer string `json:"acquirer"`
}

type eventView struct {
	Kind    string         `json:"kind"`
	Version int64          `json:"version"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

func newInspectView(st coordinator.CaseStatus, events []dispute.Event) inspectView {
	c := st.Case
	v := inspectView{
		CaseID:         c.ID,
		DisputeID:      c.DisputeID,
		Phase:          string(c.Phase),
		Version:        c.Version,
		DisputedAmount: c.DisputedAmount.StringFixed(2),
		ContestReason:  c.ContestReason,
		CanEscalate:    c.CanEscalate,
		Outcome:        string(c.Outcome),
		AsOf:           st.AsOf,
		AllowedNext:    make([]string, 0, len(st.AllowedNext)),
		Arbitrations:   make([]arbitrationView, 0, len(c.Arbitrations)),
		Appealable:     st.Appealable,
		Events:         make([]eventView, 0, len(events)),
	}
	for _, p := range st.AllowedNext {
		v.AllowedNext = append(v.AllowedNext, string(p))
	}
	if d := st.Deadline; d != nil {
		v.Deadline = &deadlineView{
			Phase:              string(d.Phase),
			Status:             string(d.Status),
			DueAt:              d.DueAt,
			RemainingDays:      d.Remaining.Days,
			RemainingHours:     d.Remaining.Hours,
			Overdue:            d.Remaining.Overdue,
			ElapsedPercentage:  d.ElapsedPercentage,
			Urgency:            string(d.Urgency),
			NeedsAttention:     d.NeedsAttention,
			ExtensionDaysTotal: d.ExtensionDaysTotal,
		}
	}
	for _, a := range c.Arbitrations {
		v.Arbitrations = append(v.Arbitrations, arbitrationView{
			ID:             a.ID,
			RequestedBy:    string(a.RequestedBy),
			Priority:       string(a.Priority),
			Status:         string(a.Status),
			Decision:       string(a.Decision),
			FeeRule:        string(a.FeeRule),
			Cost:           a.Cost.StringFixed(2),
			RequestedAt:    a.RequestedAt,
			AppealDeadline: a.AppealDeadline,
		})
	}
	if al := st.Allocation; al != nil {
		v.Allocation = &allocationView{
			Payer:    string(al.Payer),
			Issuer:   al.Issuer.StringFixed(2),
			Acquirer: al.Acquirer.StringFixed(2),
		}
	}
	for _, e := range events {
		v.Events = append(v.Events, eventView{Kind: string(e.Kind), Version: e.Version, At: e.At, Payload: e.Payload})
	}
	return v
}

func (v inspectView) text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "case      %s (dispute %s)\n", v.CaseID, v.DisputeID)
	fmt.Fprintf(&sb, "phase     %s  version %d  escalate %t", v.Phase, v.Version, v.CanEscalate)
	if v.Outcome != "" {
		fmt.Fprintf(&sb, "  outcome %s", v.Outcome)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "amount    %s  reason %s\n", v.DisputedAmount, v.ContestReason)
	if len(v.AllowedNext) > 0 {
		fmt.Fprintf(&sb, "next      %s\n", strings.Join(v.AllowedNext, ", "))
	}
	if d := v.Deadline; d != nil {
		fmt.Fprintf(&sb, "deadline  %s %s due %s  %dd/%dh left  %.1f%% used  %s\n",
			d.Phase, d.Status, d.DueAt.Format(time.RFC3339), d.RemainingDays, d.RemainingHours, d.ElapsedPercentage, d.Urgency)
	}
	for _, a := range v.Arbitrations {
		fmt.Fprintf(&sb, "arbitration %s  %s by %s  priority %s  cost %s", a.ID, a.Status, a.RequestedBy, a.Priority, a.Cost)
		if a.Decision != "" {
			fmt.Fprintf(&sb, "  %s fee %s", a.Decision, a.FeeRule)
		}
		sb.WriteString("\n")
	}
	if al := v.Allocation; al != nil {
		fmt.Fprintf(&sb, "fees      payer %s  issuer %s  acquirer %s  appealable %t\n", al.Payer, al.Issuer, al.Acquirer, v.Appealable)
	}
	if len(v.Events) > 0 {
		sb.WriteString("events\n")
	}
	for _, e := range v.Events {
		fmt.Fprintf(&sb, "  v%-3d %s  %s%s\n", e.Version, e.At.Format(time.RFC3339), e.Kind, payloadText(e.Payload))
	}
	return sb.String()
}

func payloadText(p map[string]any) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return "  " + strings.Join(parts, " ")
}
