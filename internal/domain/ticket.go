package domain

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen        TicketStatus = "OPEN"
	TicketStatusInProgress  TicketStatus = "IN_PROGRESS"
	TicketStatusPendingUser TicketStatus = "PENDING_USER"
	TicketStatusResolved    TicketStatus = "RESOLVED"
	TicketStatusClosed      TicketStatus = "CLOSED"
	TicketStatusCancelled   TicketStatus = "CANCELLED"
)

// Terminal reports whether the status ends the resolution clock.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed || s == TicketStatusCancelled
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// TicketRef is the slice of a ticket the engine needs; ticket CRUD lives elsewhere.
type TicketRef struct {
	ID       string
	OrgID    string
	Number   string
	Subject  string
	Priority TicketPriority
	Severity string
}

// Recipients groups notification addresses by audience.
type Recipients struct {
	Assignee  []string `json:"assignee"`
	Team      []string `json:"team"`
	Watchers  []string `json:"watchers"`
	Requester []string `json:"requester"`
}

// All flattens the audiences, dropping blanks and duplicates while keeping order.
func (r Recipients) All() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, group := range [][]string{r.Assignee, r.Team, r.Watchers, r.Requester} {
		for _, addr := range group {
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// Staff returns assignee and team addresses only.
func (r Recipients) Staff() Recipients {
	return Recipients{Assignee: r.Assignee, Team: r.Team}
}
