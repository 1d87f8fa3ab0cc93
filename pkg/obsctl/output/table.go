package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/observastack/observastack/pkg/auth"
)

// Status is the session summary printed by "obsctl auth status".
type Status struct {
	AuthMethod    string    `json:"authMethod" yaml:"authMethod"`
	Authenticated bool      `json:"authenticated" yaml:"authenticated"`
	Username      string    `json:"username,omitempty" yaml:"username,omitempty"`
	Roles         []string  `json:"roles" yaml:"roles"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

func WriteStatusTable(w io.Writer, s Status) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "METHOD\tAUTHENTICATED\tUSER\tROLES\tEXPIRES")
	_, _ = fmt.Fprintf(tw, "%s\t%v\t%s\t%s\t%s\n", s.AuthMethod, s.Authenticated, orDash(s.Username), joinOrDash(s.Roles), formatTime(s.ExpiresAt))
	_ = tw.Flush()
}

func WriteUserTable(w io.Writer, user *auth.SessionUser) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tNAME\tROLES")
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", orDash(user.ID), orDash(user.Username), orDash(user.Email), orDash(name), joinOrDash(user.Roles))
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ",")
}
