package session

import (
	"fmt"
	"strings"
	"time"
)

// FormatStat renders the STAT reply per spec §4.5: one header line
// followed by one line per live session, in unspecified order. caller
// is marked with "*" in the selector column.
func FormatStat(caller *Session, rangeSessions func(yield func(*Session) bool)) string {
	var b strings.Builder
	b.WriteString(" ID       STATE IDLE      UPTIME    PEER                 REMOTE               RECV       XMIT       NTFY\n")

	now := time.Now()
	rangeSessions(func(s *Session) bool {
		selector := " "
		if s == caller {
			selector = "*"
		}

		var idle string
		if s.State() == StateEcho {
			idle = formatDuration(now.Sub(s.LastRemoteAt()))
		}

		ntfy := ""
		if b := s.Binding(); b.Device >= 0 {
			ntfy = fmt.Sprintf("%d/%s/%s/%s", b.Device, b.Service, b.Action, s.Pid())
		}

		fmt.Fprintf(&b, "%s%-8s %-5s %-9s %-9s %-20s %-20s %-10d %-10d %s\n",
			selector,
			s.ID(),
			s.State(),
			idle,
			formatDuration(now.Sub(s.CreatedAt())),
			s.PeerAddr,
			s.RemoteAddr,
			s.RecvFromRemote(),
			s.SentToRemote(),
			ntfy,
		)
		return true
	})

	return b.String()
}

// formatDuration renders a duration as MMmSS for under 100 minutes,
// else HHhMM, per spec §4.5.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalSeconds := int64(d.Seconds())
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes < 100 {
		return fmt.Sprintf("%02dm%02d", minutes, seconds)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%02dh%02d", hours, minutes)
}
