// Package notifier sends desktop reminders as the next meeting approaches.
package notifier

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bnema/nextmeeting/internal/meeting"
	"github.com/bnema/nextmeeting/internal/nerdfonts"
)

// Sender delivers one notification. The default runs notify-send.
type Sender func(title, message, urgency string) (action string, err error)

type Notifier struct {
	enabled bool
	send    Sender
	// open is called with the join URL when the user picks the notification action.
	open func(url string) error

	mu       sync.Mutex
	notified map[string]meeting.Status
}

func New(enabled bool, open func(url string) error) *Notifier {
	return &Notifier{
		enabled:  enabled,
		send:     notifySend,
		open:     open,
		notified: make(map[string]meeting.Status),
	}
}

// SetSender replaces the delivery function.
func (n *Notifier) SetSender(send Sender) {
	n.send = send
}

// Observe sends a reminder the first time a meeting reaches the imminent or
// live band. It reports whether a notification was sent.
func (n *Notifier) Observe(m meeting.ResolvedMeeting, status meeting.Status, now time.Time) (bool, error) {
	if !n.enabled || !m.HasStart() || m.Failed() {
		return false, nil
	}
	if status != meeting.StatusImminent && status != meeting.StatusLive {
		return false, nil
	}

	key := meetingKey(m)
	n.mu.Lock()
	prev, seen := n.notified[key]
	if seen && (prev == status || prev == meeting.StatusLive) {
		n.mu.Unlock()
		return false, nil
	}
	n.notified[key] = status
	n.forgetEnded(now)
	n.mu.Unlock()

	return true, n.SendMeetingReminder(m, status, now)
}

func (n *Notifier) SendMeetingReminder(m meeting.ResolvedMeeting, status meeting.Status, now time.Time) error {
	if !n.enabled {
		return nil
	}

	title := m.Title
	if title == "" {
		title = "Meeting"
	}
	var heading string
	if status == meeting.StatusLive {
		heading = fmt.Sprintf("%s %s started", nerdfonts.CircleDot, title)
	} else {
		heading = fmt.Sprintf("%s %s starting now", nerdfonts.Bell, title)
	}

	action, err := n.send(heading, n.formatMessage(m), urgencyFor(status))
	if err != nil {
		return err
	}
	if action == "default" && m.JoinURL != "" && n.open != nil {
		go func() {
			// Not fatal; the meeting link is also on the tile.
			if err := n.open(m.JoinURL); err != nil {
				fmt.Printf("Warning: failed to open meeting link: %v\n", err)
			}
		}()
	}
	return nil
}

func (n *Notifier) formatMessage(m meeting.ResolvedMeeting) string {
	var parts []string
	timeStr := m.Start.Local().Format("15:04")
	if !m.End.IsZero() && m.End.After(m.Start) {
		timeStr += " - " + m.End.Local().Format("15:04")
	}
	parts = append(parts, fmt.Sprintf("%s %s", nerdfonts.Clock, timeStr))
	if m.JoinURL != "" {
		parts = append(parts, fmt.Sprintf("%s %s", nerdfonts.Video, m.JoinURL))
	}
	return strings.Join(parts, "\n")
}

// forgetEnded drops entries for meetings that started over a day ago.
// Callers hold n.mu.
func (n *Notifier) forgetEnded(now time.Time) {
	for key := range n.notified {
		var unix int64
		if _, err := fmt.Sscanf(key, "%d|", &unix); err == nil && now.Sub(time.Unix(unix, 0)) > 24*time.Hour {
			delete(n.notified, key)
		}
	}
}

func meetingKey(m meeting.ResolvedMeeting) string {
	return fmt.Sprintf("%d|%s", m.Start.Unix(), m.Title)
}

func urgencyFor(status meeting.Status) string {
	if status == meeting.StatusLive {
		return "critical"
	}
	return "normal"
}

func notifySend(title, message, urgency string) (string, error) {
	args := []string{
		"--app-name=Next Meeting",
		"--urgency=" + urgency,
		"--action", "default=Join meeting",
		"--wait",
		title,
		message,
	}

	cmd := exec.Command("notify-send", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("notify-send failed: %w, output: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

func (n *Notifier) IsEnabled() bool {
	return n.enabled
}
