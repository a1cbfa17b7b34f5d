package notify

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/smtp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/aibenefits/config"
	"github.com/c360studio/aibenefits/tracker"
)

// Directory resolves who should hear about a project.
type Directory interface {
	GetProject(ctx context.Context, id string) (*tracker.Project, error)
	GetUser(ctx context.Context, id string) (*tracker.User, error)
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends alert digests and account mail over SMTP.
type Mailer struct {
	cfg     config.MailConfig
	baseURL string
	dir     Directory
	send    sendFunc
	logger  *slog.Logger
}

// NewMailer creates a mailer. baseURL is linked from message bodies.
func NewMailer(cfg config.MailConfig, baseURL string, dir Directory, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		dir:     dir,
		send:    smtp.SendMail,
		logger:  logger,
	}
}

// Notify sends one digest per project owner covering that owner's alerts.
func (m *Mailer) Notify(ctx context.Context, alerts []*tracker.Alert) error {
	byOwner := make(map[string][]*tracker.Alert)
	owners := make(map[string]*tracker.User)
	projects := make(map[string]*tracker.Project)

	for _, a := range alerts {
		p, ok := projects[a.ProjectID]
		if !ok {
			var err error
			p, err = m.dir.GetProject(ctx, a.ProjectID)
			if err != nil {
				m.logger.Warn("Skipping alert for unknown project", "project_id", a.ProjectID, "error", err)
				continue
			}
			projects[p.ID] = p
		}
		if _, ok := owners[p.OwnerID]; !ok {
			u, err := m.dir.GetUser(ctx, p.OwnerID)
			if err != nil {
				m.logger.Warn("Skipping alert for unknown owner", "owner_id", p.OwnerID, "error", err)
				continue
			}
			owners[u.ID] = u
		}
		byOwner[p.OwnerID] = append(byOwner[p.OwnerID], a)
	}

	var failed int
	for _, ownerID := range slices.Sorted(maps.Keys(byOwner)) {
		owner := owners[ownerID]
		subject := fmt.Sprintf("[AI Tracker] %d new alert(s)", len(byOwner[ownerID]))
		body := m.digestBody(owner, byOwner[ownerID], projects)
		if err := m.Send(owner.Email, subject, body); err != nil {
			m.logger.Error("Failed to send alert digest", "to", owner.Email, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("alert digest: %d of %d messages failed", failed, len(byOwner))
	}
	return nil
}

func (m *Mailer) digestBody(owner *tracker.User, alerts []*tracker.Alert, projects map[string]*tracker.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nThe nightly roadmap check raised these alerts:\n\n", owner.Name)
	for _, a := range alerts {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", a.Severity, projects[a.ProjectID].Name, a.Title)
		if a.Message != "" {
			fmt.Fprintf(&b, "  %s\n", a.Message)
		}
	}
	fmt.Fprintf(&b, "\nReview them at %s/alerts\n", m.baseURL)
	return b.String()
}

// SendWelcome tells a new user their account exists.
func (m *Mailer) SendWelcome(u *tracker.User) error {
	body := fmt.Sprintf("Hello %s,\n\nAn AI Benefits Tracker account was created for you with the %s role.\n"+
		"Sign in at %s/login\n", u.Name, u.Role, m.baseURL)
	return m.Send(u.Email, "Welcome to the AI Benefits Tracker", body)
}

// Send delivers one plain-text message.
func (m *Mailer) Send(to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("send mail: header contains newline")
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	m.logger.Debug("Sent mail", "to", to, "subject", subject)
	return nil
}
