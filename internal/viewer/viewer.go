// Package viewer is a terminal participant for a live session: it joins,
// prints the feed and turns typed lines into messages and guest commands.
package viewer

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"live-session/internal/config"
	"live-session/internal/gatewayclient"
	"live-session/internal/live/giftqueue"
	"live-session/internal/live/invitation"
	"live-session/internal/live/messagestream"
	"live-session/internal/live/session"
	"live-session/internal/models"
)

// Config holds viewer settings.
type Config struct {
	BaseURL       string `env:"LIVE_API_URL" envDefault:"http://localhost:8083"`
	ParticipantID string `env:"LIVE_PARTICIPANT_ID"`
	SessionID     string `env:"LIVE_SESSION_ID"`
	DisplayName   string `env:"LIVE_DISPLAY_NAME"`
	Host          bool   `env:"LIVE_HOST" envDefault:"false"`
	Title         string `env:"LIVE_SESSION_TITLE"`
	MaxGuests     int    `env:"MAX_GUESTS" envDefault:"3"`
	Debug         bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// ParseConfig reads the environment, then lets flags override it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.BaseURL, "api", cfg.BaseURL, "live-session API base url")
	fs.StringVar(&cfg.ParticipantID, "as", cfg.ParticipantID, "participant id")
	fs.StringVar(&cfg.SessionID, "session", cfg.SessionID, "session id")
	fs.StringVar(&cfg.DisplayName, "name", cfg.DisplayName, "display name")
	fs.BoolVar(&cfg.Host, "host", cfg.Host, "join as the session host")
	fs.StringVar(&cfg.Title, "title", cfg.Title, "session title shown in invitations")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ParticipantID == "" || cfg.SessionID == "" {
		return Config{}, errors.New("participant id and session id are required")
	}
	return cfg, nil
}

// Command is one parsed input line.
type Command struct {
	Name string
	Args []string
	Text string
}

// ParseCommand splits a line into a slash command or a chat message.
func ParseCommand(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, false
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Name: "say", Text: line}, true
	}
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:], Text: strings.Join(fields[1:], " ")}, true
}

// Run joins the session and serves commands from in until EOF or ctx ends.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer, logger *zap.Logger) error {
	client, err := gatewayclient.New(gatewayclient.Config{BaseURL: cfg.BaseURL, ParticipantID: cfg.ParticipantID}, logger)
	if err != nil {
		return err
	}

	role := models.RoleListener
	if cfg.Host {
		role = models.RoleHost
	}
	name := cfg.DisplayName
	if name == "" {
		name = cfg.ParticipantID
	}
	if _, err := client.Join(ctx, cfg.SessionID, name, role); err != nil {
		return fmt.Errorf("join session: %w", err)
	}

	p := &printer{out: out}
	sess, err := session.Open(ctx, client, session.Options{
		SessionID:    cfg.SessionID,
		SessionTitle: cfg.Title,
		LocalUserID:  cfg.ParticipantID,
		MaxGuests:    cfg.MaxGuests,
		Logger:       logger,
		InvitationHooks: invitation.Hooks{
			OnTick: func(inv models.Invitation, remaining int) {
				if remaining%10 == 0 && remaining > 0 {
					p.printf("invitation %s: %ds left", inv.ID, remaining)
				}
			},
			OnTimeout:  func(inv models.Invitation) { p.printf("invitation %s expired", inv.ID) },
			OnPromoted: func(pt models.Participant) { p.printf("%s is now on air", pt.UserID) },
			OnDemoted:  func(pt models.Participant) { p.printf("%s left the stage", pt.UserID) },
		},
		GiftHooks: giftqueue.PresenterHooks{
			OnShow: func(pr giftqueue.Presentation) {
				burst := ""
				if pr.Burst {
					burst = " ***"
				}
				p.printf("%s sent %dx %s%s", pr.Gift.SenderName, pr.Gift.Quantity, pr.Gift.GiftID, burst)
			},
		},
		OnTyping: func(entries []models.TypingEntry) {
			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.ParticipantID != cfg.ParticipantID {
					ids = append(ids, e.ParticipantID)
				}
			}
			if len(ids) > 0 {
				p.printf("typing: %s", strings.Join(ids, ", "))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := sess.Close(context.Background()); err != nil {
			logger.Warn("close session", zap.Error(err))
		}
	}()

	for _, m := range sess.Messages.Messages() {
		p.message(m)
	}
	p.printf("joined %s as %s (%d unread)", cfg.SessionID, role, sess.Messages.Unread())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	seen := len(sess.Messages.Messages())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, ok := ParseCommand(line)
			if !ok {
				continue
			}
			if cmd.Name == "quit" {
				return nil
			}
			if err := execute(ctx, sess, cmd, name, p); err != nil {
				p.printf("error: %v", err)
			}
			msgs := sess.Messages.Messages()
			for _, m := range msgs[min(seen, len(msgs)):] {
				p.message(m)
			}
			seen = len(msgs)
		}
	}
}

func execute(ctx context.Context, sess *session.Session, cmd Command, name string, p *printer) error {
	switch cmd.Name {
	case "say":
		_, err := sess.Send(ctx, messagestream.SendInput{Content: cmd.Text})
		return err
	case "reply":
		if len(cmd.Args) < 2 {
			return errors.New("usage: /reply <message-id> <text>")
		}
		id := cmd.Args[0]
		_, err := sess.Send(ctx, messagestream.SendInput{Content: strings.Join(cmd.Args[1:], " "), ReplyToID: &id})
		return err
	case "gift":
		if len(cmd.Args) < 3 {
			return errors.New("usage: /gift <gift-id> <value> <quantity>")
		}
		value, err := strconv.Atoi(cmd.Args[1])
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(cmd.Args[2])
		if err != nil {
			return err
		}
		_, err = sess.Send(ctx, messagestream.SendInput{
			ContentType: models.ContentGift,
			Metadata:    models.Metadata{"gift_id": cmd.Args[0], "sender_name": name, "gift_value": value, "quantity": qty},
		})
		return err
	case "delete":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /delete <message-id>")
		}
		return sess.Messages.Delete(ctx, cmd.Args[0])
	case "more":
		page, err := sess.Messages.LoadMore(ctx)
		if err != nil {
			return err
		}
		for _, m := range page.Items {
			p.message(m)
		}
		if !page.HasMore {
			p.printf("start of history")
		}
		return nil
	case "typing":
		return sess.Typing.StartTyping(ctx)
	case "invite":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /invite <user-id>")
		}
		_, err := sess.Invitations.Invite(ctx, cmd.Args[0])
		return err
	case "request":
		_, err := sess.Invitations.RequestToJoin(ctx)
		return err
	case "accept", "reject", "approve", "deny":
		if len(cmd.Args) != 1 {
			return fmt.Errorf("usage: /%s <invitation-id>", cmd.Name)
		}
		return answer(ctx, sess.Invitations, cmd.Name, cmd.Args[0])
	case "end":
		if len(cmd.Args) != 1 {
			return errors.New("usage: /end <user-id>")
		}
		return sess.Invitations.EndGuest(ctx, cmd.Args[0])
	case "leave":
		return sess.Invitations.Leave(ctx)
	case "pending":
		for _, inv := range sess.Invitations.Pending() {
			p.printf("%s %s from %s to %s (%ds)", inv.ID, inv.Kind, inv.InviterID, inv.InviteeID, sess.Invitations.Remaining(inv.ID))
		}
		return nil
	default:
		return fmt.Errorf("unknown command /%s", cmd.Name)
	}
}

func answer(ctx context.Context, n *invitation.Negotiator, verb, id string) error {
	switch verb {
	case "accept":
		_, err := n.Accept(ctx, id)
		return err
	case "reject":
		return n.Reject(ctx, id)
	case "approve":
		_, err := n.ApproveRequest(ctx, id)
		return err
	default:
		return n.RejectRequest(ctx, id)
	}
}

type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) message(m models.Message) {
	switch {
	case m.IsDeleted:
		p.printf("[%s] %s: (deleted)", m.CreatedAt.Format("15:04:05"), m.SenderID)
	case m.ContentType == models.ContentGift:
		return
	default:
		p.printf("[%s] %s: %s", m.CreatedAt.Format("15:04:05"), m.SenderID, m.Content)
	}
}
