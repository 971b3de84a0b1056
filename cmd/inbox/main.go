// Command inbox is a terminal client for the messaging API.
//
//	inbox [-a url] [-u email] [-image file] list | read <userId> | send <userId> <text...>
//
// The password is taken from SUGAR_PASSWORD or prompted for without echo.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/term"

	"sugarconnect/internal/config"
	"sugarconnect/internal/inbox"
	"sugarconnect/internal/logging"
	"sugarconnect/internal/models"
)

var errUsage = errors.New("usage: inbox [-a url] [-u email] [-image file] list | read <userId> | send <userId> <text...>")

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		log.WithError(err).Fatal("inbox command failed")
	}
}

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inbox", flag.ContinueOnError)
	fs.SetOutput(out)
	baseURL := fs.String("a", cfg.BaseURL, "server base URL")
	email := fs.String("u", os.Getenv("SUGAR_EMAIL"), "account email")
	imagePath := fs.String("image", "", "image to attach when sending")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cmd := fs.Args()
	if len(cmd) == 0 || *email == "" {
		return errUsage
	}

	password, err := getPassword(out)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	token, me, err := inbox.Login(ctx, *baseURL, *email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	ctrl := inbox.NewController(inbox.NewHTTPAPI(*baseURL, token), me.ID)

	switch {
	case cmd[0] == "list" && len(cmd) == 1:
		return list(ctx, ctrl, out)
	case cmd[0] == "read" && len(cmd) == 2:
		return read(ctx, ctrl, me.ID, cmd[1], out)
	case cmd[0] == "send" && len(cmd) >= 2:
		draft := inbox.Draft{Text: strings.Join(cmd[2:], " ")}
		if *imagePath != "" {
			if draft.Image, err = attachment(*imagePath); err != nil {
				return err
			}
		}
		return send(ctx, ctrl, cmd[1], draft, out)
	}
	return errUsage
}

func getPassword(out io.Writer) (string, error) {
	if pw := os.Getenv("SUGAR_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(out, "Enter password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func attachment(path string) (*inbox.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &inbox.Attachment{
		Name:        filepath.Base(path),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}

func list(ctx context.Context, ctrl *inbox.Controller, out io.Writer) error {
	if err := ctrl.LoadConversations(ctx); err != nil {
		return err
	}
	for _, conv := range ctrl.Conversations().Conversations {
		last := "(no messages)"
		if len(conv.Messages) > 0 {
			last = describe(conv.Messages[len(conv.Messages)-1])
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", conv.User.ID, conv.User.Name, last)
	}
	return nil
}

func read(ctx context.Context, ctrl *inbox.Controller, selfID, counterpartID string, out io.Writer) error {
	if err := ctrl.Select(ctx, counterpartID); err != nil {
		return err
	}
	for _, msg := range ctrl.Thread(counterpartID).Messages {
		who := "them"
		if msg.SenderID == selfID {
			who = "me"
		}
		fmt.Fprintf(out, "%s %s: %s\n", msg.Timestamp.Format("2006-01-02 15:04"), who, describe(msg))
	}
	return nil
}

func send(ctx context.Context, ctrl *inbox.Controller, counterpartID string, draft inbox.Draft, out io.Writer) error {
	ctrl.SetDraft(counterpartID, draft)
	switch res := ctrl.Send(ctx, counterpartID).(type) {
	case inbox.SentResult:
		fmt.Fprintf(out, "sent %s\n", res.Message.ID)
		return nil
	case inbox.FailedResult:
		return fmt.Errorf("message not sent: %w", res.Reason)
	}
	return nil
}

func describe(msg models.Message) string {
	switch {
	case msg.Image != "" && msg.Text != "":
		return msg.Text + " [image]"
	case msg.Image != "":
		return "[image]"
	}
	return msg.Text
}
