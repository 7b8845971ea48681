package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sobesednik/internal/client"
	"sobesednik/internal/config"
	"sobesednik/internal/models"
	"sobesednik/internal/rest"
	"sobesednik/internal/session"
	"sobesednik/internal/view"
)

func run(ctx context.Context) error {
	email := flag.String("email", "", "Email to log in with (omit to reuse the stored session)")
	password := flag.String("password", "", "Password for -email")
	displayName := flag.String("register", "", "Display name to register a new account with -email/-password")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := session.NewStore(cfg.TokenDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	guard := session.NewGuard(store)

	if *email != "" {
		if err := logIn(ctx, cfg, guard, *email, *password, *displayName); err != nil {
			return err
		}
	}

	cl, err := client.New(ctx, cfg, guard, client.Options{})
	if err != nil {
		if errors.Is(err, client.ErrLoginRequired) {
			return fmt.Errorf("no valid session; log in with -email and -password")
		}
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return cl.Run(gCtx)
	})

	g.Go(func() error {
		if err := cl.Start(gCtx); err != nil {
			return err
		}
		return inputLoop(gCtx, cl)
	})

	err = g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// logIn exchanges credentials for a token (registering first when asked)
// and persists it.
func logIn(ctx context.Context, cfg *config.Config, guard *session.Guard, email, password, displayName string) error {
	api := rest.NewClient(ctx, cfg.APIBaseURL, guard, time.Minute)

	var (
		token string
		err   error
	)
	if displayName != "" {
		token, err = api.Register(ctx, rest.RegisterRequest{
			Email:       email,
			Password:    password,
			DisplayName: displayName,
		})
	} else {
		token, err = api.Login(ctx, rest.LoginRequest{
			Email:    email,
			Password: password,
		})
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	return guard.SaveToken(token)
}

var errQuit = errors.New("quit")

// inputLoop is the minimal terminal surface over the sync core: plain
// lines send to the active channel, slash commands navigate.
func inputLoop(ctx context.Context, cl *client.Client) error {
	scanner := bufio.NewScanner(os.Stdin)
	printChannels(cl)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return errQuit
		case line == "/channels":
			printChannels(cl)
		case line == "/messages":
			for _, m := range cl.VisibleMessages() {
				fmt.Printf("[%d] %s: %s\n", m.ID, view.SenderName(m), view.MessageBody(m))
			}
			if banner := cl.TypingBanner(models.ContextChannel, activeChannel(cl)); banner != "" {
				fmt.Println(banner)
			}
		case strings.HasPrefix(line, "/select "):
			id, err := strconv.ParseInt(strings.TrimPrefix(line, "/select "), 10, 64)
			if err != nil {
				fmt.Println("usage: /select <channel id>")
				continue
			}
			if err := cl.SelectChannel(ctx, id); err != nil {
				return err
			}
		case strings.HasPrefix(line, "/search "):
			if err := cl.Search(ctx, strings.TrimPrefix(line, "/search ")); err != nil {
				log.Printf("search failed: %v", err)
				continue
			}
			for _, r := range cl.SearchResults() {
				fmt.Printf("[%d] %s (%s): %s\n", r.Message.ID, view.SenderName(r.Message), r.Label, view.MessageBody(r.Message))
			}
		case line == "/logout":
			if err := cl.Logout(); err != nil {
				return err
			}
			return errQuit
		default:
			id := activeChannel(cl)
			if id < 0 {
				fmt.Println("no channel selected")
				continue
			}
			cl.NotifyTyping(models.ContextChannel, id)
			cl.SendMessage(id, line, isDM(cl, id), nil)
		}
	}
	return scanner.Err()
}

func printChannels(cl *client.Client) {
	for _, ch := range cl.Channels() {
		fmt.Printf("[%d] %s\n", ch.ID, cl.ChannelDisplayName(ch))
	}
}

func activeChannel(cl *client.Client) int64 {
	return cl.ActiveChannelID()
}

func isDM(cl *client.Client, channelID int64) bool {
	for _, ch := range cl.Channels() {
		if ch.ID == channelID {
			return ch.IsDM
		}
	}
	return false
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
