package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"chatrelay/internal/config"
	"chatrelay/internal/crypto"
	"chatrelay/internal/storage"
)

const secretTokenLength = 48

func main() {
	app := &cli.App{
		Name:  "seed",
		Usage: "create chatbot accounts and print their secret tokens",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "number of chatbots to create",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "name prefix for generated chatbots",
				Value: "chatbot",
			},
			&cli.StringSliceFlag{
				Name:  "names",
				Usage: "explicit chatbot names (overrides --count/--prefix)",
			},
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "delete all existing chatbots first",
			},
		},
		Action: seed,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func seed(c *cli.Context) error {
	ctx := c.Context

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	if c.Bool("clear") {
		n, err := store.DeleteAllChatBots(ctx)
		if err != nil {
			return fmt.Errorf("clear chatbots: %w", err)
		}
		fmt.Printf("deleted %d chatbots\n", n)
	}

	names := c.StringSlice("names")
	if len(names) == 0 {
		count := c.Int("count")
		if count < 1 {
			return errors.New("--count must be at least 1")
		}
		prefix := strings.TrimSpace(c.String("prefix"))
		if prefix == "" {
			prefix = "chatbot"
		}
		for i := 1; i <= count; i++ {
			names = append(names, fmt.Sprintf("%s-%d", prefix, i))
		}
	}

	for _, name := range names {
		if err := createChatBot(ctx, store, name); err != nil {
			return err
		}
	}
	return nil
}

// createChatBot makes a chatbot with a fresh secret token and prints the
// token once. An existing bot with the same name is left untouched since the
// stored hash cannot be reversed into a token to reprint.
func createChatBot(ctx context.Context, store *storage.Store, name string) error {
	if _, err := store.GetChatBotByName(ctx, name); err == nil {
		fmt.Printf("%s: already exists, token unchanged\n", name)
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("look up chatbot %q: %w", name, err)
	}

	token, err := crypto.GenerateToken(secretTokenLength)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	bot := storage.ChatBot{
		ID:              uuid.NewString(),
		Name:            name,
		SecretTokenHash: crypto.HashToken(token),
	}
	if err := store.CreateChatBot(ctx, bot); err != nil {
		return fmt.Errorf("create chatbot %q: %w", name, err)
	}

	fmt.Printf("%s: id=%s token=%s\n", name, bot.ID, token)
	return nil
}
