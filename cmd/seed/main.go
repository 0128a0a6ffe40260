// Command seed fills a development database with demo accounts and a
// generated social graph.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"socialhub/internal/config"
	"socialhub/internal/database"
	"socialhub/internal/seed"
)

type flags struct {
	users  int
	posts  int
	preset string
	clean  bool
	fast   bool
	force  bool
}

func main() {
	var f flags
	flag.IntVar(&f.users, "users", 50, "Number of generated users")
	flag.IntVar(&f.posts, "posts", 200, "Number of generated posts")
	flag.StringVar(&f.preset, "preset", "", "Seed size preset: "+strings.Join(seed.PresetNames(), ", ")+" (overrides -users and -posts)")
	flag.BoolVar(&f.clean, "clean", true, "Delete existing rows first")
	flag.BoolVar(&f.fast, "fast", false, "Skip bcrypt for generated users (they cannot log in)")
	flag.BoolVar(&f.force, "force", false, "Allow seeding a production database")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, f); err != nil {
		log.Fatalf("❌ seed: %v", err)
	}
}

func run(ctx context.Context, f flags) error {
	if f.preset != "" {
		p, err := seed.LookupPreset(f.preset)
		if err != nil {
			return err
		}
		f.users, f.posts = p.Users, p.Posts
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.IsProduction() && !f.force {
		return errors.New("refusing to seed a production database without -force")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	start := time.Now()
	s := seed.NewSeeder(db, seed.Options{SkipBcrypt: f.fast, BatchSize: 200})
	if f.clean {
		if err := s.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}

	demo, err := seed.DemoUsers(ctx, db)
	if err != nil {
		return fmt.Errorf("demo accounts: %w", err)
	}
	users, err := s.SeedSocialMesh(ctx, f.users)
	if err != nil {
		return fmt.Errorf("social mesh: %w", err)
	}
	got, err := s.SeedEngagement(ctx, users, f.posts)
	if err != nil {
		return fmt.Errorf("engagement: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "demo accounts\t%d\n", len(demo))
	fmt.Fprintf(w, "users\t%d\n", len(users))
	fmt.Fprintf(w, "posts\t%d\n", got.Posts)
	fmt.Fprintf(w, "chats\t%d\n", got.Chats)
	fmt.Fprintf(w, "messages\t%d\n", got.Messages)
	fmt.Fprintf(w, "stories\t%d\n", got.Stories)
	fmt.Fprintf(w, "notifications\t%d\n", got.Notifications)
	fmt.Fprintf(w, "took\t%s\n", time.Since(start).Round(time.Millisecond))
	if err := w.Flush(); err != nil {
		return err
	}

	log.Printf("Demo accounts (demo, alice, bob) use the password %q", seed.DefaultPassword)
	return nil
}
