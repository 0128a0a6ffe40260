package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"socialhub/internal/bootstrap"
	"socialhub/internal/config"
	"socialhub/internal/realtime"
	"socialhub/internal/repository"
	"socialhub/internal/service"
	"socialhub/internal/session"

	"github.com/sourcegraph/conc"
	"gorm.io/gorm"
)

// settleTimeout bounds how long the sessions get to catch up on the last
// pushed inserts once sending stops.
const settleTimeout = 5 * time.Second

// sessionReport is what the client-side sessions observed.
type sessionReport struct {
	Sessions   int
	Sent       int64
	SendErrors int64
	TypingSeen int64
	Missing    int
	Duplicated int
}

func (r sessionReport) converged() bool { return r.Missing == 0 && r.Duplicated == 0 }

// participant is one simulated chat member running the same session objects
// a client would.
type participant struct {
	userID uint
	sync   *session.ChatSync
	typing *session.TypingIndicator

	mu   sync.Mutex
	sent []uint
}

// runSessions connects to the configured database and realtime bus, so the
// sessions see changes made by running servers as well as their own.
func runSessions(ctx context.Context, chatID uint, every, duration time.Duration) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{Realtime: true})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()
	if rt.Bus == nil {
		log.Println("⚠️  No realtime bus: only changes made by this process will be seen")
	}

	report, err := simulate(ctx, rt.DB, rt.Feed, chatID, every, duration)
	if err != nil {
		return err
	}

	log.Println("\n📊 Session Results")
	log.Println("==================")
	log.Printf("Sessions: %d", report.Sessions)
	log.Printf("Messages Sent: %d", report.Sent)
	log.Printf("Send Errors: %d", report.SendErrors)
	log.Printf("Typing Updates Seen: %d", report.TypingSeen)
	log.Printf("Missing From A Session: %d", report.Missing)
	log.Printf("Duplicated In A Session: %d", report.Duplicated)
	if !report.converged() {
		return fmt.Errorf("sessions did not converge")
	}
	return nil
}

// simulate drives ChatSync and TypingIndicator for every participant of
// chatID, then checks that every session holds each sent message once.
func simulate(ctx context.Context, db *gorm.DB, feed *realtime.Feed, chatID uint, every, duration time.Duration) (sessionReport, error) {
	chats := repository.NewChatRepository(db)
	users := repository.NewUserRepository(db)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), repository.NewSettingsRepository(db), feed, nil)
	messages := service.NewMessageService(chats, repository.NewBlockRepository(db), notifications, feed)

	ids, err := chats.ParticipantIDs(ctx, chatID)
	if err != nil {
		return sessionReport{}, fmt.Errorf("load participants: %w", err)
	}
	if len(ids) < 2 {
		return sessionReport{}, fmt.Errorf("chat %d needs at least two participants, has %d", chatID, len(ids))
	}

	var sent, sendErrors, typingSeen atomic.Int64
	members := make([]*participant, 0, len(ids))
	defer func() {
		for _, p := range members {
			p.typing.Close()
			p.sync.Close()
		}
	}()
	for _, id := range ids {
		u, err := users.GetByID(ctx, id)
		if err != nil {
			return sessionReport{}, err
		}
		p := &participant{userID: id}
		p.sync = session.NewChatSync(session.ChatSyncConfig{Messages: messages, Feed: feed}, id, chatID)
		p.typing = session.NewTypingIndicator(session.TypingConfig{
			Feed: feed,
			OnChange: func(text string) {
				if text != "" {
					typingSeen.Add(1)
				}
			},
		}, chatID, id, u.Username)
		members = append(members, p)
		if err := p.sync.Start(ctx); err != nil {
			return sessionReport{}, fmt.Errorf("start chat sync for user %d: %w", id, err)
		}
		if err := p.typing.Start(ctx); err != nil {
			return sessionReport{}, fmt.Errorf("start typing for user %d: %w", id, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	var wg conc.WaitGroup
	for _, p := range members {
		wg.Go(func() {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for n := 1; ; n++ {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
				}
				if err := p.say(runCtx, n); err != nil {
					sendErrors.Add(1)
					continue
				}
				sent.Add(1)
			}
		})
	}
	wg.Wait()

	var all []uint
	for _, p := range members {
		p.mu.Lock()
		all = append(all, p.sent...)
		p.mu.Unlock()
	}

	report := sessionReport{Sessions: len(members)}
	deadline := time.Now().Add(settleTimeout)
	for {
		report.Missing, report.Duplicated = 0, 0
		for _, p := range members {
			missing, dup := p.compare(all)
			report.Missing += missing
			report.Duplicated += dup
		}
		if report.converged() || time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	report.Sent, report.SendErrors, report.TypingSeen = sent.Load(), sendErrors.Load(), typingSeen.Load()
	return report, nil
}

// say types, sends message n and stops typing.
func (p *participant) say(ctx context.Context, n int) error {
	_ = p.typing.Keystroke(ctx)
	msg, err := p.sync.Send(ctx, fmt.Sprintf("session test %d from user %d", n, p.userID))
	_ = p.typing.Stop(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sent = append(p.sent, msg.ID)
	p.mu.Unlock()
	return nil
}

// compare counts ids absent from the session and ids held more than once.
func (p *participant) compare(ids []uint) (missing, duplicated int) {
	seen := make(map[uint]int)
	for _, msg := range p.sync.Messages() {
		seen[msg.ID]++
	}
	for _, id := range ids {
		switch n := seen[id]; {
		case n == 0:
			missing++
		case n > 1:
			duplicated++
		}
	}
	return missing, duplicated
}
