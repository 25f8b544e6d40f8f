package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chat-sync/auth"
	"chat-sync/client"
	"chat-sync/domain/chat"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
)

// Exit codes for the tester.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
	exitFailed  = 3
)

type senderReport struct {
	userID    string
	sent      int
	confirmed int
	failed    int
	elapsed   time.Duration
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tester error: %v\n", err)
	}
	os.Exit(code)
}

// run drives concurrent senders through the client library against a running
// server, then checks an observer converged on every confirmed message.
func run() (int, error) {
	_ = godotenv.Load()
	config, err := LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	identity := auth.NewJWTIdentity(config.JWTSecret, config.Deadline+time.Minute)
	room := chat.RoomID(config.Room)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.Deadline)
	defer cancel()

	newClient := func(userID string) (*client.HTTPClient, error) {
		token, err := identity.GenerateToken(userID, "", []string{auth.RoleUser})
		if err != nil {
			return nil, err
		}
		return client.NewHTTPClient(config.ServerURL, token, nil), nil
	}

	observerClient, err := newClient("tester-observer")
	if err != nil {
		return exitConfig, err
	}
	target, err := observerClient.GetRoom(ctx, room)
	if err != nil {
		return exitRuntime, fmt.Errorf("room %s unavailable: %w", room, err)
	}
	observer := client.NewReconciler(log, clock.WallClock, chat.Actor{UserID: "tester-observer"}, target,
		observerClient, observerClient, config.ConfirmTimeout)
	defer observer.Close()
	followCtx, stopFollowing := context.WithCancel(ctx)
	defer stopFollowing()
	go func() { _ = observer.Follow(followCtx, observerClient, time.Second) }()

	start := time.Now()
	reports := make([]senderReport, config.Senders)
	var confirmedIDs sync.Map
	g, gctx := errgroup.WithContext(ctx)
	for i := range config.Senders {
		userID := fmt.Sprintf("tester-%02d", i)
		g.Go(func() error {
			c, err := newClient(userID)
			if err != nil {
				return err
			}
			report, err := send(gctx, config, c, userID, target, &confirmedIDs)
			reports[i] = report
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}

	expected := 0
	confirmedIDs.Range(func(_, _ any) bool {
		expected++
		return true
	})
	seen := waitObserved(ctx, observer, &confirmedIDs, expected)
	stopFollowing()

	render(config, reports, expected, seen, time.Since(start))
	if seen != expected {
		return exitFailed, fmt.Errorf("observer saw %d of %d confirmed messages", seen, expected)
	}
	return exitOK, nil
}

func send(ctx context.Context, config Config, c *client.HTTPClient, userID string, room chat.Room,
	confirmedIDs *sync.Map) (senderReport, error) {
	report := senderReport{userID: userID}
	r := client.NewReconciler(logs.GetLoggerFromString("ERROR"), clock.WallClock, chat.Actor{UserID: userID}, room, c, c, config.ConfirmTimeout)
	defer r.Close()
	followCtx, stopFollowing := context.WithCancel(ctx)
	defer stopFollowing()
	go func() { _ = r.Follow(followCtx, c, time.Second) }()

	start := time.Now()
	for n := range config.Messages {
		if _, err := r.Send(ctx, fmt.Sprintf("%s says %d", userID, n)); err != nil {
			report.failed++
			continue
		}
		report.sent++
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(config.SendInterval):
		}
	}

	// Wait for every send to be either confirmed or rolled back.
	for ctx.Err() == nil {
		pending := 0
		for _, e := range r.Entries() {
			if e.Pending() {
				pending++
			}
		}
		if pending == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	for _, e := range r.Entries() {
		if !e.Pending() && e.Message.SenderID == userID {
			report.confirmed++
			confirmedIDs.Store(e.Message.ID, struct{}{})
		}
	}
	report.failed += report.sent - report.confirmed
	report.elapsed = time.Since(start)
	return report, nil
}

// waitObserved returns how many confirmed messages the observer rendered.
func waitObserved(ctx context.Context, observer *client.Reconciler, confirmedIDs *sync.Map, expected int) int {
	count := func() int {
		seen := 0
		for _, e := range observer.Entries() {
			if e.Pending() {
				continue
			}
			if _, ok := confirmedIDs.Load(e.Message.ID); ok {
				seen++
			}
		}
		return seen
	}
	for ctx.Err() == nil {
		if count() >= expected {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return count()
}

func render(config Config, reports []senderReport, expected, seen int, elapsed time.Duration) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Sender", "Sent", "Confirmed", "Failed", "Elapsed"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range reports {
		table.Append([]string{r.userID, fmt.Sprint(r.sent), fmt.Sprint(r.confirmed), fmt.Sprint(r.failed), r.elapsed.Round(time.Millisecond).String()})
	}
	table.Render()

	summary := fmt.Sprintf("Observer rendered %d/%d confirmed messages in %s", seen, expected, elapsed.Round(time.Millisecond))
	if !config.Colours {
		fmt.Println(summary)
		return
	}
	if seen == expected {
		color.Green.Println(summary)
		return
	}
	color.Red.Println(summary)
}
