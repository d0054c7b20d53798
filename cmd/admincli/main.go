// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/tunebox/internal/api/connect"
)

var (
	app     = kingpin.New("tunebox-admincli", "tunebox admin client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token   = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	tenant  = app.Flag("tenant", "Tenant ID (or set TUNEBOX_TENANT env)").Short('t').Envar("TUNEBOX_TENANT").String()
	channel = app.Flag("channel", "Text channel for notifications").String()

	// enqueue command
	enqueueCmd = app.Command("enqueue", "Queue a track or playlist").Alias("add")
	enqueueRef = enqueueCmd.Arg("ref", "URL or search text").Required().String()

	// play command
	playCmd = app.Command("play", "Start or resume playback")

	// skip command
	skipCmd = app.Command("skip", "Skip the current track")

	// back command
	backCmd = app.Command("back", "Replay the previous track")

	// interlude command
	interludeCmd  = app.Command("interlude", "Play refs immediately, ahead of the queue")
	interludeRefs = interludeCmd.Arg("refs", "URLs or search text").Required().Strings()

	// clear command
	clearCmd   = app.Command("clear", "Remove queued tracks")
	clearCount = clearCmd.Arg("count", "Number of tracks to remove from the front (default: all)").Int()

	// status command
	statusCmd = app.Command("status", "Show tenant status")

	// list command
	listCmd   = app.Command("list", "Show the queue").Alias("queue")
	listLimit = listCmd.Flag("limit", "Number of entries to show").Int()

	// pause command
	pauseCmd = app.Command("pause", "Pause playback")

	// resume command
	resumeCmd = app.Command("resume", "Resume playback")

	// join command
	joinCmd     = app.Command("join", "Connect to a voice channel")
	joinChannel = joinCmd.Arg("voice-channel", "Voice channel ID").Required().String()

	// leave command
	leaveCmd = app.Command("leave", "Disconnect from voice")

	// save command
	saveCmd = app.Command("save", "Persist state now")

	// reload command
	reloadCmd = app.Command("reload", "Reload state from the last snapshot")

	// remove-tenant command
	removeCmd = app.Command("remove-tenant", "Forget a tenant and its state")

	// watch command
	watchCmd = app.Command("watch", "Stream notifications")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" && command != watchCmd.FullCommand() {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}
	needsTenant := command != saveCmd.FullCommand() && command != reloadCmd.FullCommand() && command != watchCmd.FullCommand()
	if needsTenant && *tenant == "" {
		fmt.Println("Error: tenant is required (use --tenant or TUNEBOX_TENANT env)")
		os.Exit(1)
	}

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := &apiconnect.TenantRequest{Tenant: *tenant, Channel: *channel}

	var err error
	switch command {
	case enqueueCmd.FullCommand():
		err = enqueue(ctx, client)
	case playCmd.FullCommand():
		var resp *apiconnect.PlayResponse
		if resp, err = client.Play(ctx, tr); err == nil {
			fmt.Printf("Playback state: %s\n", resp.State)
		}
	case skipCmd.FullCommand():
		err = printResult(client.Skip(ctx, tr))
	case backCmd.FullCommand():
		var resp *apiconnect.BackResponse
		if resp, err = client.Back(ctx, tr); err == nil {
			fmt.Printf("Going back to: %s\n", resp.Target)
		}
	case interludeCmd.FullCommand():
		var resp *apiconnect.InterludeResponse
		resp, err = client.Interlude(ctx, &apiconnect.InterludeRequest{Tenant: *tenant, Channel: *channel, Refs: *interludeRefs})
		if err == nil {
			fmt.Printf("Interlude queued: added=%d interrupted=%v\n", resp.Added, resp.Interrupted)
		}
	case clearCmd.FullCommand():
		var resp *apiconnect.ClearResponse
		if resp, err = client.Clear(ctx, &apiconnect.ClearRequest{Tenant: *tenant, Count: *clearCount}); err == nil {
			fmt.Printf("Removed %d tracks (%d remaining)\n", resp.Removed, resp.Remaining)
		}
	case statusCmd.FullCommand():
		err = status(ctx, client, tr)
	case listCmd.FullCommand():
		err = list(ctx, client)
	case pauseCmd.FullCommand():
		err = printResult(client.Pause(ctx, tr))
	case resumeCmd.FullCommand():
		err = printResult(client.Resume(ctx, tr))
	case joinCmd.FullCommand():
		err = printResult(client.Join(ctx, &apiconnect.JoinRequest{Tenant: *tenant, VoiceChannel: *joinChannel}))
	case leaveCmd.FullCommand():
		err = printResult(client.Leave(ctx, tr))
	case saveCmd.FullCommand():
		err = printResult(client.Save(ctx))
	case reloadCmd.FullCommand():
		err = printResult(client.Reload(ctx))
	case removeCmd.FullCommand():
		err = printResult(client.RemoveTenant(ctx, tr))
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func printResult(r *apiconnect.Result, err error) error {
	if err != nil {
		return err
	}
	if r.Success {
		fmt.Println(r.Message)
	} else {
		fmt.Printf("Failed: %s\n", r.Message)
	}
	return nil
}

func enqueue(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.Enqueue(ctx, &apiconnect.EnqueueRequest{Tenant: *tenant, Channel: *channel, Ref: *enqueueRef})
	if err != nil {
		return err
	}
	if resp.Kind == "list" {
		fmt.Printf("Added %d tracks from %s", resp.Added, resp.Title)
		if resp.Dropped > 0 {
			fmt.Printf(" (%d dropped, queue full)", resp.Dropped)
		}
		fmt.Println()
	} else {
		fmt.Printf("Queued at #%d: %s\n", resp.Position, resp.Title)
	}
	if resp.Started {
		fmt.Println("Playback started")
	}
	return nil
}

func status(ctx context.Context, client *apiconnect.Client, tr *apiconnect.TenantRequest) error {
	s, err := client.Status(ctx, tr)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== TENANT %s ===\n", *tenant)
	fmt.Printf("State: %s\n", s.State)
	if s.Connected {
		fmt.Printf("Voice Channel: %s\n", s.VoiceChannel)
	} else {
		fmt.Println("Voice Channel: (not connected)")
	}
	fmt.Printf("Queue Size: %d\n", s.QueueLen)
	fmt.Printf("Played: %d\n", s.PlayedCount)
	fmt.Printf("Back History: %d\n", s.BackHistoryLen)
	fmt.Printf("Blacklisted: %d\n", s.BlacklistCount)

	if s.CurrentRef != "" {
		fmt.Println("\nCurrent Track:")
		fmt.Printf("  Title: %s\n", s.CurrentTitle)
		fmt.Printf("  Ref: %s\n", s.CurrentRef)
		if s.FromBack {
			fmt.Println("  (replayed with back)")
		}
	} else {
		fmt.Println("\nNo track currently playing")
	}
	fmt.Println()
	return nil
}

func list(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.List(ctx, &apiconnect.ListRequest{Tenant: *tenant, Limit: *listLimit})
	if err != nil {
		return err
	}
	if resp.Total == 0 {
		fmt.Println("Queue is empty")
		return nil
	}
	fmt.Printf("Queue (%d):\n", resp.Total)
	for i, ref := range resp.Refs {
		fmt.Printf("  %2d. %s\n", i+1, ref)
	}
	if rest := resp.Total - len(resp.Refs); rest > 0 {
		fmt.Printf("  ... and %d more\n", rest)
	}
	return nil
}

func watch(ctx context.Context, client *apiconnect.Client) error {
	stream, err := client.Subscribe(ctx, &apiconnect.SubscribeRequest{Tenant: *tenant})
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		n := stream.Msg()
		fmt.Printf("[%s] #%d %s %s: %s\n", n.Time.Format("15:04:05"), n.SequenceNo, n.Tenant, n.Type, n.Message)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
