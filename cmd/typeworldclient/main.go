// Command typeworldclient wires every package in this repository into a
// small process: it stands in for the GUI layer the core itself marks
// out-of-scope, the way teacher's main.go wired auth/handlers/sse into an
// HTTP server. It takes flags for the mothership endpoint and the local
// preferences file, and drives the Client Orchestrator through one
// subcommand per invocation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/typeworld/client/cache"
	"github.com/typeworld/client/client"
	"github.com/typeworld/client/keyring"
	"github.com/typeworld/client/mothership"
	"github.com/typeworld/client/preferences"
	"github.com/typeworld/client/protocol"
	"github.com/typeworld/client/subscription"
)

// clientVersion is this build's own version, compared against
// downloadedSettings.breakingAPIVersions on every addSubscription (§4.6
// step 3c).
const clientVersion = "1.0.0"

func main() {
	// command-line flags (-prefs, -mothership, -app-id, -commercial-apps, -pubsub-project, -os-keyring)
	prefsPath := flag.String("prefs", "", "Path to the JSON preferences file (empty uses an in-memory store)")
	mothershipURL := flag.String("mothership", "https://api.type.world", "Base URL of the mothership coordination service")
	appID := flag.String("app-id", "com.typeworld.client.cli", "This build's app ID, echoed to the mothership")
	commercialApps := flag.String("commercial-apps", "", "Comma-separated commercial app IDs this build is allowed to act as (empty: free build)")
	pubsubProject := flag.String("pubsub-project", "", "GCP project hosting the push-notification message queue (empty disables live push)")
	useOSKeyring := flag.Bool("os-keyring", false, "Use the OS credential store instead of an in-memory keyring")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("Error: must specify a subcommand: add-subscription | list | install | remove | update | link | unlink | daemon\n")
	}

	var prefs preferences.Store
	if *prefsPath == "" {
		prefs = preferences.NewMemory()
	} else {
		p, err := preferences.NewJSON(*prefsPath)
		if err != nil {
			log.Fatal(err)
		}
		prefs = p
	}

	var keys keyring.Keyring
	if *useOSKeyring {
		keys = keyring.NewOS()
	} else {
		keys = keyring.NewMemory()
	}

	commercialAppIDs := parseCommercialApps(*commercialApps)

	mothershipClient := mothership.New(mothership.Config{
		BaseURL:       *mothershipURL,
		AppID:         *appID,
		ClientVersion: clientVersion,
	})

	var pushClient *pubsub.Client
	if *pubsubProject != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c, err := pubsub.NewClient(ctx, *pubsubProject)
		if err != nil {
			log.Fatalf("connecting to push-notification project %s: %v", *pubsubProject, err)
		}
		pushClient = c
	}

	typeworldClient, err := client.New(client.Config{
		Preferences:      prefs,
		Keyring:          keys,
		Protocols:        protocol.NewRegistry(),
		Cache:            cache.New(nil),
		Mothership:       mothershipClient,
		Push:             pushClient,
		AppID:            *appID,
		ClientVersion:    clientVersion,
		CommercialAppIDs: commercialAppIDs,
	})
	if err != nil {
		log.Fatal(err)
	}

	switch args[0] {
	case "add-subscription":
		runAddSubscription(typeworldClient, args[1:])
	case "list":
		runList(typeworldClient)
	case "install":
		runInstall(typeworldClient, args[1:])
	case "remove":
		runRemove(typeworldClient, args[1:])
	case "update":
		runUpdate(typeworldClient, args[1:])
	case "link":
		runLink(typeworldClient, args[1:])
	case "unlink":
		runUnlink(typeworldClient)
	case "daemon":
		runDaemon(typeworldClient)
	default:
		log.Fatalf("Error: unknown subcommand %q\n", args[0])
	}
}

// runDaemon keeps the process alive to service the push channel, the way
// teacher's main.go keeps its HTTP server alive until Ctrl-C.
func runDaemon(c *client.Client) {
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)

	slog.Info("typeworldclient daemon running", "anonymousAppID", c.AnonymousAppID())
	<-ctrlc

	c.Quit()
	slog.Info("typeworldclient daemon stopped")
}

func runAddSubscription(c *client.Client, args []string) {
	fs := flag.NewFlagSet("add-subscription", flag.ExitOnError)
	acceptToS := fs.Bool("accept-tos", false, "Accept this publisher's terms of service")
	revealIdentity := fs.Bool("reveal-identity", false, "Allow this publisher to see the linked user's identity")
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("Error: add-subscription requires exactly one URL argument\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, msg := c.AddSubscription(ctx, fs.Arg(0), client.AddSubscriptionOptions{
		AcceptedTermsOfService: *acceptToS,
		RevealIdentity:         *revealIdentity,
	})
	if !msg.IsZero() {
		log.Fatalf("add-subscription failed: %s\n", msg.String())
	}
	fmt.Printf("subscription added: %v\n", created)
}

func runList(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, pub := range c.Publishers() {
		fmt.Printf("publisher %s (%s)\n", pub.Name(), pub.CanonicalURL)
		for _, sub := range pub.Subscriptions() {
			fmt.Printf("  subscription %s\n", sub.UnsecretURL)
		}
		n, err := pub.AmountInstalledFonts(ctx)
		if err != nil {
			fmt.Printf("  (failed to count installed fonts: %s)\n", err)
			continue
		}
		fmt.Printf("  %d fonts installed\n", n)
	}
}

func runInstall(c *client.Client, args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	unsecretURL := fs.String("subscription", "", "Unsecret URL of the subscription to install from")
	fontID := fs.String("font", "", "Font uniqueID to install")
	version := fs.String("version", "", "Version identifier to install")
	fs.Parse(args)
	if *unsecretURL == "" || *fontID == "" || *version == "" {
		log.Fatal("Error: install requires -subscription, -font and -version\n")
	}

	sub, ok := findSubscription(c, *unsecretURL)
	if !ok {
		log.Fatalf("Error: no such subscription %s\n", *unsecretURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	msg := sub.InstallFonts(ctx, []subscription.FontTarget{{FontUniqueID: *fontID, Version: *version}})
	if !msg.IsZero() {
		log.Fatalf("install failed: %s\n", msg.String())
	}
	fmt.Println("installed")
}

func runRemove(c *client.Client, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	unsecretURL := fs.String("subscription", "", "Unsecret URL of the subscription to remove from")
	fontID := fs.String("font", "", "Font uniqueID to remove")
	dryRun := fs.Bool("dry-run", false, "Report intent to uninstall without touching the filesystem")
	fs.Parse(args)
	if *unsecretURL == "" || *fontID == "" {
		log.Fatal("Error: remove requires -subscription and -font\n")
	}

	sub, ok := findSubscription(c, *unsecretURL)
	if !ok {
		log.Fatalf("Error: no such subscription %s\n", *unsecretURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	msg := sub.RemoveFonts(ctx, []string{*fontID}, *dryRun)
	if !msg.IsZero() {
		log.Fatalf("remove failed: %s\n", msg.String())
	}
	fmt.Println("removed")
}

func runUpdate(c *client.Client, args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	unsecretURL := fs.String("subscription", "", "Unsecret URL of the subscription to update (empty updates every subscription)")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *unsecretURL != "" {
		sub, ok := findSubscription(c, *unsecretURL)
		if !ok {
			log.Fatalf("Error: no such subscription %s\n", *unsecretURL)
		}
		if msg := sub.Update(ctx); !msg.IsZero() {
			log.Fatalf("update failed: %s\n", msg.String())
		}
		fmt.Println("updated")
		return
	}

	for _, pub := range c.Publishers() {
		if msg, _ := pub.Update(ctx); !msg.IsZero() {
			log.Fatalf("update of %s failed: %s\n", pub.CanonicalURL, msg.String())
		}
	}
	fmt.Println("updated all publishers")
}

func runLink(c *client.Client, args []string) {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	secretKey := fs.String("secret-key", "", "Secret key issued after creating/logging into a type.world account")
	fs.Parse(args)
	if *secretKey == "" {
		log.Fatal("Error: link requires -secret-key\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if msg := c.LinkUser(ctx, *secretKey); !msg.IsZero() {
		log.Fatalf("link failed: %s\n", msg.String())
	}
	fmt.Println("linked")
}

func runUnlink(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if msg := c.UnlinkUser(ctx); !msg.IsZero() {
		log.Fatalf("unlink failed: %s\n", msg.String())
	}
	fmt.Println("unlinked")
}

// parseCommercialApps splits a comma-separated flag value into app IDs,
// treating an empty string as "no commercial apps" rather than a single
// empty ID (a free build passes -commercial-apps="").
func parseCommercialApps(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func findSubscription(c *client.Client, unsecretURL string) (*subscription.Subscription, bool) {
	for _, pub := range c.Publishers() {
		if sub, ok := pub.Subscription(unsecretURL); ok {
			return sub, true
		}
	}
	return nil, false
}
