// Tracker CLI - command line peer for the chat swarm tracker
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/tracker/clients/go/tracker"
)

var (
	serverURL string
	client    *tracker.Client
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Command line peer for the chat swarm tracker",
	Long: `tracker talks to a chat swarm tracker as one peer.

Environment:
  TRACKER_URL      Server URL (default: http://127.0.0.1:9000)
  TRACKER_CONFIG   Config directory (default: ~/.tracker)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = tracker.NewClient(serverURL)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a peer ID and keypair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.GenerateIdentity(); err != nil {
			return err
		}
		if err := client.SaveIdentity(); err != nil {
			return err
		}
		fmt.Printf("Peer ID: %s\nPubkey:  %s\n", client.PeerID, client.PublicKeyB64())
		return nil
	},
}

var announceCmd = &cobra.Command{
	Use:   "announce <chat_id> [ip] [port]",
	Short: "Join a chat swarm",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.Announce(args[0], arg(args, 1), arg(args, 2)); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers <chat_id>",
	Short: "List live peers of a swarm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peers, err := client.GetPeers(args[0])
		if err != nil {
			return err
		}
		for _, p := range peers {
			fmt.Printf("  %s  %s:%s\n", p.PeerID, p.IP, p.Port)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat_id> <peer_id> <message>",
	Short: "Seal and send a message to a peer",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		peers, err := client.GetPeers(args[0])
		if err != nil {
			return err
		}
		for _, p := range peers {
			if p.PeerID == args[1] {
				if err := client.SendSealed(p, args[2]); err != nil {
					return err
				}
				fmt.Println("ok")
				return nil
			}
		}
		return fmt.Errorf("peer %s is not in swarm %s", args[1], args[0])
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Drain and open this peer's messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := client.GetMessages()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			text, err := client.OpenMessage(m)
			if err != nil {
				text = m.Text
			}
			printMessage(m, text)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Register a username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.RegisterUser(args[0]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var psendCmd = &cobra.Command{
	Use:   "psend <username> <message>",
	Short: "Send a private message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.SendPrivateMessage(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var pinboxCmd = &cobra.Command{
	Use:   "pinbox <username>",
	Short: "Drain a username's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := client.GetPrivateMessages(args[0])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(m, m.Text)
		}
		return nil
	},
}

var trackersCmd = &cobra.Command{
	Use:   "trackers",
	Short: "List public trackers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		trackers, err := client.PublicTrackers()
		if err != nil {
			return err
		}
		for _, t := range trackers {
			fmt.Printf("  %s  %s\n", t.URL, t.Description)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Health()
		if err != nil {
			return err
		}
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", os.Getenv("TRACKER_URL"), "Tracker server URL")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(announceCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(psendCmd)
	rootCmd.AddCommand(pinboxCmd)
	rootCmd.AddCommand(trackersCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func printMessage(m tracker.Message, text string) {
	fmt.Printf("[%s] %s: %s\n", m.Time().Format("2006-01-02 15:04:05"), m.From, text)
}
