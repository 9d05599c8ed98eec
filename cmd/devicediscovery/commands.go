package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	appevents "github.com/rescp17/devicediscovery/internal/app_events"
	receiverevents "github.com/rescp17/devicediscovery/internal/app_events/receiver"
	"github.com/rescp17/devicediscovery/internal/style"
	"github.com/rescp17/devicediscovery/internal/util"
	"github.com/rescp17/devicediscovery/pkg/discovery"
	"github.com/rescp17/devicediscovery/pkg/receiver"
	"github.com/rescp17/devicediscovery/pkg/sender"
	"github.com/rescp17/devicediscovery/pkg/server"
	"github.com/rescp17/devicediscovery/pkg/transport"
)

const defaultBrowseTimeout = 5 * time.Second

func (o *options) builder() *server.Builder {
	b := server.NewBuilder().
		Name(o.name).
		Layer(transport.LayerTCP).
		Discovery(transport.DNSServiceDiscovery).
		Port(transport.Port(o.port)).
		ShutdownTimeout(o.shutdownTimeout)
	if o.cacheDir != "" {
		b.CacheDir(o.cacheDir)
	}
	return b
}

func newShareCmd(opts *options, defaults server.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share [dir]",
		Short: "Share a directory and accept uploads from peers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			shareDir, err := absDir(dir)
			if err != nil {
				return err
			}
			inbox, err := absDir(opts.inbox)
			if err != nil {
				return err
			}

			app, err := receiver.NewApp(shareDir, inbox, opts.index)
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := opts.builder().
				Protocol(transport.ProtocolHTTP).
				Listener(app.Listener()).
				Build()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go printReceiverMessages(ctx, cmd.OutOrStdout(), opts.name, app.UIMessages())
			return serve(ctx, s, nil)
		},
	}
	cmd.Flags().StringVar(&opts.inbox, "inbox", "inbox", "Directory uploads are stored in")
	cmd.Flags().StringVar(&opts.index, "index", defaults.DefaultDocument, "Document served for directory requests")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "Directory for uploads in progress")
	return cmd
}

func newHostCmd(opts *options, defaults server.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host [dir]",
		Short: "Host a directory as a read-only static site",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			root, err := absDir(dir)
			if err != nil {
				return err
			}

			s, err := opts.builder().
				Protocol(transport.ProtocolHTTPHosting).
				RootDir(root).
				DefaultDocument(opts.index).
				Build()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), s, func(addr transport.Address) {
				fmt.Fprintln(cmd.OutOrStdout(), style.Banner("Hosting "+opts.name, addr.String(), style.HelpStyle.Render(root)))
			})
		},
	}
	cmd.Flags().StringVar(&opts.index, "index", defaults.DefaultDocument, "Document served for directory requests")
	return cmd
}

func newBrowseCmd() *cobra.Command {
	var (
		serviceType string
		timeout     = defaultBrowseTimeout
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List peers advertising on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			var latest []discovery.ServiceInfo
			err := sender.NewApp(nil).Browse(ctx, serviceType, func(services []discovery.ServiceInfo) {
				latest = services
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPeers(latest))
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceType, "type", transport.ServiceType(transport.ProtocolHTTP, transport.LayerTCP), "DNS-SD service type to look for")
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "How long to listen for announcements")
	return cmd
}

func newGetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <url>...",
		Short: "Download files from a peer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := sender.NewApp(nil).Fetch(cmd.Context(), out, args...)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(nodes))
			for _, n := range nodes {
				sum := n.Checksum
				if len(sum) > 12 {
					sum = sum[:12]
				}
				rows = append(rows, []string{n.Name, util.FormatSize(n.Size), sum})
			}
			fmt.Fprint(cmd.OutOrStdout(), style.Table([]string{"FILE", "SIZE", "SHA-256"}, []int{32, 10, 12}, rows))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Directory to save files in")
	return cmd
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <url> <file>...",
		Short: "Upload files to a peer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := sender.NewApp(nil).Upload(cmd.Context(), args[0], args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), style.SuccessStyle.Render("Peer replied: "+reply))
			return nil
		},
	}
}

func printReceiverMessages(ctx context.Context, w io.Writer, name string, msgs <-chan appevents.AppUIMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			if line := describeReceiverMessage(name, msg); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}
}

func describeReceiverMessage(name string, msg appevents.AppUIMessage) string {
	switch m := msg.(type) {
	case receiverevents.EstablishedMsg:
		return style.Banner("Sharing "+name, m.Address.String())
	case receiverevents.FileServedMsg:
		return style.HelpStyle.Render("served " + m.Path)
	case receiverevents.FilesReceivedMsg:
		rows := make([][]string, 0, len(m.Files))
		for _, f := range m.Files {
			rows = append(rows, []string{f.Name, util.FormatSize(f.Size), f.MimeType})
		}
		return style.HighlightFontStyle.Render(fmt.Sprintf("received %d file(s)", len(m.Files))) + "\n" +
			style.Table([]string{"FILE", "SIZE", "TYPE"}, []int{32, 10, 24}, rows)
	case appevents.ErrorMsg:
		return style.ErrorStyle.Render(m.Err.Error())
	default:
		return ""
	}
}

func renderPeers(services []discovery.ServiceInfo) string {
	if len(services) == 0 {
		return style.WarningStyle.Render("No peers found") + "\n"
	}
	rows := make([][]string, 0, len(services))
	for _, s := range services {
		addr, err := sender.ServiceURL(s)
		if err != nil {
			addr = "-"
		}
		rows = append(rows, []string{s.Name, addr})
	}
	return style.Table([]string{"NAME", "URL"}, []int{28, 32}, rows)
}
