package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/discovery"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/config"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/logging"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/klw"
)

// Default configuration file path, overridden by --config or KLWIOT_CONFIG.
const defaultConfigPath = "configs/klwbridge.yaml"

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	host       string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "klwbridge",
		Short:         "KLW IOT gateway client and MQTT bridge",
		Long:          `Connects to a KLW IOT home-automation gateway, mirrors its devices to MQTT and executes commands.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (default $KLWIOT_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&opts.host, "host", "", "gateway address, overrides gateway.host")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newRunCmd(opts),
		newDiscoverCmd(opts),
		newDevicesCmd(opts),
		newControlCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// resolveConfigPath applies the flag, then KLWIOT_CONFIG, then the default.
func (o *options) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p := os.Getenv("KLWIOT_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig reads the configuration and applies --host. A missing
// default file is not an error unless requireFile is set: defaults plus
// environment plus --host are enough to reach a gateway. Discovery needs
// no gateway, so it passes validate=false.
func (o *options) loadConfig(requireFile, validate bool) (*config.Config, error) {
	path := o.resolveConfigPath()
	cfg, err := config.LoadFile(path)
	if err != nil {
		explicit := o.configPath != "" || os.Getenv("KLWIOT_CONFIG") != ""
		if requireFile || explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = config.FromEnv()
	}

	if o.host != "" {
		cfg.Gateway.Host = o.host
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the gateway session and the MQTT bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(true, true)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func newDiscoverCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find KLW gateways on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false, false)
			if err != nil {
				return err
			}

			d := cfg.Discovery
			if !cmd.Flags().Changed("timeout") {
				timeout = config.Seconds(d.Timeout)
			}
			scanner := discovery.New(discovery.Options{
				Port:           d.Port,
				Broadcast:      d.Broadcast,
				MulticastGroup: d.MulticastGroup,
				Timeout:        timeout,
				Logger:         logging.New(cfg.Logging, version).Component("discovery"),
			})

			fmt.Fprintln(cmd.ErrOrStderr(), "Searching for gateways...")
			gateways, err := scanner.Search(cmd.Context())
			if err != nil {
				return fmt.Errorf("discovery: %w", err)
			}
			return printGateways(cmd.OutOrStdout(), gateways, opts.jsonOutput)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultTimeout, "how long to collect replies")
	return cmd
}

func newDevicesCmd(opts *options) *cobra.Command {
	var settle time.Duration
	var raw bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Log in to the gateway and list its devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false, true)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging, version)

			client, closeStore, err := connectGateway(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			defer client.Stop()

			// The gateway answers the post-login queries over the next
			// seconds; give it time before reading the bucket.
			select {
			case <-time.After(settle):
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			if raw {
				return printBuffers(cmd.OutOrStdout(), client.Buffers().All(), opts.jsonOutput)
			}
			return printDevices(cmd.OutOrStdout(), client.Devices(), opts.jsonOutput)
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 3*time.Second, "time to collect device states after login")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the last instruction per uid of every category buffer")
	return cmd
}

func newControlCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control <action> <oid> [value]",
		Short: "Send one control action to a device",
		Long: `Sends a controller action such as DeviceOn, SetBrightness or SetColor.
The value is parsed as JSON when possible: 50, "3", {"r":255,"g":0,"b":0}.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(false, true)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging, version)

			item := klw.Item{ID: args[1]}
			if len(args) == 3 {
				item.Value = parseValue(args[2])
			}

			client, closeStore, err := connectGateway(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			defer client.Stop()

			if _, ok := client.Device(item.ID); !ok {
				return fmt.Errorf("device %s is not known to the gateway", item.ID)
			}

			before := client.Stats().FramesTx
			queued := client.Control(klw.Action(args[0]), []klw.Item{item})
			if queued == 0 {
				return fmt.Errorf("%s produced no instruction for %s", args[0], item.ID)
			}
			if err := waitSent(cmd.Context(), client, before+uint64(queued), 5*time.Second); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d instruction(s)\n", queued)
			return nil
		},
	}
	return cmd
}

// parseValue decodes arg as JSON and falls back to the raw string.
func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// connectGateway opens the record store, starts a session and waits for
// the login verdict.
func connectGateway(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*klw.Client, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	kcfg, err := gatewayConfig(cfg, store, logger.Component("gateway"))
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	client, err := klw.New(kcfg)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("creating gateway client: %w", err)
	}

	timeout := config.Seconds(cfg.Gateway.ConnectTimeout) + time.Duration(cfg.Gateway.LoginTimeoutMs)*time.Millisecond
	if err := connectAndWait(ctx, client, timeout); err != nil {
		client.Stop()
		closeStore()
		return nil, nil, err
	}
	return client, closeStore, nil
}

// connectAndWait starts the session and waits until it is authenticated.
func connectAndWait(ctx context.Context, client *klw.Client, timeout time.Duration) error {
	verdict := make(chan error, 1)
	report := func(err error) {
		select {
		case verdict <- err:
		default:
		}
	}
	unsubOK := client.Subscribe(klw.EventLoginSuccess, func(klw.Event) { report(nil) })
	defer unsubOK()
	unsubFail := client.Subscribe(klw.EventLoginFailure, func(ev klw.Event) { report(ev.Err) })
	defer unsubFail()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	if client.IsConnected() {
		return nil
	}

	select {
	case err := <-verdict:
		if err != nil {
			return fmt.Errorf("gateway login: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("gateway %s: no login within %v", client.Address(), timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitSent waits until the session has written target frames in total.
func waitSent(ctx context.Context, client *klw.Client, target uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for client.Stats().FramesTx < target {
		if time.Now().After(deadline) {
			return errors.New("instructions still queued at timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

func printGateways(w io.Writer, gateways []discovery.Gateway, asJSON bool) error {
	if asJSON {
		return writeJSON(w, gateways)
	}
	if len(gateways) == 0 {
		fmt.Fprintln(w, "No gateways found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SID\tIP\tNAME\tMAC\tVERSION")
	for _, g := range gateways {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", g.SID, g.IP, g.Name, g.MAC, g.Version)
	}
	return tw.Flush()
}

func printDevices(w io.Writer, records []klw.Record, asJSON bool) error {
	slices.SortFunc(records, func(a, b klw.Record) int { return cmp.Compare(a.OID, b.OID) })
	if asJSON {
		return writeJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No devices reported.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OID\tKIND\tFLOOR\tROOM\tNAME\tON")
	for _, r := range records {
		d := r.Detail
		if d == nil {
			fmt.Fprintf(tw, "%s\t-\t\t\t\t\n", r.OID)
			continue
		}
		on := "-"
		if d.On != nil {
			on = fmt.Sprint(*d.On)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.OID, d.Kind, d.FloorName, d.RoomName, d.DeviceName, on)
	}
	return tw.Flush()
}

// printBuffers lists the last instruction per uid of each non-empty buffer.
func printBuffers(w io.Writer, buffers []*klw.Buffer, asJSON bool) error {
	dump := make(map[string]map[string]string)
	for _, b := range buffers {
		snap := b.Snapshot()
		if len(snap) == 0 {
			continue
		}
		entries := make(map[string]string, len(snap))
		for uid, ins := range snap {
			entries[uid] = ins.String()
		}
		dump[b.Name()] = entries
	}
	if asJSON {
		return writeJSON(w, dump)
	}
	if len(dump) == 0 {
		fmt.Fprintln(w, "No instructions buffered.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUFFER\tUID\tINSTRUCTION")
	for _, name := range slices.Sorted(maps.Keys(dump)) {
		for _, uid := range slices.Sorted(maps.Keys(dump[name])) {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, uid, dump[name][uid])
		}
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
