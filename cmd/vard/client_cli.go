package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/varserver/vard"
	"github.com/varserver/vard/api"
	"github.com/varserver/vard/client"
	"github.com/varserver/vard/internal/version"
	"github.com/varserver/vard/vquery"
)

const (
	clientServerKey   = "client.server"
	clientTimeoutKey  = "client.timeout"
	clientLogLevelKey = "client.log_level"
)

type clientCLIConfig struct{}

func addClientConnectionFlags(cmd *cobra.Command) *clientCLIConfig {
	flags := cmd.PersistentFlags()
	defaultServer := "unix://" + filepath.Join(vard.DefaultRuntimeDir(), vard.DefaultSocketName)
	flags.StringP("server", "s", defaultServer, "vard server base URL (unix:///path or http://host:port)")
	flags.Duration("timeout", 0, "HTTP client timeout (0 uses the client default)")
	flags.String("client-log-level", "none", "client log level (trace|debug|info|warn|error|none)")

	mustBindFlag(clientServerKey, "VARD_SERVER", flags.Lookup("server"))
	mustBindFlag(clientTimeoutKey, "VARD_CLIENT_TIMEOUT", flags.Lookup("timeout"))
	mustBindFlag(clientLogLevelKey, "VARD_CLIENT_LOG_LEVEL", flags.Lookup("client-log-level"))
	return &clientCLIConfig{}
}

func (c *clientCLIConfig) client() (*client.Client, error) {
	opts := []client.Option{}
	if d := viper.GetDuration(clientTimeoutKey); d > 0 {
		opts = append(opts, client.WithTimeout(d))
	}
	if lvl := strings.TrimSpace(viper.GetString(clientLogLevelKey)); lvl != "" && lvl != "none" {
		if level, ok := pslog.ParseLevel(lvl); ok {
			logger := pslog.NewStructured(os.Stderr).LogLevel(level).With("app", "vard-cli")
			opts = append(opts, client.WithLogger(logger))
		}
	}
	return client.New(viper.GetString(clientServerKey), opts...)
}

func newVarsCommand(cfg *clientCLIConfig) *cobra.Command {
	var (
		nameMatch  string
		regex      string
		flagSpec   string
		negate     bool
		tagSpec    string
		instanceID uint32
		showValues bool
	)
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "List variables matching name, regex, flag, tag, and instance filters",
		Example: `  # All variables whose name contains "sys.", with values
  vard vars -n sys. -v

  # Variables carrying the readonly flag
  vard vars -f readonly

  # Everything except hidden variables
  vard vars -f hidden -F`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode vquery.SearchMode
			if nameMatch != "" {
				mode |= vquery.MatchName
			}
			pattern := nameMatch
			if regex != "" {
				mode |= vquery.MatchRegex
				pattern = regex
			}
			var flagBits api.Flags
			if flagSpec != "" {
				parsed, err := api.ParseFlags(flagSpec)
				if err != nil {
					return err
				}
				flagBits = parsed
				mode |= vquery.MatchFlags
			}
			if negate {
				mode |= vquery.NegateFlags
			}
			if tagSpec != "" {
				mode |= vquery.MatchTags
			}
			if cmd.Flags().Changed("instance") {
				mode |= vquery.MatchInstanceID
			}
			if showValues {
				mode |= vquery.ShowValue
			}
			q, err := vquery.New(mode, pattern, tagSpec, instanceID, flagBits)
			if err != nil {
				return err
			}
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			return vquery.Search(cmd.Context(), cli.Remote(), q, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&nameMatch, "name", "n", "", "match variables whose name contains this substring")
	cmd.Flags().StringVarP(&regex, "regex", "r", "", "match variable names against this regular expression")
	cmd.Flags().StringVarP(&flagSpec, "flags", "f", "", "match variables with any of these flags (comma-separated)")
	cmd.Flags().BoolVarP(&negate, "negate-flags", "F", false, "invert the flags filter")
	cmd.Flags().StringVarP(&tagSpec, "tags", "t", "", "match variables carrying all of these tags (comma-separated)")
	cmd.Flags().Uint32VarP(&instanceID, "instance", "i", 0, "match variables with this instance identifier")
	cmd.Flags().BoolVarP(&showValues, "values", "v", false, "append =value to each match")
	return cmd
}

func newGetCommand(cfg *clientCLIConfig) *cobra.Command {
	var (
		instanceID uint32
		outputPath string
		noNewline  bool
		wait       bool
	)
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Print a variable's formatted value",
		Example: `  # Print the value of temp.cpu
  vard get temp.cpu

  # Block until the variable changes, then print the new value
  vard get -w temp.cpu`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx := cmd.Context()
			res, err := cli.Get(ctx, api.GetRequest{Name: args[0], InstanceID: instanceID})
			if err != nil {
				return err
			}
			if wait {
				w, err := cli.Watch(ctx, api.WatchRequest{Handle: res.Handle, Seq: res.Seq})
				if err != nil {
					return err
				}
				for !w.Changed {
					w, err = cli.Watch(ctx, api.WatchRequest{Handle: res.Handle, Seq: res.Seq})
					if err != nil {
						return err
					}
				}
				res, err = cli.Get(ctx, api.GetRequest{Handle: res.Handle})
				if err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if outputPath != "" && outputPath != "-" {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			value := res.Value
			if res.Formatted != "" {
				value = res.Formatted
			}
			if _, err := io.WriteString(out, value); err != nil {
				return err
			}
			if !noNewline {
				_, err = io.WriteString(out, "\n")
			}
			return err
		},
	}
	cmd.Flags().Uint32VarP(&instanceID, "instance", "i", 0, "instance identifier to scope the lookup")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "output file (use - for stdout)")
	cmd.Flags().BoolVarP(&noNewline, "no-newline", "N", false, "omit the trailing newline")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the variable to change before printing")
	return cmd
}

func newSetCommand(cfg *clientCLIConfig) *cobra.Command {
	var instanceID uint32
	cmd := &cobra.Command{
		Use:           "set NAME VALUE",
		Short:         "Assign a new value to a variable",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			_, err = cli.Set(cmd.Context(), api.SetRequest{
				Name:       args[0],
				InstanceID: instanceID,
				Value:      args[1],
			})
			return err
		},
	}
	cmd.Flags().Uint32VarP(&instanceID, "instance", "i", 0, "instance identifier to scope the lookup")
	return cmd
}

func newCreateCommand(cfg *clientCLIConfig) *cobra.Command {
	var req api.CreateRequest
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a new variable",
		Example: `  # A tagged, readonly string variable with an initial value
  vard create sys.hostname --type str --value node1 --flags readonly --tags system`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			req.Name = args[0]
			res, err := cli.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", res.Handle)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Type, "type", "T", "str", "variable type (uint16|int16|uint32|int32|uint64|int64|float|str|blob)")
	cmd.Flags().StringVarP(&req.Value, "value", "V", "", "initial value")
	cmd.Flags().StringVarP(&req.Flags, "flags", "f", "", "comma-separated flags (volatile|readonly|hidden)")
	cmd.Flags().StringVarP(&req.Tags, "tags", "t", "", "comma-separated tags")
	cmd.Flags().StringVar(&req.Format, "format", "", "printf-style format specifier used when rendering")
	cmd.Flags().Uint32VarP(&req.InstanceID, "instance", "i", 0, "instance identifier")
	cmd.Flags().Uint32Var(&req.GUID, "guid", 0, "caller-assigned globally unique identifier")
	return cmd
}

func newFlagsCommand(cfg *clientCLIConfig) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "flags MATCH FLAGS",
		Short: "Set or clear flags on every variable whose name contains MATCH",
		Example: `  # Mark every sys.* variable readonly
  vard flags sys. readonly

  # Clear the hidden flag from debug variables
  vard flags debug. hidden --clear`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			op := api.FlagOpSet
			if clear {
				op = api.FlagOpClear
			}
			affected, err := cli.ModifyFlags(cmd.Context(), args[0], args[1], op)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", affected)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the flags instead of setting them")
	return cmd
}

func newAliasCommand(cfg *clientCLIConfig) *cobra.Command {
	var instanceID uint32
	cmd := &cobra.Command{
		Use:           "alias NAME ALIAS",
		Short:         "Register an additional name for an existing variable",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			_, err = cli.Alias(cmd.Context(), api.AliasRequest{
				Name:       args[0],
				InstanceID: instanceID,
				Alias:      args[1],
			})
			return err
		},
	}
	cmd.Flags().Uint32VarP(&instanceID, "instance", "i", 0, "instance identifier to scope the lookup")
	return cmd
}

func newWatchCommand(cfg *clientCLIConfig) *cobra.Command {
	var (
		instanceID uint32
		count      int
	)
	cmd := &cobra.Command{
		Use:   "watch NAME",
		Short: "Print a variable's value each time it changes",
		Example: `  # Follow changes until interrupted
  vard watch temp.cpu

  # Print the first three changes, then exit
  vard watch temp.cpu --count 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx := cmd.Context()
			res, err := cli.Get(ctx, api.GetRequest{Name: args[0], InstanceID: instanceID})
			if err != nil {
				return err
			}
			seq := res.Seq
			seen := 0
			for count <= 0 || seen < count {
				w, err := cli.Watch(ctx, api.WatchRequest{Handle: res.Handle, Seq: seq})
				if err != nil {
					return err
				}
				if !w.Changed {
					continue
				}
				seq = w.Seq
				seen++
				fmt.Fprintln(cmd.OutOrStdout(), w.Value)
			}
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&instanceID, "instance", "i", 0, "instance identifier to scope the lookup")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many changes (0 follows forever)")
	return cmd
}

func newTemplateCommand(cfg *clientCLIConfig) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "template FILE",
		Short: "Expand ${name} variable references in a template file",
		Example: `  # Render a config template with live variable values
  vard template motd.tmpl -o /etc/motd`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			var src io.Reader
			if args[0] == "-" {
				src = cmd.InOrStdin()
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			out := cmd.OutOrStdout()
			if outputPath != "" && outputPath != "-" {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return cli.ExpandTemplate(cmd.Context(), src, out)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "output file (use - for stdout)")
	return cmd
}

func newStatusCommand(cfg *clientCLIConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show server diagnostics",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.client()
			if err != nil {
				return err
			}
			defer cli.Close()
			st, err := cli.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run-id:    %s\n", st.RunID)
			fmt.Fprintf(out, "version:   %s\n", st.Version)
			fmt.Fprintf(out, "uptime:    %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
			fmt.Fprintf(out, "variables: %s\n", humanize.Comma(int64(st.Variables)))
			fmt.Fprintf(out, "tags:      %s\n", humanize.Comma(int64(st.Tags)))
			if st.RSSBytes > 0 {
				fmt.Fprintf(out, "rss:       %s\n", humanize.Bytes(st.RSSBytes))
			}
			var total uint64
			for _, n := range st.Requests {
				total += n
			}
			fmt.Fprintf(out, "requests:  %s\n", humanize.Comma(int64(total)))
			return nil
		},
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the vard version",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Current())
			return nil
		},
	}
}
