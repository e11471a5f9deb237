package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lytics/fault"
	"github.com/lytics/fault/plan"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	etcdv3 "go.etcd.io/etcd/client/v3"
)

type globalOptions struct {
	endpoints []string
	namespace string
	timeout   time.Duration
	verbose   bool
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&o.endpoints, "etcd", []string{"localhost:2379"}, "etcd endpoints")
	fs.StringVarP(&o.namespace, "namespace", "n", "", "namespace the injectors are advertised in")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "timeout of each request")
	fs.BoolVar(&o.verbose, "verbose", false, "log client connections and plan steps")
}

// connect to etcd and return a client of the namespace. The returned
// func closes both.
func (o *globalOptions) connect() (*fault.Client, func(), error) {
	if o.namespace == "" {
		return nil, nil, fmt.Errorf("--namespace is required")
	}
	etcd, err := etcdv3.New(etcdv3.Config{
		Endpoints:   o.endpoints,
		DialTimeout: o.timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	cfg := fault.ClientCfg{Namespace: o.namespace, Timeout: o.timeout}
	if o.verbose {
		cfg.Logger = klogger{}
	}
	client, err := fault.NewClient(etcd, cfg)
	if err != nil {
		etcd.Close()
		return nil, nil, err
	}
	return client, func() {
		client.Close()
		etcd.Close()
	}, nil
}

func (o *globalOptions) logger() plan.Logger {
	if o.verbose {
		return klogger{}
	}
	return nil
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "faultctl [command] (flags)",
		Short: "control the fault points of running engines",
		Long: `control the fault points of running engines

Engines expose their fault injector over gRPC and advertise it in etcd.
faultctl finds them by namespace and name, see "faultctl list".
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(root.PersistentFlags())

	root.AddCommand(
		newArmCommand(opts),
		newPointCommand(opts, "reset", "reset a fault point, waking its suspended workers", (*fault.Client).Reset),
		newPointCommand(opts, "resume", "resume the workers suspended at a fault point", (*fault.Client).Resume),
		newPointCommand(opts, "status", "print the status of a fault point", (*fault.Client).Status),
		newListCommand(opts),
		newWaitCommand(opts),
		newApplyCommand(opts),
		newTypesCommand(),
	)
	return root
}

func newArmCommand(opts *globalOptions) *cobra.Command {
	var (
		f        fault.Fault
		typeName string
		ddlName  string
	)
	cmd := &cobra.Command{
		Use:   "arm INJECTOR POINT --type TYPE (flags)",
		Short: "arm a fault at a point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if f.Type, err = fault.ParseType(typeName); err != nil {
				return err
			}
			if f.DDL, err = fault.ParseDDLStatement(ddlName); err != nil {
				return err
			}
			f.Name = args[1]

			client, closer, err := opts.connect()
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			snap, err := client.Arm(ctx, args[0], f)
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), args[0], snap)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&typeName, "type", "t", "", "fault type, see \"faultctl types\"")
	fs.IntVarP(&f.Budget, "budget", "b", 1, "number of times the fault fires, -1 for unlimited")
	fs.IntVar(&f.StartOccurrence, "start", 1, "matching reach at which the fault starts firing")
	fs.IntVar(&f.Extra, "extra", 0, "extra argument of the fault, ie: seconds to sleep")
	fs.StringVar(&ddlName, "ddl", "", "only count reaches running this DDL statement")
	fs.StringVar(&f.Database, "database", "", "only count reaches in this database")
	fs.StringVar(&f.Table, "table", "", "only count reaches on this table")
	cmd.MarkFlagRequired("type")
	return cmd
}

type pointFunc func(c *fault.Client, ctx context.Context, injector, point string) (fault.Snapshot, error)

func newPointCommand(opts *globalOptions, use, short string, call pointFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " INJECTOR POINT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closer, err := opts.connect()
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			snap, err := call(client, ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), args[0], snap)
			return nil
		},
	}
}

func newListCommand(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list [INJECTOR...]",
		Short: "list injectors, or the fault points of injectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closer, err := opts.connect()
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			injectors := args
			if len(injectors) == 0 {
				if injectors, err = client.Injectors(ctx); err != nil {
					return err
				}
				if !all {
					for _, name := range injectors {
						fmt.Fprintln(cmd.OutOrStdout(), name)
					}
					return nil
				}
			}
			w := newTable(cmd.OutOrStdout())
			for _, injector := range injectors {
				points, err := client.List(ctx, injector)
				if err != nil {
					return fmt.Errorf("listing %v: %w", injector, err)
				}
				for _, p := range points {
					w.row(injector, p)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list the fault points of every injector")
	return cmd
}

func newWaitCommand(opts *globalOptions) *cobra.Command {
	var (
		count   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait INJECTOR POINT (flags)",
		Short: "wait until a fault point has fired",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closer, err := opts.connect()
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			snap, err := client.WaitUntilTriggered(ctx, args[0], args[1], count)
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), args[0], snap)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of times the point must have fired")
	cmd.Flags().DurationVar(&timeout, "wait-timeout", 5*time.Minute, "how long to wait")
	return cmd
}

func newApplyCommand(opts *globalOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "apply PLAN_FILE",
		Short: "apply the steps of a fault plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				b, err := p.Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}

			client, closer, err := opts.connect()
			if err != nil {
				return err
			}
			defer closer()

			results, err := plan.Apply(cmd.Context(), client, p, opts.logger())
			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the plan without applying it")
	return cmd
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "print the fault types, DDL statements and states",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printDomains(cmd.OutOrStdout())
		},
	}
}
