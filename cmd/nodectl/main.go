// cmd/nodectl is the CLI client built with Cobra.
//
// Usage:
//
//	nodectl lock mykey myvalue                --node http://localhost:8080
//	nodectl release mykey myvalue             --node http://localhost:8080
//	nodectl extend-lease mykey myvalue 5000   --node http://localhost:8080
//	nodectl dirty-read mykey                  --node http://localhost:8080
//	nodectl nodes                             --node http://localhost:8080
//	nodectl debug-state                       --node http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"distributed-lockstore/internal/replica"
	"distributed-lockstore/internal/transport"
)

var (
	nodeAddr string
	timeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "nodectl",
		Short: "CLI client for a distributed lock-store node",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "node", "n",
		"http://localhost:8080", "node address (scheme://host:port)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second,
		"request timeout")

	root.AddCommand(
		lockCmd(),
		releaseCmd(),
		extendLeaseCmd(),
		dirtyReadCmd(),
		setWCmd(),
		removeNodeCmd(),
		nodesCmd(),
		debugStateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// target strips nodeAddr's scheme, if any, since transport.Client always
// dials its peers over plain http://.
func target() replica.Node {
	addr := nodeAddr
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimPrefix(addr, "http://")
	return replica.Node{ID: "target", Addr: addr}
}

// ctxWithTimeout builds a bounded context for one CLI call.
func ctxWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func lockCmd() *cobra.Command {
	var leaseMS int64
	cmd := &cobra.Command{
		Use:   "lock <key> <value>",
		Short: "Acquire the key's value under quorum (write-lock, then commit)",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			result, err := c.Lock(ctx, target(), replica.Key(args[0]), replica.Value(args[1]), leaseMS)
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
	cmd.Flags().Int64Var(&leaseMS, "lease-ms", 2000, "lease length in milliseconds")
	return cmd
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <key> <value>",
		Short: "Delete key under quorum, proving ownership with value",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			result, err := c.ReleaseKey(ctx, target(), replica.Key(args[0]), replica.Value(args[1]))
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func extendLeaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extend-lease <key> <value> <extend_ms>",
		Short: "Extend a key's lease under quorum",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			extendMS, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid extend_ms: %w", err)
			}
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			if err := c.ExtendLeaseKey(ctx, target(), replica.Key(args[0]), replica.Value(args[1]), extendMS); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func dirtyReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dirty-read <key>",
		Short: "Read a key directly from one node, no consistency guarantee",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			value, err := c.DirtyRead(ctx, target(), replica.Key(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
}

func setWCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-w <w>",
		Short: "Set the write quorum size on a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			w, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid w: %w", err)
			}
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			return c.SetW(ctx, target(), w)
		},
	}
}

func removeNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-node <node_id>",
		Short: "Remove a node from this node's membership view",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			return c.RemoveNode(ctx, target(), replica.NodeID(args[0]), false)
		},
	}
}

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the node's known membership",
		RunE: func(_ *cobra.Command, _ []string) error {
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			m, err := c.GetNodes(ctx, target())
			if err != nil {
				return err
			}
			prettyPrint(m)
			return nil
		},
	}
}

func debugStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug-state",
		Short: "Dump the node's locks, store contents, and membership",
		RunE: func(_ *cobra.Command, _ []string) error {
			c := transport.NewClient()
			ctx, cancel := ctxWithTimeout()
			defer cancel()
			ds, err := c.GetDebugState(ctx, target())
			if err != nil {
				return err
			}
			prettyPrint(ds)
			return nil
		},
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
