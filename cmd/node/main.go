// cmd/node is the main entrypoint for a lock-store node. Every node runs
// the same binary and can act as coordinator for any key (spec §1) — the
// only per-process difference is configuration.
//
// Configuration is layered the way coredhcp's config loading is: cobra
// flags override a config file loaded through viper, which in turn
// overrides built-in defaults.
//
// Example — single node:
//
//	./node --id n1 --addr :8080
//
// Example — 3-node cluster, n1 as one primary among three:
//
//	./node --id n1 --addr :8080 --primaries n1=localhost:8080,n2=localhost:8081,n3=localhost:8082 --w 2
//	./node --id n2 --addr :8081 --primaries n1=localhost:8080,n2=localhost:8081,n3=localhost:8082 --w 2
//	./node --id n3 --addr :8082 --primaries n1=localhost:8080,n2=localhost:8081,n3=localhost:8082 --w 2
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"distributed-lockstore/internal/coordinator"
	"distributed-lockstore/internal/replica"
	"distributed-lockstore/internal/transport"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one node of a distributed lock store",
		RunE:  runNode,
	}

	flags := cmd.Flags()
	flags.String("id", "n1", "this node's ID")
	flags.String("addr", ":8080", "listen address (host:port)")
	flags.String("primaries", "", "comma-separated id=host:port list of primary nodes, including self")
	flags.String("replicas", "", "comma-separated id=host:port list of replica nodes")
	flags.Int("w", 1, "write quorum size")
	flags.Int64("lock-ttl-ms", replica.DefaultConfig().LockTTLMS, "write-lock TTL in milliseconds")
	flags.Int64("lock-sweep-ms", replica.DefaultConfig().LockSweepPeriod, "write-lock sweep period in milliseconds")
	flags.Int64("lease-sweep-ms", replica.DefaultConfig().LeaseSweepPeriod, "lease sweep period in milliseconds")
	flags.Int64("default-lease-ms", replica.DefaultConfig().DefaultLeaseMS, "default lease length in milliseconds")
	flags.String("config", "", "optional config file (yaml/json/toml), flags take precedence")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func runNode(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	v.SetEnvPrefix("NODE")
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	log := newLogger(v.GetString("log-level"))
	gin.SetMode(gin.ReleaseMode)

	selfID := replica.NodeID(v.GetString("id"))
	addr := v.GetString("addr")

	primaries, err := parseNodeList(v.GetString("primaries"))
	if err != nil {
		return fmt.Errorf("invalid --primaries: %w", err)
	}
	if len(primaries) == 0 {
		primaries = []replica.Node{{ID: selfID, Addr: addr}}
	}
	replicas, err := parseNodeList(v.GetString("replicas"))
	if err != nil {
		return fmt.Errorf("invalid --replicas: %w", err)
	}

	cfg := replica.Config{
		LockTTLMS:        v.GetInt64("lock-ttl-ms"),
		LockSweepPeriod:  v.GetInt64("lock-sweep-ms"),
		LeaseSweepPeriod: v.GetInt64("lease-sweep-ms"),
		DefaultLeaseMS:   v.GetInt64("default-lease-ms"),
	}
	membership := replica.Membership{Primaries: primaries, Replicas: replicas, W: v.GetInt("w")}

	h := replica.NewHandler(selfID, membership, cfg, log.WithField("component", "handler"))
	go h.Run()
	h.StartSweepers()
	defer h.Stop()

	client := transport.NewClient()
	coord := coordinator.New(client, log.WithField("component", "coordinator"))

	self := replica.Node{ID: selfID, Addr: addr}
	server := transport.NewServer(self, h, coord, client, log.WithField("component", "transport"))

	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Engine(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"id": selfID, "addr": addr, "w": membership.W}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.WithField("id", selfID).Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	return nil
}

func newLogger(level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return logrus.NewEntry(log)
}

// parseNodeList parses "id=host:port,id=host:port,..." into Nodes.
func parseNodeList(s string) ([]replica.Node, error) {
	if s == "" {
		return nil, nil
	}
	var nodes []replica.Node
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid entry %q: expected id=host:port", entry)
		}
		nodes = append(nodes, replica.Node{ID: replica.NodeID(parts[0]), Addr: parts[1]})
	}
	return nodes, nil
}
