package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lighthouse-p2p/lighthouse/pkg/client"
	"github.com/lighthouse-p2p/lighthouse/pkg/identity"
	"github.com/lighthouse-p2p/lighthouse/pkg/types"
	"github.com/lighthouse-p2p/lighthouse/pkg/workspace"
)

const defaultServerURL = "http://127.0.0.1:3000"

func main() {
	rootCmd := &cobra.Command{Use: "lighthouse"}
	rootCmd.PersistentFlags().String("server", defaultServerURL, "Lighthouse server URL")
	rootCmd.PersistentFlags().String("dir", "", "Directory where lighthouse state is persisted")

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node keypair and print its id",
		Args:  cobra.NoArgs,
		Run:   runKeygen,
	}

	registerCmd := &cobra.Command{
		Use:   "register [endpoint]",
		Short: "Claim an endpoint for this node's identity",
		Args:  cobra.ExactArgs(1),
		Run:   runRegister,
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup [id]",
		Short: "Resolve a node id to its registered endpoint",
		Args:  cobra.ExactArgs(1),
		Run:   runLookup,
	}
	lookupCmd.Flags().String("client", "", "Endpoint to identify this caller by")

	listConnsCmd := &cobra.Command{
		Use:   "listconns",
		Short: "List lookups recorded against this node's identity",
		Args:  cobra.NoArgs,
		Run:   runListConns,
	}

	wipeCmd := &cobra.Command{
		Use:   "wipe",
		Short: "Reset the server's directory state",
		Args:  cobra.NoArgs,
		Run:   runWipe,
	}
	wipeCmd.Flags().String("token", "", "Admin token")

	rootCmd.AddCommand(keygenCmd, registerCmd, lookupCmd, listConnsCmd, wipeCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to execute command: %q", err)
	}
}

func lighthousePath(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Fatal(err)
		}
		return dir
	}

	dir, err := workspace.EnsureLighthouseDir()
	if err != nil {
		log.Fatal(err)
	}
	return dir
}

func newClient(cmd *cobra.Command) *client.Client {
	serverURL, _ := cmd.Flags().GetString("server")
	return client.New(serverURL)
}

func runKeygen(cmd *cobra.Command, args []string) {
	dir := lighthousePath(cmd)

	_, pub, err := identity.LoadOrCreateKey(dir)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), identity.DeriveID(pub))
}

func runRegister(cmd *cobra.Command, args []string) {
	endpoint, err := types.ParseEndpoint(args[0])
	if err != nil {
		log.Fatalf("invalid endpoint %q: %v", args[0], err)
	}

	dir := lighthousePath(cmd)
	priv, _, err := identity.LoadOrCreateKey(dir)
	if err != nil {
		log.Fatal(err)
	}

	id, err := newClient(cmd).Register(cmd.Context(), priv, endpoint, time.Now().Unix())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
}

func runLookup(cmd *cobra.Command, args []string) {
	id, err := types.ParseNodeID(args[0])
	if err != nil {
		log.Fatalf("invalid id %q: %v", args[0], err)
	}

	clientAddr, _ := cmd.Flags().GetString("client")
	if clientAddr == "" {
		log.Fatal("--client is required")
	}
	clientEndpoint, err := types.ParseEndpoint(clientAddr)
	if err != nil {
		log.Fatalf("invalid client endpoint %q: %v", clientAddr, err)
	}

	endpoint, err := newClient(cmd).Lookup(cmd.Context(), id, clientEndpoint, time.Now().Unix())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), endpoint)
}

func runListConns(cmd *cobra.Command, args []string) {
	dir := lighthousePath(cmd)
	priv, pub, err := identity.LoadKey(dir)
	if err != nil {
		log.Fatalf("no node key found, run keygen first: %v", err)
	}

	conns, err := newClient(cmd).ListConns(cmd.Context(), priv, identity.DeriveID(pub), time.Now().Unix())
	if err != nil {
		log.Fatal(err)
	}

	for _, conn := range conns {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", conn.Client, time.Unix(conn.Timestamp, 0).UTC().Format(time.RFC3339))
	}
}

func runWipe(cmd *cobra.Command, args []string) {
	token, _ := cmd.Flags().GetString("token")

	if err := newClient(cmd).Wipe(cmd.Context(), token); err != nil {
		log.Fatal(err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "wiped")
}
