package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-ows/internal/config"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/server"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// Options defines all CLI flags and env vars for the OWS server.
// Flags: --host, --port, --data-dir, --web-dir, --config
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_WEB_DIR, SERVICE_CONFIG
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir string `doc:"Directory for endpoints, DuckDB and ows.yaml" default:".data"`
	WebDir  string `doc:"Path to web/ directory" default:"web"`
	Config  string `doc:"Path to ows.yaml (default: ./ows.yaml or <data-dir>/ows.yaml)"`
}

func newServer(opts *Options) *server.Server {
	app, err := config.Load(opts.Config, opts.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(app.Log.Level, app.Log.Format)

	srv, err := server.New(server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		WebDir:  opts.WebDir,
		App:     app,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}
	return srv
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv := newServer(opts)

		hooks.OnStart(func() {
			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-ows API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Editor:  %s/editor\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			srv.Close()
		})
	})

	cli.Root().Use = "ows"
	cli.Root().Short = "Client for OGC WMS, WFS and SOS services"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			if err := printEncoded(spec, useYAML); err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// capabilities subcommand: fetch and list a service's entries
	capsCmd := &cobra.Command{
		Use:   "capabilities <wms|wfs|sos>",
		Short: "Fetch GetCapabilities and list the selectable entries",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			kind, err := ows.ParseKind(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			srv := newServer(opts)
			defer srv.Close()

			s := srv.Services().Sessions.Create()
			if url, _ := cmd.Flags().GetString("url"); url != "" {
				s.SetServiceURL(kind, url)
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			cat, err := s.FetchCapabilities(ctx, kind)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error fetching %s capabilities from %s: %v\n", kind.Upper(), s.ServiceURL(kind), err)
				os.Exit(1)
			}

			asYAML, _ := cmd.Flags().GetBool("yaml")
			asJSON, _ := cmd.Flags().GetBool("json")
			if asYAML || asJSON {
				if err := printEncoded(cat, asYAML); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				return
			}
			printCatalog(os.Stdout, cat)
		}),
	}
	capsCmd.Flags().String("url", "", "Service base URL (default: the configured endpoint)")
	capsCmd.Flags().Duration("timeout", 2*time.Minute, "Overall time budget, including SOS sensor details")
	capsCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")
	capsCmd.Flags().Bool("json", false, "Output as JSON")
	cli.Root().AddCommand(capsCmd)

	// history subcommand: recent submitted queries from DuckDB
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recently submitted queries",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts)
			defer srv.Close()

			st := srv.Services().Store
			if st == nil {
				fmt.Fprintln(os.Stderr, "Error: database not available")
				os.Exit(1)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			records, err := st.Queries(context.Background(), "", limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printHistory(os.Stdout, records)
		}),
	}
	historyCmd.Flags().IntP("limit", "n", 20, "Number of queries to show")
	cli.Root().AddCommand(historyCmd)

	cli.Run()
}

func printEncoded(v any, useYAML bool) error {
	var output []byte
	var err error
	if useYAML {
		output, err = yaml.Marshal(v)
	} else {
		output, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
