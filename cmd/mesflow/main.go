package main

import (
	"fmt"
	"os"

	"github.com/peng-cmdt/SimpleMES-sub001/internal/cli"
	"github.com/peng-cmdt/SimpleMES-sub001/internal/config"
	internal_http "github.com/peng-cmdt/SimpleMES-sub001/internal/http"
	"github.com/peng-cmdt/SimpleMES-sub001/internal/log"
	internal_storage "github.com/peng-cmdt/SimpleMES-sub001/internal/storage"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/engine"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/gateway"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/monitor"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "mesflow"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MES workflow server",
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.GetLogger()

		cfg, err := config.Load()
		if err != nil {
			logger.Errorf("Failed to load configuration: %v", err)
			os.Exit(1)
		}

		store, err := internal_storage.InitStore(cfg.ConnString())
		if err != nil {
			logger.Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		orders := engine.NewOrderService(store, logger)
		workflow := engine.NewWorkflowService(store, orders, logger)

		if cfg.Gateway.Endpoint != "" {
			gw := gateway.NewHTTPClient(cfg.Gateway.Endpoint, cfg.GatewayTimeout())
			mon := monitor.New(gw, cfg.MonitorSettings(), logger)
			defer mon.Stop()
			workflow.WithGateway(gw).WithMonitor(mon)
			logger.Infof("Device gateway configured at %s", cfg.Gateway.Endpoint)
		} else {
			logger.Infof("No device gateway configured; device actions run in manual mode")
		}

		svc := internal_http.Services{Orders: orders, Workflow: workflow}
		if err := internal_http.StartServer(cfg.HTTPPort, svc); err != nil {
			logger.Errorf("Server stopped: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.PersistentFlags().String("db", "", "Database connection string (CLI commands)")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
