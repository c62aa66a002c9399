package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/internal/log"
	internal_storage "github.com/peng-cmdt/SimpleMES-sub001/internal/storage"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/engine"
	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all orders (CLI)",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			log.GetLogger().Debugf("Running list with db: %s", dbConnStr)
			store := initStore(dbConnStr)
			defer store.Close()
			svc := engine.NewOrderService(store, log.GetLogger())
			listOrders(svc)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Change an order's status",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}

			if len(args) != 2 {
				log.GetLogger().Errorf("Wrong number of args, expected 2, got %v", len(args))
				fmt.Println("Wrong number of arguments, expected 2 (id=<n> status=<s>)")
				os.Exit(1)
			}
			id, err := strconv.Atoi(strings.Split(args[0], "=")[1])
			if err != nil {
				log.GetLogger().Errorf("Error parsing id as number: %v", err)
				fmt.Printf("Error parsing id as number: %v", err)
				os.Exit(1)
			}
			status := strings.Split(args[1], "=")[1]
			if id == 0 || status == "" {
				fmt.Println("Error: id and status are required")
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			svc := engine.NewOrderService(store, log.GetLogger())
			changeOrderStatus(svc, int64(id), status)
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show order statistics",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			svc := engine.NewOrderService(store, log.GetLogger())
			showStatistics(svc)
		},
	}

	rootCmd.AddCommand(listCmd, statusCmd, statsCmd)
}

func listOrders(svc *engine.OrderService) {
	orders, err := svc.ListOrders()
	if err != nil {
		log.GetLogger().Errorf("Failed to list orders: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list orders: %v\n", err)
		os.Exit(1)
	}
	if len(orders) == 0 {
		fmt.Fprintf(os.Stdout, "No orders found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Orders:\n")
	for _, o := range orders {
		fmt.Fprintf(os.Stdout, "- ID: %d, OrderNo: %s, Status: %s, Progress: %d/%d, Priority: %d, Created: %s\n",
			o.ID, o.OrderNo, o.Status, o.CompletedQuantity, o.Quantity, o.Priority, o.CreatedAt.Format(time.RFC3339))
	}
}

func changeOrderStatus(svc *engine.OrderService, id int64, status string) {
	_, err := svc.ChangeStatus(id, models.OrderStatus(status), "cli", "manual status change", "")
	if err != nil {
		log.GetLogger().Errorf("Failed to change order status: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to change order status: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Changed the status of the order with ID %d to '%s'\n", id, status)
}

func showStatistics(svc *engine.OrderService) {
	stats, err := svc.GetStatistics()
	if err != nil {
		log.GetLogger().Errorf("Failed to fetch order statistics: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to fetch order statistics: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Orders: %d total\n", stats.TotalOrders)
	for status, count := range stats.ByStatus {
		fmt.Fprintf(os.Stdout, "- %s: %d\n", status, count)
	}
	fmt.Fprintf(os.Stdout, "Quantity: %d/%d (%s)\n", stats.CompletedQuantity, stats.TotalQuantity, stats.CompletionRate)
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
