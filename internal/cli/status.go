package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/runcore/pkg/gateway"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show serve process status",
	Long:  `Show whether a runcore serve process is running and whether its gateway answers.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := getPIDFilePath(cfg.DataDir)

	up, ok := uptime(pidFile)
	if !ok {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}
	pid, err := readPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(up))
	if cfg.Gateway.Enabled {
		fmt.Fprintf(out, "Gateway: %s (%s)\n", cfg.Gateway.Addr, gatewayHealth(cfg.Gateway.Addr))
	}
	return nil
}

func gatewayHealth(addr string) string {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.Status
	}
	var health gateway.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "healthy"
	}
	return fmt.Sprintf("healthy, %d clients", health.Clients)
}
