package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallnest/napcatbridge/config"
	"github.com/spf13/cobra"
)

var (
	statusJSON    bool
	statusTimeout time.Duration
)

// AccountStatus 单个 self_id 的心跳状态
type AccountStatus struct {
	SelfID   string `json:"self_id"`
	State    string `json:"state"`
	LastSeen int64  `json:"last_seen"`
}

// HealthStatus /health 的响应
type HealthStatus struct {
	Status      string          `json:"status"`
	Time        int64           `json:"time"`
	Connections int             `json:"connections"`
	Pending     int             `json:"pending"`
	Accounts    []AccountStatus `json:"accounts"`
}

// StatusCommand returns the status command
func StatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the health endpoint of a running bridge",
		RunE:  runStatus,
	}
	cmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output as JSON")
	cmd.Flags().DurationVarP(&statusTimeout, "timeout", "t", 5*time.Second, "Request timeout")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	host := cfg.Napcat.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	url := fmt.Sprintf("http://%s:%d/health", host, cfg.Napcat.Port)

	status, err := fetchHealth(url, statusTimeout)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(out, "Status:      %s\n", status.Status)
	fmt.Fprintf(out, "Connections: %d\n", status.Connections)
	fmt.Fprintf(out, "Pending:     %d\n", status.Pending)
	for _, account := range status.Accounts {
		fmt.Fprintf(out, "Account:     %s %s (last seen %s)\n",
			account.SelfID, account.State, time.Unix(account.LastSeen, 0).Format(time.RFC3339))
	}
	return nil
}

func fetchHealth(url string, timeout time.Duration) (*HealthStatus, error) {
	var status HealthStatus
	resp, err := resty.New().
		SetTimeout(timeout).
		R().
		SetResult(&status).
		Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}
	return &status, nil
}
