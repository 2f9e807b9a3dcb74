package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/dailyfortune/internal/aggregate"
	"github.com/kalambet/dailyfortune/internal/config"
	"github.com/kalambet/dailyfortune/internal/content"
	"github.com/kalambet/dailyfortune/internal/daily"
	"github.com/kalambet/dailyfortune/internal/storage"
)

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <user-id>",
	Short: "Draw today's fortune for a user",
	Long: `Draw today's fortune for a user. A user gets one fortune per day;
repeating the query returns the same result.

Examples:
  fortune query 42 --name Alice --scope team-a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		scope, _ := cmd.Flags().GetString("scope")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/query", map[string]string{
			"user_id":      args[0],
			"display_name": name,
			"scope_id":     scope,
		})
		if err != nil {
			return err
		}
		var res daily.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if res.State == daily.StateInFlight {
			printWarning("A fortune for %s is being read right now. Try again in a moment.", args[0])
			return nil
		}
		fmt.Println(res.Record.RenderedResult)
		return nil
	},
}

func init() {
	queryCmd.Flags().String("name", "", "display name used in the fortune text")
	queryCmd.Flags().String("scope", "", "group the query comes from")
}

// --- lookup ---

var lookupCmd = &cobra.Command{
	Use:   "lookup <user-id>",
	Short: "Show a fortune another user already drew",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _ := cmd.Flags().GetString("day")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/fortunes/"+url.PathEscape(day)+"/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var rec storage.FortuneRecord
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		fmt.Println(rec.RenderedResult)
		return nil
	},
}

func init() {
	lookupCmd.Flags().String("day", "today", "day as YYYY-MM-DD")
}

// --- rank ---

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Show the day's leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, name := range []string{"scope", "day"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				q.Set(name, v)
			}
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			q.Set("limit", fmt.Sprint(limit))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/leaderboard?"+q.Encode())
		if err != nil {
			return err
		}
		var board aggregate.Board
		if err := decodeJSON(resp, &board); err != nil {
			return err
		}
		writeBoard(os.Stdout, board)
		return nil
	},
}

func init() {
	rankCmd.Flags().String("scope", "", "restrict to one group")
	rankCmd.Flags().String("day", "", "day as YYYY-MM-DD (default today)")
	rankCmd.Flags().Int("limit", 0, "number of rows (default display.top_n)")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show a user's recent fortunes and statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/v1/users/" + url.PathEscape(args[0]) + "/history"
		if limit > 0 {
			path += fmt.Sprintf("?limit=%d", limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var view aggregate.PersonalView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		writeHistory(os.Stdout, view)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 0, "number of days to list (default display.history_display)")
}

// --- init ---

var initCmd = &cobra.Command{
	Use:   "init <user-id>",
	Short: "Clear a user's fortune for today so it can be drawn again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/users/"+url.PathEscape(args[0])+"/initialize", nil)
		if err != nil {
			return err
		}
		var result struct {
			Removed bool `json:"removed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Removed {
			printWarning("%s has not drawn a fortune today", args[0])
			return nil
		}
		printSuccess("Cleared today's fortune for %s", args[0])
		return nil
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Delete a user's fortune history, keeping today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
			printWarning("This deletes every past fortune of %s. Use --confirm to proceed.", args[0])
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/users/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}
		var result struct {
			Deleted int `json:"deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %d days of history for %s", result.Deleted, args[0])
		return nil
	},
}

func init() {
	deleteCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all fortunes of all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
			printWarning("This will delete ALL fortune data. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/reset?confirm=true", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("All fortune data reset")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("confirm", false, "confirm reset")
}

// --- backends ---

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Inspect content backends",
}

var backendsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Ping every configured content backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/health/backends")
		if err != nil {
			return err
		}
		var statuses []content.BackendStatus
		if err := decodeJSON(resp, &statuses); err != nil {
			return err
		}
		if len(statuses) == 0 {
			printWarning("No content backends configured; default texts are used.")
			return nil
		}
		for _, st := range statuses {
			label := fmt.Sprintf("%s (%s)", st.Backend, st.Tier)
			if st.OK {
				printStatus(label, "%s in %s", colorize(colorGreen, "ok"), st.Latency.Round(time.Millisecond))
			} else {
				printStatus(label, "%s: %s", colorize(colorRed, "failed"), st.Error)
			}
		}
		return nil
	},
}

func init() {
	backendsCmd.AddCommand(backendsCheckCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(config.ShowAll(cfg))
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configShowCmd.Flags().Bool("json", false, "print as JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
