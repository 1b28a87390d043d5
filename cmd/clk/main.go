package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cl "clicker/internal/cli"
	"clicker/internal/config"
	"clicker/internal/game"
	"clicker/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "clk",
		Short:        "Clicker terminal client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newStateCmd(&apiBase),
		newClickCmd(&apiBase),
		newUpgradesCmd(&apiBase),
		newBuyCmd(&apiBase),
		newPrestigeCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newWatchCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return sess, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Login or create a player",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var username string
			if len(args) > 0 {
				username = strings.TrimSpace(args[0])
			} else {
				var err error
				username, err = promptRequired("Username")
				if err != nil {
					return err
				}
			}
			if err := game.ValidateUsername(username); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Login(ctx, username)
			if err != nil {
				return err
			}
			res, err := decodeInto[game.LoginResult](out)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				Token:     res.Token,
				UserID:    res.User.ID,
				Username:  res.User.Username,
				ExpiresAt: res.ExpiresAt,
			}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s. Session saved.", res.User.Username))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newStateCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "state",
		Short:   "Show your counter, resources and active effects",
		Aliases: []string{"dash"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).State(ctx, sess.Token)
			if err != nil {
				return err
			}
			view, err := decodeInto[game.View](out)
			if err != nil {
				return err
			}
			renderState(view)
			return nil
		},
	}
}

func newClickCmd(apiBase *string) *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "click",
		Short: "Press the button",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if times < 1 {
				times = 1
			}
			client := newClient(apiBase)
			ctx := cmd.Context()
			for i := 0; i < times; {
				reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				out, err := client.Click(reqCtx, sess.Token)
				cancel()
				if err != nil {
					var apiErr *cl.APIError
					if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
						if err := sleepCtx(ctx, time.Duration(apiErr.RemainingCooldown*float64(time.Second))+10*time.Millisecond); err != nil {
							return err
						}
						continue
					}
					return err
				}
				res, err := decodeInto[game.ClickResult](out)
				if err != nil {
					return err
				}
				renderClick(res)
				i++
				if i < times {
					if err := sleepCtx(ctx, time.Duration(res.State.ButtonCooldown*float64(time.Second))); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&times, "times", "n", 1, "number of clicks, waiting out the cooldown between them")
	return cmd
}

func newUpgradesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrades",
		Short: "List the upgrade catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			catalog, err := client.Upgrades(ctx, sess.Token)
			if err != nil {
				return err
			}
			owned, err := client.OwnedUpgrades(ctx, sess.Token)
			if err != nil {
				return err
			}
			state, err := client.State(ctx, sess.Token)
			if err != nil {
				return err
			}
			return renderUpgrades(catalog, owned, state)
		},
	}
}

func newBuyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <upgrade-id>",
		Short: "Buy or unlock an upgrade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			upgradeID := strings.ToLower(strings.TrimSpace(args[0]))
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Purchase(ctx, sess.Token, upgradeID, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           cl.PurchasePath(upgradeID),
					IdempotencyKey: idem,
				})
			}
			res, err := decodeInto[game.PurchaseResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Acquired %s.", res.Upgrade.Name))
			renderState(res.State)
			return nil
		},
	}
}

func newPrestigeCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "prestige",
		Short: "Trade resets for a permanent prestige level",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if !yes {
				printWarn("Prestige wipes your counter, clicks and upgrades.")
				answer, err := promptOptional("Type 'yes' to continue")
				if err != nil {
					return err
				}
				if !strings.EqualFold(answer, "yes") {
					printInfo("Prestige cancelled.")
					return nil
				}
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Prestige(ctx, sess.Token, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           cl.PrestigePath,
					IdempotencyKey: idem,
				})
			}
			res, err := decodeInto[game.PrestigeResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Prestige level %d reached (+%d points).", res.State.PrestigeLevel, res.PointsGained))
			renderState(res.State)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var metric string
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Show the top players",
		Aliases: []string{"lb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Leaderboard(ctx, sess.Token, metric, limit)
			if err != nil {
				return err
			}
			return renderLeaderboard(out, game.ParseMetric(metric), sess.UserID)
		},
	}
	cmd.Flags().StringVarP(&metric, "metric", "m", string(game.MetricClicks), "clicks, max or prestige")
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "rows to show")
	return cmd
}

func newWatchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow your state live, including auto-clicks",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			printInfo("Watching live updates. Ctrl+C to stop.")
			return newClient(apiBase).Watch(ctx, sess.Token, func(u game.Update) {
				renderLiveLine(u.Data)
			})
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay purchases and prestiges queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			success := 0
			for _, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, sess.Token, q.Body, q.IdempotencyKey)
				if err != nil {
					if cl.IsAPIError(err) {
						// The server answered; retrying the same key cannot change that.
						printWarn(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
						continue
					}
					remaining = append(remaining, q)
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
					continue
				}
				success++
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", success, len(remaining)))
			return nil
		},
	}
}

func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if qerr := syncq.Push(cmd); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %v (%w)", qerr, err)
	}
	printWarn("API unreachable. Request queued; run `clk sync` once you are back online.")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
