package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
)

var (
	recoverAddr    string
	recoverFrom    uint64
	recoverTo      uint64
	recoverTimeout time.Duration
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Ask the running daemon to recover missed run-completion events",
	Long: `Without --from/--to the daemon resumes from its checkpoint. With both it scans
that block range and leaves the checkpoint alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := recoverAddr
		if addr == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}

		fromSet, toSet := cmd.Flags().Changed("from"), cmd.Flags().Changed("to")
		if fromSet != toSet {
			return errors.New("--from and --to must be given together")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), recoverTimeout)
		defer cancel()
		return requestRecovery(ctx, cmd.OutOrStdout(), addr, fromSet, recoverFrom, recoverTo, recoverTimeout)
	},
}

func init() {
	recoverCmd.Flags().StringVar(&recoverAddr, "addr", "", "daemon base URL (default http://localhost:<server.port>)")
	recoverCmd.Flags().Uint64Var(&recoverFrom, "from", 0, "first block of a manual range")
	recoverCmd.Flags().Uint64Var(&recoverTo, "to", 0, "last block of a manual range")
	recoverCmd.Flags().DurationVar(&recoverTimeout, "timeout", 10*time.Minute, "how long to wait for the recovery to finish")
	rootCmd.AddCommand(recoverCmd)
}

func requestRecovery(
	ctx context.Context,
	out io.Writer,
	addr string,
	manual bool,
	from, to uint64,
	timeout time.Duration,
) error {
	path := "admin/recover"
	if manual {
		q := url.Values{}
		q.Set("from", strconv.FormatUint(from, 10))
		q.Set("to", strconv.FormatUint(to, 10))
		path += "?" + q.Encode()
	}

	client := provider.NewHTTPProvider("admin", addr, timeout)
	defer client.Close()

	var result json.RawMessage
	err := client.DoREST(ctx, http.MethodPost, path, nil, &result)

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
		_, _ = fmt.Fprintln(out, "A recovery is already running; nothing was done.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("recovery request failed: %w", err)
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, string(pretty))
	return nil
}
