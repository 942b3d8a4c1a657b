package main

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/makeasinger/videogen/internal/app"
	"github.com/makeasinger/videogen/internal/config"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <video-id>",
		Short: "Show the stored progress of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.StoreDriverMemory {
				return fmt.Errorf("the memory store keeps no records between processes; configure redis or sqlite")
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()

			store, err := app.OpenStore(cmd.Context(), cfg, rdb)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Read(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("video %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}

			fmt.Fprintf(out, "video:    %s\n", rec.JobID)
			fmt.Fprintf(out, "stage:    %s\n", rec.Stage)
			fmt.Fprintf(out, "progress: %d%%\n", rec.Progress)
			if rec.Error != "" {
				fmt.Fprintf(out, "error:    %s (%s)\n", rec.Error, rec.ErrorKind)
			}
			if rec.Artifacts.FinalVideoPath != "" {
				fmt.Fprintf(out, "final:    %s\n", rec.Artifacts.FinalVideoPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full record as JSON")
	return cmd
}
