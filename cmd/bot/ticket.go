package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"carrera-bot/internal/api"
	"carrera-bot/internal/config"
	"carrera-bot/internal/logger"
)

func ticketCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ticket [id]",
		Short: "Look up a ticket in the ticketing API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			client := api.New(cfg.APIBaseURL, api.WithLogger(logger.New(cfg.LogLevel, cfg.LogFormat)))

			t, err := client.GetTicket(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(t)
			}
			fmt.Fprintf(out, "Ticket:     %s (#%d)\n", t.Code, t.ID)
			fmt.Fprintf(out, "Estado:     %s\n", t.StatusText())
			fmt.Fprintf(out, "Plataforma: %s\n", t.PlatformText())
			if t.Distance != "" {
				fmt.Fprintf(out, "Distancia:  %s\n", t.Distance)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}
