package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "carrera-bot",
		Short:         "Ticket sales bot for the race: Telegram front end plus HTTP API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ticketCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
