package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "acceptbot",
		Short: "Chat-triggered requirement acceptance bot for Feishu",
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Run: func(_ *cobra.Command, _ []string) {
			runServe()
		},
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
