package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gree",
	Short: "Gree HVAC Control CLI",
	Long:  `A command line interface for discovering, binding and controlling Gree air conditioners and heat pumps.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
