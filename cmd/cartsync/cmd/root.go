// Package cmd provides the CLI commands for cartsync.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/config"
)

var (
	cfgFile       string
	stateFilePath string
	devMode       bool
)

var rootCmd = &cobra.Command{
	Use:   "cartsync",
	Short: "cartsync - shopping cart sync client",
	Long: `cartsync keeps a local, observable copy of your remote shopping cart in
sync with the cart service and checks out the lines you select.

Quick start:
  1. Sign in:        cartsync login --identity alice --token <token>
  2. Look around:    cartsync show
  3. Change things:  cartsync add 42 --qty 2
  4. Check out:      cartsync checkout 42 7

Configuration:
  Config is loaded from cartsync.yaml in the current directory,
  $HOME/.cartsync/, or /etc/cartsync/.

  Environment variables can override config values with the CARTSYNC_ prefix.
  Example: CARTSYNC_REMOTE_BASE_URL=https://kitchen.example/api

Commands:
  login       Sign in and load the cart
  logout      Sign out and forget the credential
  show        Print the cart
  add         Add a product
  remove      Remove a product
  update      Change the quantity of a line
  clear       Remove every line
  refresh     Reload the cart from the server
  checkout    Check out selected lines
  shell       Interactive session with selection and status server
  journal     Print the operation journal
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./cartsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to the session state file (default: ~/.cartsync/state.json)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, status server)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads the configuration and applies CLI flag overrides
// before validating it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if stateFilePath != "" {
		cfg.Session.StatePath = stateFilePath
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
