package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

var (
	loginIdentity     string
	loginToken        string
	loginRefreshToken string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and load the cart",
	Long: `Store the identity and bearer token used for the cart service, then load
the cart that belongs to that identity.

The credential is written to the session state file (mode 0600). A cart
left over from a previous identity is discarded locally before the new
one is loaded.

Examples:
  cartsync login --identity alice --token eyJhbGciOi...`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the credential",
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringVar(&loginIdentity, "identity", "", "identity label (user name or email)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token for the cart service")
	loginCmd.Flags().StringVar(&loginRefreshToken, "refresh-token", "", "refresh token to keep with the session")
	_ = loginCmd.MarkFlagRequired("identity")
	_ = loginCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginIdentity == "" || loginToken == "" {
		return errors.New("--identity and --token must not be empty")
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return withApp(ctx, cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
		res := a.store.SetIdentity(ctx, session.Session{
			Identity:          loginIdentity,
			Credential:        loginToken,
			RefreshCredential: loginRefreshToken,
		})
		if err := resultError(res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%d %s in cart)\n",
			loginIdentity, res.Cart.Len(), plural(res.Cart.Len(), "item", "items"))
		return nil
	})
}

func runLogout(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
		prev, err := a.sessions.Restore(ctx)
		if err != nil {
			a.logger.Warn("could not read the previous session", "error", err)
		}
		if err := resultError(a.store.SetIdentity(ctx, session.Session{})); err != nil {
			return err
		}
		if prev.Anonymous() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed out %s.\n", prev.Identity)
		return nil
	})
}
