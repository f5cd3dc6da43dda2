package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Connect a staff member's calendar account",
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the consent URL to authorize calendar access",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}
		if c.OAuthService == nil {
			return fmt.Errorf("OAuth is not configured (set OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET)")
		}
		ownerID, err := requireOwner()
		if err != nil {
			return err
		}

		fmt.Println("Open this URL in a browser and grant calendar access:")
		fmt.Println()
		fmt.Printf("  %s\n", c.OAuthService.AuthURL(ownerID.String()))
		fmt.Println()
		fmt.Println("Then run: pauta auth exchange <code>")
		return nil
	},
}

var authExchangeCmd = &cobra.Command{
	Use:   "exchange <code>",
	Short: "Exchange the authorization code and store the credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}
		if c.OAuthService == nil {
			return fmt.Errorf("OAuth is not configured (set OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET)")
		}
		ownerID, err := requireOwner()
		if err != nil {
			return err
		}

		token, err := c.OAuthService.ExchangeAndStore(cmd.Context(), ownerID, args[0])
		if err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}

		fmt.Printf("Calendar connected for owner %s.\n", ownerID)
		if !token.Expiry.IsZero() {
			fmt.Printf("Access token valid until %s.\n", token.Expiry.Local().Format("2006-01-02 15:04"))
		}
		if token.RefreshToken == "" {
			fmt.Println("Warning: no refresh token was issued. Revoke the app's access and authorize again to get one.")
		}
		return nil
	},
}

var authDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Remove the stored calendar credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}
		if c.OAuthService == nil {
			return fmt.Errorf("OAuth is not configured (set OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET)")
		}
		ownerID, err := requireOwner()
		if err != nil {
			return err
		}

		if err := c.OAuthService.Disconnect(cmd.Context(), ownerID); err != nil {
			return fmt.Errorf("failed to disconnect: %w", err)
		}
		fmt.Printf("Calendar disconnected for owner %s.\n", ownerID)
		return nil
	},
}

func init() {
	authCmd.AddCommand(authURLCmd)
	authCmd.AddCommand(authExchangeCmd)
	authCmd.AddCommand(authDisconnectCmd)
	AddCommand(authCmd)
}
