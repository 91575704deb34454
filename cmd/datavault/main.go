package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "datavault",
	Short: "DataVault CLI",
	Long:  "A CLI for the DataVault personal data vault and authorization protocol.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(vaultCmd())
	rootCmd.AddCommand(authorizeCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(dataCmd())
}

func promptSecret(label string) string {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

// --- user ---

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Subject account commands"}

	signupCmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a subject account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			fullname, _ := cmd.Flags().GetString("fullname")
			phone, _ := cmd.Flags().GetString("phone")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = promptSecret("Password")
			}
			client := newClient()
			result, err := client.post(noSession, "/v1/user/signup", map[string]any{
				"email":    email,
				"password": password,
				"fullname": fullname,
				"phone":    phone,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["token"].(string); ok {
				cfg.UserToken = tok
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Session saved to config.")
				}
			}
			printResult(result)
			return nil
		},
	}
	signupCmd.Flags().String("email", "", "Email address")
	signupCmd.Flags().String("fullname", "", "Full name")
	signupCmd.Flags().String("phone", "", "Phone number")
	signupCmd.Flags().String("password", "", "Password (prompted if omitted)")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as a subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = promptSecret("Password")
			}
			client := newClient()
			result, err := client.post(noSession, "/v1/user/login", map[string]any{
				"email":    email,
				"password": password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["token"].(string); ok {
				cfg.UserToken = tok
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Session saved to config.")
				}
			}
			printResult(result)
			return nil
		},
	}
	loginCmd.Flags().String("email", "", "Email address")
	loginCmd.Flags().String("password", "", "Password (prompted if omitted)")

	meCmd := &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get(userSession, "/v1/user/me")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(signupCmd, loginCmd, meCmd)
	return cmd
}

// --- company ---

func companyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "company", Short: "Company account commands"}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			redirects, _ := cmd.Flags().GetStringSlice("redirect-uri")
			webhook, _ := cmd.Flags().GetString("webhook-url")
			if password == "" {
				password = promptSecret("Password")
			}
			client := newClient()
			result, err := client.post(noSession, "/v1/company/register", map[string]any{
				"company_name":  name,
				"email":         email,
				"password":      password,
				"redirect_uris": redirects,
				"webhook_url":   webhook,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["token"].(string); ok {
				cfg.CompanyToken = tok
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Session saved to config.")
				}
			}
			printResult(result)
			return nil
		},
	}
	registerCmd.Flags().String("name", "", "Company name")
	registerCmd.Flags().String("email", "", "Email address")
	registerCmd.Flags().String("password", "", "Password (prompted if omitted)")
	registerCmd.Flags().StringSlice("redirect-uri", nil, "Registered redirect URI (repeatable)")
	registerCmd.Flags().String("webhook-url", "", "Webhook endpoint for revocation events")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = promptSecret("Password")
			}
			client := newClient()
			result, err := client.post(noSession, "/v1/company/login", map[string]any{
				"email":    email,
				"password": password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["token"].(string); ok {
				cfg.CompanyToken = tok
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Session saved to config.")
				}
			}
			printResult(result)
			return nil
		},
	}
	loginCmd.Flags().String("email", "", "Email address")
	loginCmd.Flags().String("password", "", "Password (prompted if omitted)")

	meCmd := &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in company",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get(companySession, "/v1/company/me")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	keysCmd := &cobra.Command{Use: "keys", Short: "Manage API keys"}

	keysCreateCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Mint a clientID/secret pair (secret shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			result, err := newClient().post(companySession, "/v1/company/keys", map[string]any{"name": name})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if id, ok := result["client_id"].(string); ok {
				cfg.ClientID = id
				if secret, ok := result["secret_key"].(string); ok {
					cfg.SecretKey = secret
				}
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Key saved to config.")
				}
			}
			printResult(result)
			return nil
		},
	}

	keysListCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get(companySession, "/v1/company/keys")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	keysDeleteCmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete(companySession, "/v1/company/keys/"+args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Key deleted.")
			return nil
		},
	}

	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysDeleteCmd)
	cmd.AddCommand(registerCmd, loginCmd, meCmd, keysCmd)
	return cmd
}

// --- vault (subject side) ---

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vault", Short: "Manage your encrypted vault"}

	putCmd := &cobra.Command{
		Use:   "put [field=value ...]",
		Short: "Save personal data fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]string{}
			for _, kv := range args {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid field=value pair: %s", kv)
				}
				data[parts[0]] = parts[1]
			}
			if _, err := newClient().post(userSession, "/v1/vault/data", map[string]any{"data": data}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Data saved.")
			return nil
		},
	}

	uploadCmd := &cobra.Command{
		Use:   "upload <document-type> <file>",
		Short: "Upload an encrypted document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().uploadDocument(args[0], args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show your vault (sensitive values masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get(userSession, "/v1/vault/data")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	accessCmd := &cobra.Command{
		Use:   "access",
		Short: "List companies with active access",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get(userSession, "/v1/vault/active-access")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show your access history",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get(userSession, "/v1/vault/access-logs")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a company's access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newClient().post(userSession, "/v1/vault/revoke-access", map[string]any{"token_id": args[0]}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Access revoked.")
			return nil
		},
	}

	cmd.AddCommand(putCmd, uploadCmd, showCmd, accessCmd, logsCmd, revokeCmd)
	return cmd
}

// --- authorize (consent flow) ---

func authorizeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "authorize", Short: "Consent flow commands"}

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview who is requesting access",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, _ := cmd.Flags().GetString("client-id")
			redirectURI, _ := cmd.Flags().GetString("redirect-uri")
			q := url.Values{"client_id": {clientID}}
			if redirectURI != "" {
				q.Set("redirect_uri", redirectURI)
			}
			result, err := newClient().get(userSession, "/v1/authorize?"+q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	previewCmd.Flags().String("client-id", "", "Company client ID")
	previewCmd.Flags().String("redirect-uri", "", "Redirect URI to validate")

	consentCmd := &cobra.Command{
		Use:   "consent",
		Short: "Approve a company's data request",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, _ := cmd.Flags().GetString("client-id")
			fields, _ := cmd.Flags().GetStringSlice("data")
			purpose, _ := cmd.Flags().GetString("purpose")
			duration, _ := cmd.Flags().GetInt("duration")
			redirectURI, _ := cmd.Flags().GetString("redirect-uri")
			state, _ := cmd.Flags().GetString("state")
			result, err := newClient().post(userSession, "/v1/authorize/consent", map[string]any{
				"client_id":      clientID,
				"requested_data": fields,
				"purpose":        purpose,
				"duration":       duration,
				"redirect_uri":   redirectURI,
				"state":          state,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	consentCmd.Flags().String("client-id", "", "Company client ID")
	consentCmd.Flags().StringSlice("data", nil, "Fields to share (e.g. fullname,bvn)")
	consentCmd.Flags().String("purpose", "", "Stated purpose")
	consentCmd.Flags().Int("duration", 30, "Access duration in days (1-365)")
	consentCmd.Flags().String("redirect-uri", "", "Company redirect URI")
	consentCmd.Flags().String("state", "", "Opaque state echoed back to the company")

	denyCmd := &cobra.Command{
		Use:   "deny",
		Short: "Record that you denied a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, _ := cmd.Flags().GetString("client-id")
			if _, err := newClient().post(userSession, "/v1/authorize/deny", map[string]any{"client_id": clientID}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Denial recorded.")
			return nil
		},
	}
	denyCmd.Flags().String("client-id", "", "Company client ID")

	cmd.AddCommand(previewCmd, consentCmd, denyCmd)
	return cmd
}

// --- token (company side) ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Access token commands (company side)"}

	exchangeCmd := &cobra.Command{
		Use:   "exchange <access-code>",
		Short: "Trade an access code for a scoped bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, secret := keyCredentials(cmd)
			result, err := newClient().postAsCompanyKey("/v1/authorize/token", secret, map[string]any{
				"client_id": clientID,
				"code":      args[0],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addKeyFlags(exchangeCmd)

	cmd.AddCommand(exchangeCmd)
	return cmd
}

// --- data (company side) ---

func dataCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "data", Short: "Read subject data (company side)"}

	readCmd := &cobra.Command{
		Use:   "read <bearer-token>",
		Short: "Read the fields inside the token's scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, secret := keyCredentials(cmd)
			q := url.Values{"client_id": {clientID}}
			result, err := newClient().getAsCompanyKey("/v1/data?"+q.Encode(), secret, args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addKeyFlags(readCmd)

	cmd.AddCommand(readCmd)
	return cmd
}

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().String("client-id", "", "Company client ID (defaults to saved key)")
	cmd.Flags().String("secret-key", "", "Company secret key (defaults to saved key)")
}

func keyCredentials(cmd *cobra.Command) (clientID, secret string) {
	clientID, _ = cmd.Flags().GetString("client-id")
	secret, _ = cmd.Flags().GetString("secret-key")
	if clientID == "" {
		clientID = cfg.ClientID
	}
	if secret == "" {
		secret = cfg.SecretKey
	}
	return clientID, secret
}
