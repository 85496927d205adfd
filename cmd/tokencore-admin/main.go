package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/app"
	"github.com/dropDatabas3/tokencore/internal/clients"
	"github.com/dropDatabas3/tokencore/internal/config"
	jwtx "github.com/dropDatabas3/tokencore/internal/jwt"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	"github.com/dropDatabas3/tokencore/internal/store/pg"
)

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// loadConfig resuelve la ruta igual que el service: flag > config.yaml >
// config.example.yaml.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if fileExists("configs/config.yaml") {
			path = "configs/config.yaml"
		} else {
			path = "configs/config.example.yaml"
		}
	}
	return config.Load(path)
}

func main() {
	var (
		envFile    = envOr("TOKENCORE_ENV_FILE", ".env")
		configPath = envOr("TOKENCORE_CONFIG", "")
	)

	root := &cobra.Command{
		Use:   "tokencore-admin",
		Short: "CLI admin para tokencore (claves, clientes, limpieza)",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "ruta a config.yaml (env TOKENCORE_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (env TOKENCORE_ENV_FILE)")

	// ---- keys ----
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Gestión de claves de firma",
	}

	var genAlg string
	keysGenerateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Genera un par de claves nuevo y lo imprime como JWK (privada incluida)",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := jwtx.GenerateEphemeral(genAlg)
			if err != nil {
				return err
			}
			full, err := json.Marshal(kp.FullJWK())
			if err != nil {
				return err
			}
			// La salida va directo a jwt.signing_key de la config.
			fmt.Println(string(full))
			return nil
		},
	}
	keysGenerateCmd.Flags().StringVar(&genAlg, "alg", "EdDSA", "algoritmo: EdDSA|RS256")

	keysExportCmd := &cobra.Command{
		Use:   "export",
		Short: "Imprime la clave PÚBLICA (JWK) de la signing key configurada",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.JWT.SigningKey) == "" {
				return fmt.Errorf("jwt.signing_key no configurada")
			}
			kp, err := jwtx.LoadKeyPair(cfg.JWT.SigningKey)
			if err != nil {
				return err
			}
			pub, err := json.Marshal(kp.PublicJWK())
			if err != nil {
				return err
			}
			fmt.Println(string(pub))
			return nil
		},
	}

	keysCmd.AddCommand(keysGenerateCmd, keysExportCmd)

	// ---- masterkey ----
	masterkeyCmd := &cobra.Command{
		Use:   "masterkey",
		Short: "Genera una master key nueva para security.secretbox_master_key",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := secretbox.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Println(k)
			return nil
		},
	}

	// ---- sweep ----
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Borra auth codes, refresh tokens y challenges MFA vencidos",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			codes, tokens, challenges, err := c.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("auth_codes=%d refresh_tokens=%d mfa_challenges=%d\n", codes, tokens, challenges)
			return nil
		},
	}

	// ---- migrate ----
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones SQL pendientes (sólo postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 120*time.Second)
			defer cancel()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !strings.EqualFold(cfg.Storage.Driver, "postgres") && !strings.EqualFold(cfg.Storage.Driver, "pg") {
				return fmt.Errorf("migrate requiere storage.driver=postgres")
			}
			// Directo contra el store: migrar no necesita el container entero.
			st, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
				MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
				MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	// ---- revoke-all ----
	var revokeUser, revokeTenant string
	revokeAllCmd := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoca todos los refresh tokens de un usuario en un tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if revokeUser == "" || revokeTenant == "" {
				return fmt.Errorf("--user y --tenant son requeridos")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.Refresh.RevokeAll(ctx, revokeUser, revokeTenant)
			if err != nil {
				return err
			}
			fmt.Printf("revoked=%d\n", n)
			return nil
		},
	}
	revokeAllCmd.Flags().StringVar(&revokeUser, "user", "", "ID del usuario")
	revokeAllCmd.Flags().StringVar(&revokeTenant, "tenant", "", "ID del tenant")

	// ---- clients ----
	clientsCmd := &cobra.Command{
		Use:   "clients",
		Short: "Gestión de clientes OAuth",
	}

	var (
		ccID           string
		ccName         string
		ccDescription  string
		ccRedirectURIs []string
		ccConfidential bool
		ccSecret       string
		ccTenant       string
	)
	clientsCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Registra un cliente OAuth nuevo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			p := clients.CreateParams{
				ClientID:       ccID,
				Name:           ccName,
				Description:    ccDescription,
				RedirectURIs:   ccRedirectURIs,
				IsConfidential: ccConfidential,
				Secret:         ccSecret,
			}
			if ccTenant != "" {
				p.TenantID = &ccTenant
			}
			created, err := c.Clients.CreateClient(ctx, p)
			if err != nil {
				return err
			}
			fmt.Printf("created client_id=%s id=%s\n", created.ClientID, created.ID)
			return nil
		},
	}
	clientsCreateCmd.Flags().StringVar(&ccID, "client-id", "", "client_id (requerido)")
	clientsCreateCmd.Flags().StringVar(&ccName, "name", "", "nombre visible (requerido)")
	clientsCreateCmd.Flags().StringVar(&ccDescription, "description", "", "descripción")
	clientsCreateCmd.Flags().StringSliceVar(&ccRedirectURIs, "redirect-uri", nil, "redirect URI (repetible)")
	clientsCreateCmd.Flags().BoolVar(&ccConfidential, "confidential", false, "cliente confidencial (requiere --secret)")
	clientsCreateCmd.Flags().StringVar(&ccSecret, "secret", "", "secret del cliente confidencial")
	clientsCreateCmd.Flags().StringVar(&ccTenant, "tenant", "", "tenant dueño; vacío = global")

	clientsCmd.AddCommand(clientsCreateCmd)

	root.AddCommand(keysCmd, masterkeyCmd, migrateCmd, sweepCmd, revokeAllCmd, clientsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
