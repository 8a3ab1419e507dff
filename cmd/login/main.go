// login exchanges an identity credential for a session and stores it in the
// dashboard's client state, so a headless agent starts authenticated.
//
//	go run ./cmd/login -credential "$ID_TOKEN"
//	go run ./cmd/login -logout
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	csrepo "github.com/marcelosanchez/locateme-web/internal/clientstate/repository"
	"github.com/marcelosanchez/locateme-web/internal/config"
	"github.com/marcelosanchez/locateme-web/internal/db"
	"github.com/marcelosanchez/locateme-web/internal/db/migrate"
	identityservice "github.com/marcelosanchez/locateme-web/internal/identity/service"
	"github.com/marcelosanchez/locateme-web/internal/locateapi"
	"github.com/marcelosanchez/locateme-web/internal/security"
	sessionstore "github.com/marcelosanchez/locateme-web/internal/session/store"
)

func main() {
	credential := flag.String("credential", os.Getenv("LOCATEME_CREDENTIAL"), "Identity credential (defaults to $LOCATEME_CREDENTIAL)")
	logout := flag.Bool("logout", false, "Log out and remove the stored session")
	flag.Parse()

	if err := run(*credential, *logout); err != nil {
		fmt.Fprintln(os.Stderr, "login:", err)
		os.Exit(1)
	}
}

func run(credential string, logout bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := migrate.RunFor(cfg.StateDBDriver, cfg.StateDBURL, "up"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	conn, err := db.Open(cfg.StateDBDriver, cfg.StateDBURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	sealer, err := security.NewSealer(cfg.StateEncryptionKey)
	if err != nil {
		return err
	}
	sessions := sessionstore.New(csrepo.NewSQLRepository(conn, cfg.StateDBDriver), sealer)
	api := locateapi.NewClient(cfg.APIBaseURL, cfg.AuthBaseURL, sessions, locateapi.Options{})
	auth := identityservice.NewAuthService(api, sessions, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sessions.Load(ctx); err != nil {
		return err
	}

	if logout {
		if err := auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	}

	user, err := auth.Login(ctx, credential)
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", user.Email)
	if id := user.DefaultDevice(); id != "" {
		fmt.Printf("default device: %s\n", id)
	}
	return nil
}
