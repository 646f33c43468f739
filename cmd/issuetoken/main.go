// Command issuetoken prints a signed bearer token for a POS terminal user.
// The token is signed with the same AUTH_SECRET the server reads.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mytireplan/tire-plan-sub001/internal/config"
	"github.com/mytireplan/tire-plan-sub001/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	username := flag.String("user", "", "terminal user name")
	role := flag.String("role", httpapi.RoleCashier, "cashier or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to ACCESS_TOKEN_TTL_MINUTES)")
	flag.Parse()

	cfg := config.Load()
	if len(cfg.AuthSecret) < 32 {
		log.Fatal("AUTH_SECRET must be set and at least 32 characters")
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, lifetime, cfg.ManagerPIN)
	token, expiresAt, err := auth.IssueToken(*username, *role)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Fprintln(os.Stdout, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
}
