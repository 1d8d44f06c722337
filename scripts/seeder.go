package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/config"
	"github.com/oneboxhq/onebox-core/domain/account"
)

// Seeds development mailbox accounts. Passwords come from the environment
// so real credentials never land in the repo.
func main() {
	config.InitConfig()
	db := config.InitDB()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := account.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to create accounts table: %v", err)
	}

	accounts := []account.Account{
		{OwnerID: 1, Name: "dev-primary", Email: "dev1@example.com", IMAPHost: "imap.example.com", IMAPPort: 993, Password: viper.GetString("SEED_IMAP_PASSWORD_1"), Active: true},
		{OwnerID: 1, Name: "dev-secondary", Email: "dev2@example.com", IMAPHost: "imap.example.com", IMAPPort: 993, Password: viper.GetString("SEED_IMAP_PASSWORD_2"), Active: true},
		{OwnerID: 2, Name: "dev-other-owner", Email: "dev3@example.com", IMAPHost: "imap.example.com", IMAPPort: 993, Password: viper.GetString("SEED_IMAP_PASSWORD_3"), Active: false},
	}

	for _, acct := range accounts {
		_, err := db.ExecContext(ctx, `
			INSERT INTO accounts (owner_id, name, email, imap_host, imap_port, password, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (email) DO UPDATE SET
				imap_host = EXCLUDED.imap_host,
				imap_port = EXCLUDED.imap_port,
				password = EXCLUDED.password,
				active = EXCLUDED.active,
				updated_at = NOW()`,
			acct.OwnerID, acct.Name, acct.Email, acct.IMAPHost, acct.IMAPPort, acct.Password, acct.Active)
		if err != nil {
			log.Fatalf("Failed to seed account %s: %v", acct.Email, err)
		}
		log.Printf("Seeded account: %s", acct.Email)
	}
}
