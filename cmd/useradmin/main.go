package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/promptaat/promptaat/app/models"
	"github.com/promptaat/promptaat/app/repository"
	"github.com/promptaat/promptaat/internal/pkg/database"
	"github.com/promptaat/promptaat/internal/pkg/env"
)

// useradmin manages the accounts behind the API-key-authenticated endpoints:
// creating users, minting/rotating their API keys, and listing or removing
// accounts. Raw API keys are printed exactly once; only their hash is stored.
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	env.SetupEnvFile()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())
	repo := repository.GetGlobalFactory().GetUserRepository()

	switch os.Args[1] {
	case "create":
		runCreate(repo, os.Args[2:])
	case "issue-key":
		runIssueKey(repo, os.Args[2:])
	case "list":
		runList(repo, os.Args[2:])
	case "delete":
		runDelete(repo, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func runCreate(repo repository.UserRepository, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address (unique)")
	password := fs.String("password", "", "initial password")
	fs.Parse(args)

	user, err := models.CreateUser(*name, *email, *password)
	if err != nil {
		log.Fatalf("Invalid user: %v", err)
	}
	if err := repo.Create(user); err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	fmt.Printf("Created user %d (%s)\n", user.ID, user.Email)
}

func runIssueKey(repo repository.UserRepository, args []string) {
	fs := flag.NewFlagSet("issue-key", flag.ExitOnError)
	email := fs.String("email", "", "email of the user to issue a key for")
	fs.Parse(args)

	user, err := repo.GetByEmail(*email)
	if err != nil {
		log.Fatalf("Failed to look up user %q: %v", *email, err)
	}
	if user.HasActiveAPIKey() {
		log.Printf("User %d already has an API key (prefix %s); rotating it", user.ID, user.APIKeyPrefix)
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}
	if err := repo.Update(user); err != nil {
		log.Fatalf("Failed to store API key: %v", err)
	}

	fmt.Printf("API key for user %d (%s):\n", user.ID, user.Email)
	fmt.Printf("  %s\n", rawKey)
	fmt.Println("Store it now; it is not shown again.")
}

func runList(repo repository.UserRepository, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum rows to print")
	offset := fs.Int("offset", 0, "rows to skip")
	fs.Parse(args)

	users, err := repo.List(*offset, *limit)
	if err != nil {
		log.Fatalf("Failed to list users: %v", err)
	}
	total, err := repo.Count()
	if err != nil {
		log.Fatalf("Failed to count users: %v", err)
	}

	for _, u := range users {
		keyInfo := "no api key"
		if u.HasActiveAPIKey() {
			keyInfo = "key " + u.APIKeyPrefix + "…"
		}
		fmt.Printf("%6d  %-30s  %-8s  %s\n", u.ID, u.Email, u.Status, keyInfo)
	}
	fmt.Printf("%d of %d users\n", len(users), total)
}

func runDelete(repo repository.UserRepository, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	email := fs.String("email", "", "email of the user to delete")
	fs.Parse(args)

	user, err := repo.GetByEmail(*email)
	if err != nil {
		log.Fatalf("Failed to look up user %q: %v", *email, err)
	}
	if err := repo.Delete(user.ID); err != nil {
		log.Fatalf("Failed to delete user %d: %v", user.ID, err)
	}
	fmt.Printf("Deleted user %d (%s)\n", user.ID, user.Email)
}

func printUsage() {
	fmt.Println("Usage: useradmin <command>")
	fmt.Println("Commands:")
	fmt.Println("  create -name N -email E -password P   Create a user")
	fmt.Println("  issue-key -email E                    Mint (or rotate) the user's API key")
	fmt.Println("  list [-limit N] [-offset N]           List users")
	fmt.Println("  delete -email E                       Delete a user")
}
