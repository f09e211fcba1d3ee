package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"storyjobs/internal/middleware"
)

// devtoken prints a bearer token for calling the job API locally.
func main() {
	_ = godotenv.Load(".env", ".env.local")

	var (
		ownerFlag string
		ttlFlag   time.Duration
	)
	flag.StringVar(&ownerFlag, "owner", "", "owner id placed in the token subject")
	flag.DurationVar(&ttlFlag, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}
	owner := strings.TrimSpace(ownerFlag)
	if owner == "" {
		fmt.Fprintln(os.Stderr, "-owner is required")
		os.Exit(1)
	}
	token, err := middleware.SignJWT(secret, owner, ttlFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
