package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"storyjobs/internal/infra"
	"storyjobs/internal/infra/credentials"
)

var providers = map[string]string{
	credentials.ProviderOutline:        "OUTLINE_API_TOKEN",
	credentials.ProviderStoryboardText: "CREATE_STORYBOARD_TEXT_TOKEN",
	credentials.ProviderScriptBody:     "SHORT_DRAMA_SCRIPT_BODY_API_TOKEN",
	credentials.ProviderVideo:          "VIDEO_GENERATE_API_TOKEN",
	credentials.ProviderImage:          "IMAGE_GENERATE_API_TOKEN",
}

func main() {
	_ = godotenv.Load(".env", ".env.local")

	var (
		tokenFlag    string
		providerFlag string
	)
	flag.StringVar(&tokenFlag, "token", "", "run endpoint token (falls back to the provider's environment variable)")
	flag.StringVar(&providerFlag, "provider", "", "outline, storyboard_text, script_body, video or image")
	flag.Parse()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	envKey, ok := providers[provider]
	if !ok {
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(envKey))
	}
	if token == "" {
		fmt.Fprintf(os.Stderr, "token is required via -token or %s\n", envKey)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providertoken").Str("provider", provider).Logger()
	runner := infra.NewSQLRunner(pool, logger)
	if err := infra.EnsureSchema(ctx, runner); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure schema: %v\n", err)
		os.Exit(1)
	}
	props := map[string]any{"source": "cli", "storedAt": time.Now().UTC().Format(time.RFC3339)}
	if err := credentials.NewStore(runner).SetToken(ctx, provider, token, props); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s token: %v\n", provider, err)
		os.Exit(1)
	}

	fmt.Printf("%s token stored successfully\n", provider)
}
