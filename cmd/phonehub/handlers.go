package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/app"
	"github.com/phonehub/phonehub/internal/outbound"
	"github.com/phonehub/phonehub/pkg/auth"
	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/env"
	"github.com/phonehub/phonehub/pkg/logger"
	"github.com/phonehub/phonehub/pkg/persona"
)

func runServe(cmd *cobra.Command) error {
	cfg, err := env.Load(envFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Log.Info("Starting phone hub",
		zap.String("version", app.Version),
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, cfg, logger.Log)
}

func runCall(cmd *cobra.Command, opts callOptions) error {
	cfg, err := env.Load(envFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Log

	core, err := app.NewCore(cfg, log)
	if err != nil {
		return err
	}
	if !core.Telephony.Configured() {
		return fmt.Errorf("twilio credentials are not configured")
	}

	svc := outbound.NewService(core.Registry, core.Codec, core.Telephony, nil, outbound.Options{
		BaseURL:     cfg.PublicBaseURL,
		RingTimeout: cfg.RingTimeoutSec,
	}, log)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	result, err := svc.Initiate(ctx, outbound.Request{
		To:         opts.to,
		From:       opts.from,
		Briefing:   opts.briefing,
		Objectives: objectivesFrom(opts.objectives),
		PersonaID:  opts.persona,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runTokenEncode(cmd *cobra.Command, opts encodeOptions) error {
	codec, err := cliCodec(opts.maxBytes)
	if err != nil {
		return err
	}
	token, err := codec.Encode(callctx.CallContext{
		Briefing:   strings.TrimSpace(opts.briefing),
		Objectives: objectivesFrom(opts.objectives),
		PersonaID:  strings.TrimSpace(opts.persona),
		Outbound:   opts.outbound,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runTokenDecode(cmd *cobra.Command, token string, maxBytes int) error {
	codec, err := cliCodec(maxBytes)
	if err != nil {
		return err
	}
	cc, err := codec.DecodeStrict(strings.TrimSpace(token))
	if err != nil {
		return fmt.Errorf("failed to decode token: %w", err)
	}
	return printJSON(cmd, cc)
}

func runTokenIssue(cmd *cobra.Command, opts issueOptions) error {
	// Only the signing settings are needed, so env.Load is not required here.
	loadDotenv()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "phonehub"
	}
	ttl := opts.ttlMin
	if ttl <= 0 {
		ttl = 60
		if v, err := strconv.Atoi(os.Getenv("ACCESS_TTL_MIN")); err == nil && v > 0 {
			ttl = v
		}
	}
	switch opts.role {
	case auth.RoleOperator, auth.RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", opts.role)
	}

	token, expiresAt, err := auth.GenerateAccessToken(opts.subject, opts.role, secret, issuer, ttl)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]interface{}{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
	})
}

func runPersonas(cmd *cobra.Command, file string) error {
	registry, err := cliRegistry(file)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tNUMBER\tSUMMARY WEBHOOK")
	for i, p := range registry.All() {
		id := p.ID
		if i == 0 {
			id += " (default)"
		}
		hook := "-"
		if p.SummaryWebhookURL != "" {
			hook = p.SummaryWebhookURL
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, p.DisplayName, p.RoutingNumber, hook)
	}
	return w.Flush()
}

// cliRegistry loads personas from file, PERSONAS_FILE or the built-in list.
func cliRegistry(file string) (*persona.Registry, error) {
	if file == "" {
		loadDotenv()
		file = os.Getenv("PERSONAS_FILE")
	}
	return persona.Load(file)
}

func cliCodec(maxBytes int) (*callctx.Codec, error) {
	registry, err := cliRegistry("")
	if err != nil {
		return nil, err
	}
	return callctx.NewCodec(registry.Default().ID, maxBytes, 0, zap.NewNop()), nil
}

func loadDotenv() {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
}

func objectivesFrom(tasks []string) []callctx.Objective {
	out := make([]callctx.Objective, 0, len(tasks))
	for _, task := range tasks {
		task = strings.TrimSpace(task)
		if task == "" {
			continue
		}
		out = append(out, callctx.Objective{ID: uuid.NewString()[:8], Task: task})
	}
	return out
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
