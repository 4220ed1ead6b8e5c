package main

import (
	"github.com/spf13/cobra"

	"github.com/phonehub/phonehub/pkg/auth"
	"github.com/phonehub/phonehub/pkg/callctx"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and API server",
		Long: `Start the HTTP server that answers Twilio voice webhooks and the operator API.

Redis and MongoDB are used when REDIS_URL and MONGO_URI are set.
Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

type callOptions struct {
	to         string
	from       string
	persona    string
	briefing   string
	objectives []string
}

func buildCallCmd() *cobra.Command {
	var opts callOptions
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place an outbound call",
		Example: `  phonehub call --to +15125550100 --persona school \
    --briefing "Confirm the field trip" --objective "Ask about the permission slip"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.to, "to", "", "Number to call")
	cmd.Flags().StringVar(&opts.from, "from", "", "Caller id (defaults to the persona's number)")
	cmd.Flags().StringVarP(&opts.persona, "persona", "p", "", "Persona id (defaults to the first persona)")
	cmd.Flags().StringVarP(&opts.briefing, "briefing", "b", "", "What the call is about")
	cmd.Flags().StringArrayVarP(&opts.objectives, "objective", "o", nil, "Objective to raise; repeatable")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with call context tokens and API tokens",
	}
	cmd.AddCommand(buildTokenEncodeCmd(), buildTokenDecodeCmd(), buildTokenIssueCmd())
	return cmd
}

type encodeOptions struct {
	persona    string
	briefing   string
	objectives []string
	outbound   bool
	maxBytes   int
}

func buildTokenEncodeCmd() *cobra.Command {
	var opts encodeOptions
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a call context into a callback token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenEncode(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.persona, "persona", "p", "", "Persona id")
	cmd.Flags().StringVarP(&opts.briefing, "briefing", "b", "", "Call briefing")
	cmd.Flags().StringArrayVarP(&opts.objectives, "objective", "o", nil, "Objective; repeatable")
	cmd.Flags().BoolVar(&opts.outbound, "outbound", true, "Mark the context as an outbound call")
	cmd.Flags().IntVar(&opts.maxBytes, "max-bytes", callctx.DefaultMaxBytes, "Token byte budget")
	return cmd
}

func buildTokenDecodeCmd() *cobra.Command {
	var maxBytes int
	cmd := &cobra.Command{
		Use:   "decode <token>",
		Short: "Decode a callback token and print its context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenDecode(cmd, args[0], maxBytes)
		},
	}
	cmd.Flags().IntVar(&maxBytes, "max-bytes", callctx.DefaultMaxBytes, "Token byte budget")
	return cmd
}

type issueOptions struct {
	subject string
	role    string
	ttlMin  int
}

func buildTokenIssueCmd() *cobra.Command {
	var opts issueOptions
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API access token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&opts.role, "role", auth.RoleOperator, "Role claim (operator or admin)")
	cmd.Flags().IntVar(&opts.ttlMin, "ttl", 0, "Lifetime in minutes (defaults to ACCESS_TTL_MIN)")
	return cmd
}

func buildPersonasCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List the personas calls are answered and placed as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPersonas(cmd, file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Personas YAML file (defaults to PERSONAS_FILE or the built-in list)")
	return cmd
}
