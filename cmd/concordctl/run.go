package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/backends"
	"github.com/concordlab/concord/internal/consensus"
	"github.com/concordlab/concord/internal/judge"
)

type runOptions struct {
	models       string
	maxRounds    int
	judgeName    string
	threshold    float64
	ollamaURL    string
	openAIKey    string
	openAIBase   string
	openAIModels string
	server       string
	timeout      time.Duration
	jsonOut      bool
	verbose      bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one consensus request and print the fused result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsensus(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.models, "models", "m", "", "comma-separated model pool (required)")
	cmd.Flags().IntVarP(&opts.maxRounds, "max-rounds", "r", consensus.DefaultMaxRounds, "round budget")
	cmd.Flags().StringVar(&opts.judgeName, "judge", "exact", "convergence judge: exact or levenshtein")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 1.0, "similarity threshold for the levenshtein judge")
	cmd.Flags().StringVar(&opts.ollamaURL, "ollama-url", envOr("OLLAMA_BASE_URL", "http://localhost:11434"), "Ollama base URL")
	cmd.Flags().StringVar(&opts.openAIKey, "openai-key", os.Getenv("OPENAI_API_KEY"), "OpenAI-compatible API key")
	cmd.Flags().StringVar(&opts.openAIBase, "openai-base", os.Getenv("OPENAI_BASE_URL"), "OpenAI-compatible base URL")
	cmd.Flags().StringVar(&opts.openAIModels, "openai-models", "", "comma-separated models routed to the OpenAI backend")
	cmd.Flags().StringVar(&opts.server, "server", "", "submit to a running concordd instead of local backends")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-backend call timeout")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the full result as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log round progress to stderr")
	_ = cmd.MarkFlagRequired("models")

	return cmd
}

func runConsensus(cmd *cobra.Command, prompt string, opts *runOptions) error {
	req := consensus.Request{
		Prompt:    prompt,
		ModelPool: splitList(opts.models),
		MaxRounds: opts.maxRounds,
	}

	var (
		res *consensus.Result
		err error
	)
	if opts.server != "" {
		res, err = submitRemote(cmd.Context(), opts.server, req)
	} else {
		res, err = runLocal(cmd.Context(), req, opts)
	}
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), res.FinalText)
	}

	if res.TotalFailure {
		cmd.PrintErrln("no consensus: every backend failed in every round")
		os.Exit(1)
	}
	return nil
}

func runLocal(ctx context.Context, req consensus.Request, opts *runOptions) (*consensus.Result, error) {
	logger := zap.NewNop()
	if opts.verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}

	registry := backends.NewRegistry(
		backends.NewOllamaBackend(opts.ollamaURL, opts.timeout, logger),
		logger,
	)
	if opts.openAIKey != "" {
		oai := backends.NewOpenAIBackend(opts.openAIKey, opts.openAIBase, logger)
		for _, model := range splitList(opts.openAIModels) {
			registry.Register(model, oai)
		}
	}

	var j judge.Judge = judge.Exact{}
	if opts.judgeName == "levenshtein" {
		j = judge.Levenshtein{Threshold: opts.threshold}
	}

	orch := consensus.New(registry, logger, consensus.WithJudge(j))
	return orch.Run(ctx, req)
}

func submitRemote(ctx context.Context, server string, req consensus.Request) (*consensus.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(server, "/") + "/api/v1/consensus"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit to %s: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = resp.Status
		}
		return nil, fmt.Errorf("server rejected request: %s", eb.Error)
	}

	var res consensus.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode server response: %w", err)
	}
	return &res, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
