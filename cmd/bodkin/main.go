package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bodkin/internal/engine"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

var (
	modelDir    = flag.String("model", "", "Path to model directory (config.json + safetensors)")
	tokens      = flag.String("tokens", "", "Comma-separated prompt token ids")
	numTokens   = flag.Int("n", 20, "Number of tokens to generate")
	maxSeqLen   = flag.Int("max-seq", 0, "KV cache capacity in positions (default: config max)")
	metricsAddr = flag.String("metrics", "", "Address to serve Prometheus metrics (empty: disabled)")
	logLevel    = flag.String("log-level", "info", "Log level: debug/info/warn/error")
	logFormat   = flag.String("log-format", "console", "Log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *modelDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --model flag is required")
		flag.Usage()
		os.Exit(1)
	}

	prompt, err := parseTokens(*tokens)
	if err != nil {
		logger.Log.Error("bad --tokens", "err", err)
		os.Exit(1)
	}
	if len(prompt) == 0 {
		fmt.Fprintln(os.Stderr, "Error: --tokens must list at least one id")
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("metrics serving", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Log.Error("metrics server", "err", err)
			}
		}()
	}

	cfg, weights, err := engine.LoadModel(*modelDir)
	if err != nil {
		logger.Log.Error("load model", "err", err)
		os.Exit(1)
	}
	defer weights.Close()

	ctx, err := engine.NewCtx(cfg, weights, *maxSeqLen)
	if err != nil {
		logger.Log.Error("create context", "err", err)
		os.Exit(1)
	}

	generated, err := ctx.Generate(prompt, *numTokens)
	if err != nil {
		logger.Log.Error("generate", "err", err, "produced", len(generated))
		os.Exit(1)
	}

	out := make([]string, len(generated))
	for i, t := range generated {
		out[i] = strconv.Itoa(int(t))
	}
	fmt.Println(strings.Join(out, ","))
}

func parseTokens(s string) ([]int32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("token id %q: %w", p, err)
		}
		ids = append(ids, int32(v))
	}
	return ids, nil
}
