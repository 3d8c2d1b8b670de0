package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-bodkin/internal/engine"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

var (
	modelDir = flag.String("model", "", "Path to model directory")
	tokens   = flag.String("tokens", "", "Comma-separated prompt token ids")
	topK     = flag.Int("k", 10, "Number of top logits to print")
)

func main() {
	flag.Parse()
	logger.Setup("warn", "console")

	if *modelDir == "" || *tokens == "" {
		fmt.Fprintln(os.Stderr, "Error: --model and --tokens are required")
		flag.Usage()
		os.Exit(1)
	}

	var prompt []int32
	for _, p := range strings.Split(*tokens, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: bad token id %q\n", p)
			os.Exit(1)
		}
		prompt = append(prompt, int32(v))
	}

	cfg, weights, err := engine.LoadModel(*modelDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer weights.Close()

	ctx, err := engine.NewCtx(cfg, weights, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var logits []float32
	for pos, t := range prompt {
		if logits, err = ctx.ForwardDecode(t, int64(pos)); err != nil {
			fmt.Fprintf(os.Stderr, "Error at pos %d: %v\n", pos, err)
			os.Exit(1)
		}
	}

	type scored struct {
		id    int
		logit float32
	}
	ranked := make([]scored, len(logits))
	for i, l := range logits {
		ranked[i] = scored{id: i, logit: l}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].logit > ranked[j].logit })

	k := *topK
	if k > len(ranked) {
		k = len(ranked)
	}
	for i := 0; i < k; i++ {
		fmt.Printf("%2d. token %-8d logit %.4f\n", i+1, ranked[i].id, ranked[i].logit)
	}
}
